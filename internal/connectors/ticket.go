package connectors

import "context"

// TicketStatus — трехзначный статус внешней системы согласования.
// Ядро не знает схему конкретного вендора глубже этих трех значений.
type TicketStatus string

const (
	TicketPending  TicketStatus = "pending"
	TicketApproved TicketStatus = "approved"
	TicketDenied   TicketStatus = "denied"
)

// TicketSystem — контракт внешней тикет-системы для HITL-согласования.
// Для ядра это непрозрачный внешний актор: ссылка на тикет opaque.
type TicketSystem interface {
	// CreateTicket заводит тикет на эскалацию и возвращает ссылку
	CreateTicket(ctx context.Context, escalationID, summary string, details map[string]string) (string, error)

	// PollStatus опрашивает текущее состояние тикета
	PollStatus(ctx context.Context, ticketRef string) (TicketStatus, error)
}
