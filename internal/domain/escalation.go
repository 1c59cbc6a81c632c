package domain

import "time"

// Статусы State Machine эскалации
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationApproved EscalationStatus = "approved"
	EscalationDenied   EscalationStatus = "denied"
	EscalationTimedOut EscalationStatus = "timed_out"
)

// Escalation отслеживает человеческую проверку решения Tier 2.
// Выход из pending терминален; ResolvedAt заполнен тогда и только тогда,
// когда status != pending.
type Escalation struct {
	EscalationID string           `json:"escalation_id"`
	DecisionID   string           `json:"decision_id"`
	AgentID      string           `json:"agent_id"`
	Status       EscalationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	SLADeadline  time.Time        `json:"sla_deadline"`

	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolverIdentity string     `json:"resolver_identity,omitempty"`

	// Ссылка на тикет во внешней системе (opaque для ядра)
	TicketRef string `json:"ticket_ref,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Гонка «человек vs SLA-sweep» решается на уровне стора (атомарный CAS),
// здесь только валидация формы перехода.
func (e *Escalation) CanTransitionTo(next EscalationStatus) error {
	if e.Status != EscalationPending {
		return ErrAlreadyResolved
	}
	if next == EscalationPending {
		return ErrInvalidTransition
	}
	return nil
}

// Outcome конвертирует терминальный статус в код исхода для леджера
func (e *Escalation) Outcome() string {
	switch e.Status {
	case EscalationApproved:
		return OutcomeApproved
	case EscalationTimedOut:
		return OutcomeDeniedByTimeout
	default:
		return OutcomeDenied
	}
}
