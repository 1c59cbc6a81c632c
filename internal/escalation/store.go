package escalation

import (
	"context"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// Store — персистентность эскалаций. Единственная точка, где решается
// гонка «человек против SLA-sweep»: Resolve обязан быть атомарным CAS
// PENDING→terminal, проигравший получает domain.ErrAlreadyResolved.
type Store interface {
	Create(ctx context.Context, esc domain.Escalation) error
	Get(ctx context.Context, escalationID string) (*domain.Escalation, error)

	// List отдает эскалации по статусу ("" — все), новые первыми
	List(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error)

	// ListExpired — pending-эскалации с sla_deadline < now, для sweep
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Escalation, error)

	// Resolve атомарно переводит PENDING в терминальный статус.
	// Возвращает итоговую запись; ErrAlreadyResolved — если статус
	// уже не pending (CAS проигран).
	Resolve(ctx context.Context, escalationID string, next domain.EscalationStatus, resolver string, at time.Time) (*domain.Escalation, error)

	// SetTicketRef привязывает внешний тикет (best-effort, после Create)
	SetTicketRef(ctx context.Context, escalationID, ticketRef string) error
}
