package escalation

/*
Файл manager.go владеет жизненным циклом Tier-2 решений.

Эскалация — пассивная запись плюс фоновый sweep, а не заблокированная
горутина на каждое ожидание человека: pending может висеть часами, и
стоимость ожидания обязана быть O(1) на запись.

Deny-by-default: отсутствие человеческого решения к SLA-дедлайну —
это всегда отказ (denied_by_timeout), никогда не согласие.
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/connectors"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// SLA-дедлайны по классу риска операции
const (
	DefaultStandardSLA = 4 * time.Hour
	DefaultDeletionSLA = 1 * time.Hour

	DefaultSweepInterval = 30 * time.Second

	sweepBatchSize = 100

	// Идентичность системного резолвера для таймаутов
	timeoutResolver = "system/sla-sweep"
)

// Notifier будит другие инстансы движка о принятом решении
// (Redis pub/sub в проде, nil в тестах)
type Notifier interface {
	PublishResolution(ctx context.Context, esc domain.Escalation) error
}

type Manager struct {
	store   Store
	ldg     *ledger.Ledger
	tickets connectors.TicketSystem
	emitter telemetry.Emitter
	logger  *zap.Logger

	notifier Notifier

	standardSLA   time.Duration
	deletionSLA   time.Duration
	sweepInterval time.Duration

	clock func() time.Time
	newID func() string
}

type Option func(*Manager)

func WithSLA(standard, deletion time.Duration) Option {
	return func(m *Manager) {
		if standard > 0 {
			m.standardSLA = standard
		}
		if deletion > 0 {
			m.deletionSLA = deletion
		}
	}
}

func WithSweepInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.sweepInterval = interval
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithIDGen(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

func NewManager(store Store, ldg *ledger.Ledger, tickets connectors.TicketSystem, emitter telemetry.Emitter, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		ldg:           ldg,
		tickets:       tickets,
		emitter:       emitter,
		logger:        logger.With(zap.String("mod", "escalation")),
		standardSLA:   DefaultStandardSLA,
		deletionSLA:   DefaultDeletionSLA,
		sweepInterval: DefaultSweepInterval,
		clock:         time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateFromDecision заводит pending-эскалацию на Tier-2 решение.
// Отказ тикет-системы НЕ теряет эскалацию: sweep и консоль работают
// по записи в сторе, тикет — вспомогательный канал для людей.
func (m *Manager) CreateFromDecision(ctx context.Context, dec *domain.Decision) (*domain.Escalation, error) {
	if dec.Tier != domain.TierEscalate {
		return nil, fmt.Errorf("decision %s has tier %d, escalation requires tier 2", dec.DecisionID, dec.Tier)
	}

	now := m.clock()
	esc := domain.Escalation{
		EscalationID: m.newID(),
		DecisionID:   dec.DecisionID,
		AgentID:      dec.Request.AgentID,
		Status:       domain.EscalationPending,
		CreatedAt:    now,
		SLADeadline:  now.Add(m.slaFor(dec.SLAClass)),
	}
	if err := m.store.Create(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}

	if ref, err := m.tickets.CreateTicket(ctx, esc.EscalationID, ticketSummary(dec), ticketDetails(dec, esc)); err != nil {
		m.logger.Error("ticket creation failed, escalation remains pending",
			zap.String("escalation_id", esc.EscalationID),
			zap.Error(err))
	} else {
		esc.TicketRef = ref
		if err := m.store.SetTicketRef(ctx, esc.EscalationID, ref); err != nil {
			m.logger.Error("failed to persist ticket ref", zap.String("escalation_id", esc.EscalationID), zap.Error(err))
		}
	}

	m.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventEscalationCreated,
		AgentID:  esc.AgentID,
		Severity: telemetry.SeverityInfo,
		Payload: map[string]interface{}{
			"escalation_id": esc.EscalationID,
			"decision_id":   esc.DecisionID,
			"sla_deadline":  esc.SLADeadline,
			"ticket_ref":    esc.TicketRef,
		},
	})
	m.logger.Info("escalation created",
		zap.String("escalation_id", esc.EscalationID),
		zap.String("decision_id", esc.DecisionID),
		zap.Time("sla_deadline", esc.SLADeadline))
	return &esc, nil
}

// Resolve — человеческое решение по эскалации. Атомарный CAS в сторе:
// при гонке со sweep победит ровно один, второй получит ErrAlreadyResolved.
func (m *Manager) Resolve(ctx context.Context, escalationID string, approved bool, resolver string) (*domain.Escalation, error) {
	if resolver == "" {
		return nil, fmt.Errorf("resolver identity is required")
	}
	next := domain.EscalationDenied
	if approved {
		next = domain.EscalationApproved
	}
	return m.finalize(ctx, escalationID, next, resolver)
}

// Get возвращает эскалацию по идентификатору
func (m *Manager) Get(ctx context.Context, escalationID string) (*domain.Escalation, error) {
	return m.store.Get(ctx, escalationID)
}

// List отдает эскалации для консоли оператора
func (m *Manager) List(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	return m.store.List(ctx, status, limit)
}

// PendingCount — глубина очереди ожидания для метрик
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	pending, err := m.store.List(ctx, domain.EscalationPending, 0)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Run — фоновый цикл: SLA-sweep + опрос внешних тикетов
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	m.logger.Info("escalation sweep started", zap.Duration("interval", m.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("escalation sweep stopped")
			return
		case <-ticker.C:
			m.SweepTimeouts(ctx)
			m.PollTickets(ctx)
		}
	}
}

// SweepTimeouts переводит просроченные pending в TIMED_OUT.
// Проигрыш гонки конкретной записи — штатная ситуация, сweep идет дальше.
func (m *Manager) SweepTimeouts(ctx context.Context) {
	now := m.clock()
	expired, err := m.store.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		m.logger.Error("sweep: failed to list expired escalations", zap.Error(err))
		return
	}
	for _, esc := range expired {
		if _, err := m.finalize(ctx, esc.EscalationID, domain.EscalationTimedOut, timeoutResolver); err != nil {
			if errors.Is(err, domain.ErrAlreadyResolved) {
				continue // Человек успел первым
			}
			m.logger.Error("sweep: failed to time out escalation",
				zap.String("escalation_id", esc.EscalationID), zap.Error(err))
		}
	}
}

// PollTickets опрашивает внешнюю тикет-систему по pending-эскалациям
// и применяет появившиеся решения через тот же CAS-путь
func (m *Manager) PollTickets(ctx context.Context) {
	pending, err := m.store.List(ctx, domain.EscalationPending, sweepBatchSize)
	if err != nil {
		m.logger.Error("poll: failed to list pending escalations", zap.Error(err))
		return
	}
	for _, esc := range pending {
		if esc.TicketRef == "" {
			continue
		}
		status, err := m.tickets.PollStatus(ctx, esc.TicketRef)
		if err != nil {
			m.logger.Warn("poll: ticket status unavailable",
				zap.String("ticket_ref", esc.TicketRef), zap.Error(err))
			continue
		}

		var next domain.EscalationStatus
		switch status {
		case connectors.TicketApproved:
			next = domain.EscalationApproved
		case connectors.TicketDenied:
			next = domain.EscalationDenied
		default:
			continue // Все еще pending
		}
		resolver := "ticket/" + esc.TicketRef
		if _, err := m.finalize(ctx, esc.EscalationID, next, resolver); err != nil && !errors.Is(err, domain.ErrAlreadyResolved) {
			m.logger.Error("poll: failed to apply ticket resolution",
				zap.String("escalation_id", esc.EscalationID), zap.Error(err))
		}
	}
}

// finalize — единственный путь PENDING→terminal: CAS в сторе, затем
// новая запись исхода в леджер и уведомления
func (m *Manager) finalize(ctx context.Context, escalationID string, next domain.EscalationStatus, resolver string) (*domain.Escalation, error) {
	esc, err := m.store.Resolve(ctx, escalationID, next, resolver, m.clock())
	if err != nil {
		return nil, err
	}

	outcome := domain.EscalationOutcome{
		DecisionID:       esc.DecisionID,
		EscalationID:     esc.EscalationID,
		AgentID:          esc.AgentID,
		Outcome:          esc.Outcome(),
		ResolverIdentity: esc.ResolverIdentity,
		ResolvedAt:       *esc.ResolvedAt,
	}
	if _, err := m.ldg.Append(ctx, domain.LedgerRecord{Outcome: &outcome}); err != nil {
		// Эскалация уже терминальна; потеря записи исхода — инцидент
		m.logger.Error("failed to append escalation outcome to ledger",
			zap.String("escalation_id", esc.EscalationID), zap.Error(err))
		return esc, fmt.Errorf("escalation resolved but outcome append failed: %w", err)
	}

	severity := telemetry.SeverityInfo
	if esc.Status == domain.EscalationTimedOut {
		severity = telemetry.SeverityWarning
	}
	m.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventEscalationClosed,
		AgentID:  esc.AgentID,
		Severity: severity,
		Payload: map[string]interface{}{
			"escalation_id": esc.EscalationID,
			"decision_id":   esc.DecisionID,
			"outcome":       outcome.Outcome,
			"resolver":      esc.ResolverIdentity,
		},
	})

	if m.notifier != nil {
		if err := m.notifier.PublishResolution(ctx, *esc); err != nil {
			m.logger.Warn("failed to publish resolution", zap.String("escalation_id", esc.EscalationID), zap.Error(err))
		}
	}

	m.logger.Info("escalation resolved",
		zap.String("escalation_id", esc.EscalationID),
		zap.String("outcome", outcome.Outcome),
		zap.String("resolver", esc.ResolverIdentity))
	return esc, nil
}

// RecordRemoteOutcome дописывает в леджер исход эскалации, разрешенной
// другим процессом (консолью). CAS там уже состоялся — здесь только
// запись цепочки и телеметрия закрытия.
func (m *Manager) RecordRemoteOutcome(ctx context.Context, outcome domain.EscalationOutcome) error {
	if _, err := m.ldg.Append(ctx, domain.LedgerRecord{Outcome: &outcome}); err != nil {
		return fmt.Errorf("record remote outcome: %w", err)
	}
	m.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventEscalationClosed,
		AgentID:  outcome.AgentID,
		Severity: telemetry.SeverityInfo,
		Payload: map[string]interface{}{
			"escalation_id": outcome.EscalationID,
			"decision_id":   outcome.DecisionID,
			"outcome":       outcome.Outcome,
			"resolver":      outcome.ResolverIdentity,
		},
	})
	m.logger.Info("escalation resolved remotely",
		zap.String("escalation_id", outcome.EscalationID),
		zap.String("outcome", outcome.Outcome),
		zap.String("resolver", outcome.ResolverIdentity))
	return nil
}

func (m *Manager) slaFor(class domain.SLAClass) time.Duration {
	if class == domain.SLADeletion {
		return m.deletionSLA
	}
	return m.standardSLA
}

func ticketSummary(dec *domain.Decision) string {
	return fmt.Sprintf("[governance] %s %s by agent %s requires approval",
		dec.Request.Operation, dec.Request.TargetResource, dec.Request.AgentID)
}

func ticketDetails(dec *domain.Decision, esc domain.Escalation) map[string]string {
	return map[string]string{
		"decision_id":   dec.DecisionID,
		"agent_id":      dec.Request.AgentID,
		"namespace":     dec.Request.Namespace,
		"operation":     string(dec.Request.Operation),
		"target":        dec.Request.TargetResource,
		"rationale":     strings.Join(dec.Rationale, ","),
		"justification": dec.Request.Justification,
		"sla_deadline":  esc.SLADeadline.Format(time.RFC3339),
	}
}
