package monitor

/*
Файл monitor.go реализует асинхронный Autonomy Rate Monitor.

Монитор — read-only потребитель ledger: считает долю решений,
принятых без синхронного участия человека (Tier 0 + Tier 1) в
скользящем окне, и поднимает предупреждение оператору при падении
ниже целевого уровня. Монитор НИКОГДА не меняет пороги evaluator'а —
изменение политики идет только через Improvement Validator.
*/

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// DefaultTarget — целевой autonomy rate по умолчанию
const DefaultTarget = 0.80

// Report — результат расчета по окну
type Report struct {
	AgentID     string    `json:"agent_id,omitempty"` // Пусто = флот целиком
	WindowFrom  time.Time `json:"window_from"`
	WindowTo    time.Time `json:"window_to"`
	Total       int       `json:"total_decisions"`
	Autonomous  int       `json:"autonomous_decisions"` // Tier 0 + Tier 1
	Rate        *float64  `json:"rate"`                 // nil при Total == 0
	BelowTarget bool      `json:"below_target"`
}

type Monitor struct {
	ldg     *ledger.Ledger
	target  float64
	emitter telemetry.Emitter
	logger  *zap.Logger
	clock   func() time.Time
}

type Option func(*Monitor)

func WithTarget(target float64) Option {
	return func(m *Monitor) {
		if target > 0 && target <= 1 {
			m.target = target
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

func New(ldg *ledger.Ledger, emitter telemetry.Emitter, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		ldg:     ldg,
		target:  DefaultTarget,
		emitter: emitter,
		logger:  logger.With(zap.String("mod", "monitor")),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rate считает autonomy_rate(agent_id?, window). agentID == "" — весь флот.
// Записи исходов эскалаций (approved/denied/timeout) решениями не являются
// и в расчет не входят.
func (m *Monitor) Rate(ctx context.Context, agentID string, window time.Duration) (Report, error) {
	now := m.clock()
	rep := Report{
		AgentID:    agentID,
		WindowFrom: now.Add(-window),
		WindowTo:   now,
	}

	it := m.ldg.Query(ledger.Filter{
		AgentID: agentID,
		From:    rep.WindowFrom,
		To:      rep.WindowTo,
	})
	for {
		entry, err := it.Next(ctx)
		if err != nil {
			return Report{}, err
		}
		if entry == nil {
			break
		}
		if entry.Record.Decision == nil {
			continue
		}
		rep.Total++
		if entry.Record.Decision.Tier == domain.TierAutoApprove ||
			entry.Record.Decision.Tier == domain.TierAudited {
			rep.Autonomous++
		}
	}

	// Деление на ноль запрещено контрактом: пустое окно — rate неопределен
	if rep.Total == 0 {
		return rep, nil
	}

	rate := float64(rep.Autonomous) / float64(rep.Total)
	rep.Rate = &rate
	rep.BelowTarget = rate < m.target

	if rep.BelowTarget {
		m.logger.Warn("autonomy rate below target",
			zap.Float64("rate", rate),
			zap.Float64("target", m.target),
			zap.String("agent_id", agentID),
			zap.Int("total", rep.Total))
		m.emitter.Emit(telemetry.Event{
			Type:     telemetry.EventAutonomyBelowTarget,
			AgentID:  agentID,
			Severity: telemetry.SeverityWarning,
			Payload: map[string]interface{}{
				"rate":   rate,
				"target": m.target,
				"window": window.String(),
				"total":  rep.Total,
			},
		})
	}
	return rep, nil
}

// Run — фоновый цикл периодического пересчета флотового rate.
// Останавливается по ctx; сигнал оператору уходит изнутри Rate.
func (m *Monitor) Run(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("autonomy monitor started",
		zap.Duration("interval", interval),
		zap.Duration("window", window),
		zap.Float64("target", m.target))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("autonomy monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.Rate(ctx, "", window); err != nil {
				m.logger.Error("autonomy rate sweep failed", zap.Error(err))
			}
		}
	}
}
