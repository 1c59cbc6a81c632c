package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/budget"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// BudgetThresholdHook связывает бюджетный леджер с breaker'ом и
// телеметрией: каждое пересечение порога уходит событием, 90%+
// дополнительно выключает автоодобрение агента до ревью человеком.
func BudgetThresholdHook(suspend *SuspendManager, emitter telemetry.Emitter, metrics *Metrics, logger *zap.Logger) func(budget.ThresholdEvent) {
	log := logger.With(zap.String("mod", "budget-hook"))
	return func(ev budget.ThresholdEvent) {
		metrics.BudgetUtilization.WithLabelValues(ev.AgentID).Set(ev.UtilizationPct)

		severity := telemetry.SeverityInfo
		if ev.Threshold >= 90 {
			severity = telemetry.SeverityWarning
		}
		emitter.Emit(telemetry.Event{
			Type:     telemetry.EventBudgetThreshold,
			AgentID:  ev.AgentID,
			Severity: severity,
			Payload: map[string]interface{}{
				"threshold":    ev.Threshold,
				"utilization":  ev.UtilizationPct,
				"period_start": ev.PeriodStart,
			},
		})
		log.Warn("budget threshold crossed",
			zap.String("agent_id", ev.AgentID),
			zap.Int("threshold", ev.Threshold),
			zap.Float64("utilization", ev.UtilizationPct))

		if ev.RecommendedBreaker {
			// Suspend идемпотентен: повторное пересечение в периоде не стреляет
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := suspend.Suspend(ctx, ev.AgentID, "budget_breaker_90pct"); err != nil {
				log.Error("failed to suspend agent on budget breaker",
					zap.String("agent_id", ev.AgentID), zap.Error(err))
			}
		}
	}
}

// ResolutionFanout доставляет исходы эскалаций ядру этого же процесса
// и, при наличии Redis, остальным потребителям. Bind разрывает цикл
// инициализации: Manager создается раньше Core.
type ResolutionFanout struct {
	mu     sync.RWMutex
	core   *Core
	remote escalation.Notifier // nil — одноинстансный режим
}

func NewResolutionFanout(remote escalation.Notifier) *ResolutionFanout {
	return &ResolutionFanout{remote: remote}
}

func (f *ResolutionFanout) Bind(core *Core) {
	f.mu.Lock()
	f.core = core
	f.mu.Unlock()
}

func (f *ResolutionFanout) PublishResolution(ctx context.Context, esc domain.Escalation) error {
	f.mu.RLock()
	core := f.core
	f.mu.RUnlock()
	if core != nil {
		// ResolvePending идемпотентен: повтор через Redis-слушателя безвреден
		core.NotifyResolution(esc.DecisionID, esc.Outcome())
	}
	if f.remote != nil {
		return f.remote.PublishResolution(ctx, esc)
	}
	return nil
}

// RedisResolutionNotifier транслирует исходы эскалаций консоли и другим
// инстансам движка (реализация escalation.Notifier)
type RedisResolutionNotifier struct {
	rdb *redis.Client
}

func NewRedisResolutionNotifier(rdb *redis.Client) *RedisResolutionNotifier {
	return &RedisResolutionNotifier{rdb: rdb}
}

func (n *RedisResolutionNotifier) PublishResolution(ctx context.Context, esc domain.Escalation) error {
	sig := infra.ResolutionSignal{
		EscalationID: esc.EscalationID,
		DecisionID:   esc.DecisionID,
		AgentID:      esc.AgentID,
		Outcome:      esc.Outcome(),
		Resolver:     esc.ResolverIdentity,
		Origin:       infra.ResolutionOriginEngine,
	}
	if esc.ResolvedAt != nil {
		sig.ResolvedAt = *esc.ResolvedAt
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, infra.RedisChanEscalationDecisions, payload).Err()
}

// StartResolutionListener обрабатывает резолюции, принятые вне этого
// процесса. Консоль делает CAS в сторе сама, но писать в hash-цепочку
// может только движок — запись исхода для консольных сигналов дописывается
// здесь. Свои исходы (sweep, тикеты) движок уже записал в finalize.
func (c *Core) StartResolutionListener(ctx context.Context, rdb *redis.Client) {
	if rdb == nil {
		return
	}
	log := c.logger.With(zap.String("chan", infra.RedisChanEscalationDecisions))

	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanEscalationDecisions)
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Error("failed to subscribe to resolutions", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Пропущенные в офлайне исходы восстанавливаем полным прогревом
		if err := c.WarmApprovals(ctx); err != nil {
			log.Error("approval warm-up failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				var sig infra.ResolutionSignal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					log.Error("invalid resolution signal", zap.String("payload", msg.Payload))
					continue
				}
				if sig.Origin == infra.ResolutionOriginConsole {
					if err := c.escalations.RecordRemoteOutcome(ctx, domain.EscalationOutcome{
						DecisionID:       sig.DecisionID,
						EscalationID:     sig.EscalationID,
						AgentID:          sig.AgentID,
						Outcome:          sig.Outcome,
						ResolverIdentity: sig.Resolver,
						ResolvedAt:       sig.ResolvedAt,
					}); err != nil {
						log.Error("failed to record console resolution outcome",
							zap.String("escalation_id", sig.EscalationID), zap.Error(err))
					}
				}
				c.NotifyResolution(sig.DecisionID, sig.Outcome)
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}
