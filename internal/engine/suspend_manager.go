package engine

/*
Файл suspend_manager.go — circuit breaker автоодобрения.

Приостановка агента выставляется двумя путями: автоматически при
пересечении 90% бюджета и вручную оператором из консоли. Снимается
ТОЛЬКО человеком. Состояние живет в двух слоях: L1 — локальная мапа
(проверка на Hot Path без сети), L2 — Redis set, общий для всех
инстансов; синхронизация через pub/sub сигналы.
*/

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

type SuspendManager struct {
	mu        sync.RWMutex
	suspended map[string]struct{}

	rdb     *redis.Client
	emitter telemetry.Emitter
	logger  *zap.Logger
}

func NewSuspendManager(rdb *redis.Client, emitter telemetry.Emitter, logger *zap.Logger) *SuspendManager {
	return &SuspendManager{
		suspended: make(map[string]struct{}),
		rdb:       rdb,
		emitter:   emitter,
		logger:    logger.With(zap.String("mod", "suspend")),
	}
}

// Init прогревает L1 из Redis при старте инстанса
func (m *SuspendManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil // Одноинстансный режим без Redis
	}
	agents, err := m.rdb.SMembers(ctx, infra.RedisKeySuspendedAgents).Result()
	if err != nil {
		return fmt.Errorf("suspend warm-up failed: %w", err)
	}
	m.ReplaceLocal(agents)
	m.logger.Info("suspend state warmed up", zap.Int("agents", len(agents)))
	return nil
}

// IsSuspended — проверка на Hot Path, только локальная мапа
func (m *SuspendManager) IsSuspended(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.suspended[agentID]
	return ok
}

// Suspend выключает автоодобрение агента до ревью человеком
func (m *SuspendManager) Suspend(ctx context.Context, agentID, reason string) error {
	m.mu.Lock()
	m.suspended[agentID] = struct{}{}
	m.mu.Unlock()

	if m.rdb != nil {
		if err := m.rdb.SAdd(ctx, infra.RedisKeySuspendedAgents, agentID).Err(); err != nil {
			return fmt.Errorf("failed to persist suspension: %w", err)
		}
		// Будим остальные инстансы
		payload := agentID + ":on"
		if err := m.rdb.Publish(ctx, infra.RedisChanSuspendSignal, payload).Err(); err != nil {
			m.logger.Error("failed to publish suspend signal", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	m.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventAgentSuspended,
		AgentID:  agentID,
		Severity: telemetry.SeverityCritical,
		Payload:  map[string]interface{}{"reason": reason},
	})
	m.logger.Warn("agent auto-approval suspended",
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
	return nil
}

// Resume снимает приостановку. Вызывается только из консоли оператора —
// автоматического самовосстановления у breaker'а нет.
func (m *SuspendManager) Resume(ctx context.Context, agentID string) error {
	m.mu.Lock()
	delete(m.suspended, agentID)
	m.mu.Unlock()

	if m.rdb != nil {
		if err := m.rdb.SRem(ctx, infra.RedisKeySuspendedAgents, agentID).Err(); err != nil {
			return fmt.Errorf("failed to clear suspension: %w", err)
		}
		if err := m.rdb.Publish(ctx, infra.RedisChanSuspendSignal, agentID+":off").Err(); err != nil {
			m.logger.Error("failed to publish resume signal", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	m.logger.Info("agent auto-approval resumed", zap.String("agent_id", agentID))
	return nil
}

// StartListener держит L1 в синхроне с сигналами других инстансов
func (m *SuspendManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanSuspendSignal,
		func() error { return m.Init(ctx) },
		func(agentID string, on bool) {
			m.mu.Lock()
			if on {
				m.suspended[agentID] = struct{}{}
			} else {
				delete(m.suspended, agentID)
			}
			m.mu.Unlock()
			m.logger.Info("suspend signal applied",
				zap.String("agent_id", agentID), zap.Bool("suspended", on))
		})
}

// ReplaceLocal целиком заменяет L1 (warm-up из БД или Redis)
func (m *SuspendManager) ReplaceLocal(agents []string) {
	next := make(map[string]struct{}, len(agents))
	for _, id := range agents {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.suspended = next
	m.mu.Unlock()
}
