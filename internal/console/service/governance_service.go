package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/infra"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
	"go.uber.org/zap"
)

// AgentRegistry описывает требования сервиса к реестру агентов
type AgentRegistry interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status string) error
}

// GovernanceService — операторские действия консоли: suspend/resume
// агентов и решения по эскалациям. Embedding BaseValidator дает сервису
// роль TokenValidator для auth.Middleware.
type GovernanceService struct {
	*auth.BaseValidator
	agents AgentRegistry
	store  escalation.Store
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewGovernanceService(agents AgentRegistry, store escalation.Store, rdb *redis.Client, validator *auth.BaseValidator, logger *zap.Logger) *GovernanceService {
	return &GovernanceService{
		BaseValidator: validator,
		agents:        agents,
		store:         store,
		rdb:           rdb,
		logger:        logger.Named("governance-service"),
		now:           time.Now,
	}
}

// updateAgentState — унифицированный механизм переключения состояний.
// Обновляет БД и транслирует сигнал движку через Redis.
func (s *GovernanceService) updateAgentState(ctx context.Context, agentID string, status domain.AgentStatus, signalValue, actionName string) error {
	// 1. Persistence Layer
	if err := s.agents.UpdateAgentStatus(ctx, agentID, string(status)); err != nil {
		s.logger.Error("failed to update agent status in DB",
			zap.String("agent_id", agentID),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", actionName, err)
	}

	// 2. Real-time Signaling
	payload := fmt.Sprintf("%s:%s", agentID, signalValue)
	if err := s.rdb.Publish(ctx, infra.RedisChanSuspendSignal, payload).Err(); err != nil {
		// Движок подхватит состояние при следующем прогреве из БД
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.Error(err))
	} else {
		s.logger.Info("agent state updated successfully",
			zap.String("agent_id", agentID),
			zap.String("action", actionName),
			zap.String("new_status", string(status)))
	}

	return nil
}

// SuspendAgent — ручная приостановка автоодобрения (все запросы агента
// уходят в Tier 2 до resume)
func (s *GovernanceService) SuspendAgent(ctx context.Context, id string) error {
	return s.updateAgentState(ctx, id, domain.AgentSuspended, "on", "suspend")
}

// ResumeAgent — снятие блокировки. Доступно только человеку: движок
// сам никогда не снимает suspend.
func (s *GovernanceService) ResumeAgent(ctx context.Context, id string) error {
	return s.updateAgentState(ctx, id, domain.AgentActive, "off", "resume")
}

func (s *GovernanceService) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		s.logger.Error("failed to fetch agent details", zap.String("id", agentID), zap.Error(err))
		return nil, err
	}
	return agent, nil
}

func (s *GovernanceService) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}

	// Фронтенд должен получить пустой массив [], а не null
	if agents == nil {
		return []*domain.Agent{}, nil
	}
	return agents, nil
}

func (s *GovernanceService) GetEscalation(ctx context.Context, id string) (*domain.Escalation, error) {
	return s.store.Get(ctx, id)
}

func (s *GovernanceService) ListEscalations(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	list, err := s.store.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("service: could not fetch escalations: %w", err)
	}
	return list, nil
}

// DecideEscalation фиксирует решение оператора. CAS в сторе гарантирует
// эксклюзивность против SLA-sweep движка; запись исхода в hash-цепочку
// делает движок по сигналу из Redis (консоль в леджер не пишет).
func (s *GovernanceService) DecideEscalation(ctx context.Context, escalationID string, approved bool, reviewerID string) (*domain.Escalation, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewer identity is required")
	}

	next := domain.EscalationDenied
	if approved {
		next = domain.EscalationApproved
	}

	// 1. Атомарно обновляем БД (проигравший CAS получает ErrAlreadyResolved)
	esc, err := s.store.Resolve(ctx, escalationID, next, "operator/"+reviewerID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	// 2. Публикуем сигнал движку: запись исхода в леджер + пробуждение
	// счетчиков prior approvals
	sig := infra.ResolutionSignal{
		EscalationID: esc.EscalationID,
		DecisionID:   esc.DecisionID,
		AgentID:      esc.AgentID,
		Outcome:      esc.Outcome(),
		Resolver:     esc.ResolverIdentity,
		ResolvedAt:   *esc.ResolvedAt,
		Origin:       infra.ResolutionOriginConsole,
	}
	payload, _ := json.Marshal(sig)
	if err := s.rdb.Publish(ctx, infra.RedisChanEscalationDecisions, payload).Err(); err != nil {
		// Решение сохранено, но исход не дойдет до леджера — инцидент
		s.logger.Error("critical: decision saved but signal not delivered",
			zap.String("escalation_id", esc.EscalationID),
			zap.Error(err))
		return esc, fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("escalation decision processed",
		zap.String("escalation_id", esc.EscalationID),
		zap.String("reviewer", reviewerID),
		zap.String("outcome", sig.Outcome))
	return esc, nil
}
