package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/monitor"
	"go.uber.org/zap"
)

// DecisionStatsProvider — агрегаты по леджеру решений
type DecisionStatsProvider interface {
	DecisionStats(ctx context.Context) (int64, map[string]int64, error)
}

// SuspendedCounter — счетчик приостановленных агентов
type SuspendedCounter interface {
	CountSuspended(ctx context.Context) (int, error)
}

// StatsService собирает сводку для дашборда оператора
type StatsService struct {
	decisions   DecisionStatsProvider
	escalations escalation.Store
	agents      SuspendedCounter
	monitor     *monitor.Monitor
	window      time.Duration
	logger      *zap.Logger
}

func NewStatsService(decisions DecisionStatsProvider, escalations escalation.Store, agents SuspendedCounter, mon *monitor.Monitor, window time.Duration, logger *zap.Logger) *StatsService {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &StatsService{
		decisions:   decisions,
		escalations: escalations,
		agents:      agents,
		monitor:     mon,
		window:      window,
		logger:      logger.Named("stats-service"),
	}
}

func (s *StatsService) GovernanceStats(ctx context.Context) (*domain.GovernanceStats, error) {
	total, byTier, err := s.decisions.DecisionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: decisions: %w", err)
	}

	pending, err := s.escalations.List(ctx, domain.EscalationPending, 0)
	if err != nil {
		return nil, fmt.Errorf("stats: escalations: %w", err)
	}

	suspended, err := s.agents.CountSuspended(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: suspended agents: %w", err)
	}

	// Autonomy rate считаем по окну, а не по всей истории: дашборд
	// отвечает на вопрос «как система ведет себя сейчас»
	report, err := s.monitor.Rate(ctx, "", s.window)
	if err != nil {
		return nil, fmt.Errorf("stats: autonomy rate: %w", err)
	}

	return &domain.GovernanceStats{
		TotalDecisions:     total,
		DecisionsByTier:    byTier,
		PendingEscalations: len(pending),
		AutonomyRate:       report.Rate,
		SuspendedAgents:    suspended,
	}, nil
}

// AutonomyReport — детальный отчет по автономии (опционально по агенту)
func (s *StatsService) AutonomyReport(ctx context.Context, agentID string, window time.Duration) (monitor.Report, error) {
	if window <= 0 {
		window = s.window
	}
	return s.monitor.Rate(ctx, agentID, window)
}
