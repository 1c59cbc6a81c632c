package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/improve"
	"go.uber.org/zap"
)

// ProposalStore описывает требования сервиса к хранилищу предложений
type ProposalStore interface {
	SaveProposal(ctx context.Context, p domain.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error)
	ListProposals(ctx context.Context, limit int) ([]domain.Proposal, error)
	SaveReview(ctx context.Context, rec domain.ReviewRecord) error
	ListReviews(ctx context.Context, proposalID string) ([]domain.ReviewRecord, error)
}

// ProposalService — цикл самоулучшения: прием предложений, Pareto-проверка,
// валидация человеческого ревью и отбор портфеля в бюджет.
type ProposalService struct {
	repo      ProposalStore
	validator *improve.Validator
	logger    *zap.Logger
}

func NewProposalService(repo ProposalStore, validator *improve.Validator, logger *zap.Logger) *ProposalService {
	return &ProposalService{
		repo:      repo,
		validator: validator,
		logger:    logger.Named("proposal-service"),
	}
}

// Submit сохраняет предложение и сразу возвращает Pareto-вердикт.
// Несостоятельные предложения тоже сохраняются: отказ с причинами —
// часть истории, агент учится на нем.
func (s *ProposalService) Submit(ctx context.Context, p domain.Proposal) (domain.Proposal, improve.ParetoReport, error) {
	if p.SubmitterAgentID == "" {
		return p, improve.ParetoReport{}, fmt.Errorf("submitter_agent_id is required")
	}
	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = time.Now().UTC()
	}

	report := s.validator.ValidatePareto(p)

	if err := s.repo.SaveProposal(ctx, p); err != nil {
		return p, report, fmt.Errorf("service: save proposal: %w", err)
	}

	s.logger.Info("proposal submitted",
		zap.String("proposal_id", p.ProposalID),
		zap.String("submitter", p.SubmitterAgentID),
		zap.Bool("pareto_ok", report.OK))
	return p, report, nil
}

func (s *ProposalService) Get(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	return s.repo.GetProposal(ctx, proposalID)
}

func (s *ProposalService) List(ctx context.Context, limit int) ([]domain.Proposal, error) {
	return s.repo.ListProposals(ctx, limit)
}

// SubmitReview проверяет свидетельство ревью против ожидаемой глубины
// и сохраняет его. Флаги качества ревью не блокируют запись: и слишком
// быстрое ревью фиксируется, просто с поднятыми issue.
func (s *ProposalService) SubmitReview(ctx context.Context, proposalID string, rec domain.ReviewRecord) (improve.ReviewReport, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return improve.ReviewReport{}, err
	}
	rec.ProposalID = p.ProposalID

	if rec.ReviewEndedAt.Before(rec.ReviewStartedAt) {
		return improve.ReviewReport{}, fmt.Errorf("review_ended_at precedes review_started_at")
	}

	report := s.validator.ValidateReview(*p, rec)

	if err := s.repo.SaveReview(ctx, rec); err != nil {
		return report, fmt.Errorf("service: save review: %w", err)
	}

	if !report.OK {
		s.logger.Warn("review flagged",
			zap.String("proposal_id", p.ProposalID),
			zap.String("reviewer", rec.ReviewerID),
			zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func (s *ProposalService) Reviews(ctx context.Context, proposalID string) ([]domain.ReviewRecord, error) {
	return s.repo.ListReviews(ctx, proposalID)
}

// SelectPortfolio отбирает из последних предложений максимум ценности
// в заданный бюджет внедрения
func (s *ProposalService) SelectPortfolio(ctx context.Context, budgetUSD float64) ([]domain.Proposal, error) {
	proposals, err := s.repo.ListProposals(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("service: load proposals: %w", err)
	}
	return s.validator.SelectWithinBudget(proposals, budgetUSD), nil
}
