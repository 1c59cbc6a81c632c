package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// ProposalRepo хранит предложения улучшений и свидетельства их ревью.
// Метрики по сторонам лежат в JSONB как есть: движку важна семантика
// Pareto-проверки, а не реляционная форма дельт.
type ProposalRepo struct {
	pool *pgxpool.Pool
}

func NewProposalRepo(pool *pgxpool.Pool) *ProposalRepo {
	return &ProposalRepo{pool: pool}
}

func (r *ProposalRepo) SaveProposal(ctx context.Context, p domain.Proposal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proposals (id, submitter_agent_id, metrics, implementation_cost_usd, complexity_score, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ProposalID, p.SubmitterAgentID, p.Metrics, p.ImplementationCostUSD, p.ComplexityScore, p.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save proposal: %w", err)
	}
	return nil
}

func (r *ProposalRepo) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, submitter_agent_id, metrics, implementation_cost_usd, complexity_score, submitted_at
		FROM proposals WHERE id = $1`, proposalID)

	var p domain.Proposal
	err := row.Scan(&p.ProposalID, &p.SubmitterAgentID, &p.Metrics, &p.ImplementationCostUSD, &p.ComplexityScore, &p.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, fmt.Errorf("postgres: get proposal: %w", err)
	}
	return &p, nil
}

func (r *ProposalRepo) ListProposals(ctx context.Context, limit int) ([]domain.Proposal, error) {
	query := `
		SELECT id, submitter_agent_id, metrics, implementation_cost_usd, complexity_score, submitted_at
		FROM proposals ORDER BY submitted_at DESC`
	var args []interface{}
	if limit > 0 { // limit <= 0 — без ограничения
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Proposal, 0)
	for rows.Next() {
		var p domain.Proposal
		if err := rows.Scan(&p.ProposalID, &p.SubmitterAgentID, &p.Metrics, &p.ImplementationCostUSD, &p.ComplexityScore, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (r *ProposalRepo) SaveReview(ctx context.Context, rec domain.ReviewRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proposal_reviews (proposal_id, reviewer_id, review_started_at, review_ended_at,
			questions_asked, documents_reviewed, comment_length_chars, concerns_raised, decision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ProposalID, rec.ReviewerID, rec.ReviewStartedAt, rec.ReviewEndedAt,
		rec.QuestionsAsked, rec.DocumentsReviewed, rec.CommentLengthChars, rec.ConcernsRaised, rec.Decision,
	)
	if err != nil {
		return fmt.Errorf("postgres: save review: %w", err)
	}
	return nil
}

func (r *ProposalRepo) ListReviews(ctx context.Context, proposalID string) ([]domain.ReviewRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT proposal_id, reviewer_id, review_started_at, review_ended_at,
		       questions_asked, documents_reviewed, comment_length_chars, concerns_raised, decision
		FROM proposal_reviews WHERE proposal_id = $1 ORDER BY review_ended_at DESC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reviews: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ReviewRecord, 0)
	for rows.Next() {
		var rec domain.ReviewRecord
		err := rows.Scan(&rec.ProposalID, &rec.ReviewerID, &rec.ReviewStartedAt, &rec.ReviewEndedAt,
			&rec.QuestionsAsked, &rec.DocumentsReviewed, &rec.CommentLengthChars, &rec.ConcernsRaised, &rec.Decision)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan review: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
