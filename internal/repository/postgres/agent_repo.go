package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// AgentRepo — реестр агентов, источник истины для аттестации namespace
// и per-agent переопределений бюджета.
type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

// GetAgent возвращает nil, nil для незарегистрированного агента:
// для аттестатора это «namespace не подтвержден», не ошибка инфраструктуры
func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, namespace, status, budget_limit_usd, budget_period, last_activity, created_at, updated_at
		FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	return a, nil
}

func (r *AgentRepo) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, namespace, status, budget_limit_usd, budget_period, last_activity, created_at, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// UpdateAgentStatus меняет статус (suspend/resume оператором или breaker)
func (r *AgentRepo) UpdateAgentStatus(ctx context.Context, id string, status string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: update agent status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s not found", id)
	}
	return nil
}

// ListSuspendedIDs — для warmup Redis-кэша приостановленных агентов
func (r *AgentRepo) ListSuspendedIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM agents WHERE status = 'suspended'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list suspended: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AgentRepo) CountSuspended(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = 'suspended'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count suspended: %w", err)
	}
	return n, nil
}

func (r *AgentRepo) TouchActivity(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE agents SET last_activity = NOW() WHERE id = $1`, id)
	return err
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var a domain.Agent
	err := row.Scan(
		&a.ID, &a.Name, &a.Namespace, &a.Status,
		&a.BudgetLimitUSD, &a.BudgetPeriod,
		&a.LastActivity, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
