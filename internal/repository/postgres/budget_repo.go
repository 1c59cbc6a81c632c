package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// BudgetRepo сохраняет снапшоты бюджетных счетчиков для переживания
// рестартов. Учет первичен в памяти (budget.Ledger); здесь — best-effort
// upsert после каждого списания и холодная загрузка при старте.
type BudgetRepo struct {
	pool *pgxpool.Pool
}

func NewBudgetRepo(pool *pgxpool.Pool) *BudgetRepo {
	return &BudgetRepo{pool: pool}
}

func (r *BudgetRepo) SaveBudget(ctx context.Context, state domain.BudgetState) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO budget_states (agent_id, period, limit_usd, consumed_usd, period_start)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE
		SET period = EXCLUDED.period,
		    limit_usd = EXCLUDED.limit_usd,
		    consumed_usd = EXCLUDED.consumed_usd,
		    period_start = EXCLUDED.period_start`,
		state.AgentID, state.Period, state.LimitUSD, state.ConsumedUSD, state.PeriodStart,
	)
	if err != nil {
		return fmt.Errorf("postgres: save budget %s: %w", state.AgentID, err)
	}
	return nil
}

// LoadAll отдает все сохраненные состояния для budget.Ledger.Restore.
// Протухшие периоды не фильтруем: ledger сам делает rollover на границе.
func (r *BudgetRepo) LoadAll(ctx context.Context) ([]domain.BudgetState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, period, limit_usd, consumed_usd, period_start
		FROM budget_states`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load budgets: %w", err)
	}
	defer rows.Close()

	results := make([]domain.BudgetState, 0)
	for rows.Next() {
		var s domain.BudgetState
		if err := rows.Scan(&s.AgentID, &s.Period, &s.LimitUSD, &s.ConsumedUSD, &s.PeriodStart); err != nil {
			return nil, fmt.Errorf("postgres: scan budget state: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
