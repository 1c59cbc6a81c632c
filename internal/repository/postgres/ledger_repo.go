package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
)

// LedgerRepo хранит записи hash-цепочки в таблице ledger_entries.
// Колонки agent_id / tier / event_ts денормализованы из record (JSONB)
// ради индексируемых выборок query(agent_id?, tier?, time_range?).
// Порядок и защита от гонок — ответственность ledger.Ledger (writer-лок),
// стор только пишет и читает.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func (r *LedgerRepo) Append(ctx context.Context, entry domain.LedgerEntry) error {
	var tier *int16
	if entry.Record.Decision != nil {
		t := int16(entry.Record.Decision.Tier)
		tier = &t
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO ledger_entries (sequence_number, agent_id, tier, event_ts, record, prev_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.SequenceNumber,
		entry.Record.AgentID(),
		tier,
		entry.Record.Timestamp(),
		entry.Record,
		entry.PrevHash,
		entry.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: append ledger entry %d: %w", entry.SequenceNumber, err)
	}
	return nil
}

func (r *LedgerRepo) Tail(ctx context.Context) (*domain.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT sequence_number, record, prev_hash, entry_hash
		FROM ledger_entries
		ORDER BY sequence_number DESC
		LIMIT 1`)

	var e domain.LedgerEntry
	err := row.Scan(&e.SequenceNumber, &e.Record, &e.PrevHash, &e.EntryHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Пустой леджер — не ошибка
		}
		return nil, fmt.Errorf("postgres: read ledger tail: %w", err)
	}
	return &e, nil
}

func (r *LedgerRepo) List(ctx context.Context, f ledger.Filter, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT sequence_number, record, prev_hash, entry_hash
		FROM ledger_entries
		WHERE sequence_number > $1`
	args := []interface{}{afterSeq}

	if f.AgentID != "" {
		args = append(args, f.AgentID)
		query += " AND agent_id = $" + strconv.Itoa(len(args))
	}
	if f.Tier != nil {
		args = append(args, int16(*f.Tier))
		query += " AND tier = $" + strconv.Itoa(len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += " AND event_ts >= $" + strconv.Itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += " AND event_ts <= $" + strconv.Itoa(len(args))
	}

	args = append(args, limit)
	query += " ORDER BY sequence_number ASC LIMIT $" + strconv.Itoa(len(args))

	return r.scanEntries(ctx, query, args...)
}

func (r *LedgerRepo) Range(ctx context.Context, from, to uint64) ([]domain.LedgerEntry, error) {
	return r.scanEntries(ctx, `
		SELECT sequence_number, record, prev_hash, entry_hash
		FROM ledger_entries
		WHERE sequence_number >= $1 AND sequence_number <= $2
		ORDER BY sequence_number ASC`, from, to)
}

// DecisionStats — агрегат для дашборда консоли: всего решений и разбивка
// по tier (outcome-записи с tier IS NULL в разбивку не попадают)
func (r *LedgerRepo) DecisionStats(ctx context.Context) (int64, map[string]int64, error) {
	var total, t0, t1, t2, t3 int64

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE tier IS NOT NULL),
			COUNT(*) FILTER (WHERE tier = 0),
			COUNT(*) FILTER (WHERE tier = 1),
			COUNT(*) FILTER (WHERE tier = 2),
			COUNT(*) FILTER (WHERE tier = 3)
		FROM ledger_entries`).Scan(&total, &t0, &t1, &t2, &t3)
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: decision stats: %w", err)
	}
	return total, map[string]int64{"0": t0, "1": t1, "2": t2, "3": t3}, nil
}

func (r *LedgerRepo) scanEntries(ctx context.Context, query string, args ...interface{}) ([]domain.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query ledger: %w", err)
	}
	defer rows.Close()

	results := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.SequenceNumber, &e.Record, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
