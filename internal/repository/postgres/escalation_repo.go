package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// EscalationRepo — персистентность очереди Human-in-the-loop.
// Гонка «человек против SLA-sweep» решается одиночным CAS-UPDATE с
// предикатом status = 'pending': проигравший не находит строку и
// получает ErrAlreadyResolved.
type EscalationRepo struct {
	pool *pgxpool.Pool
}

func NewEscalationRepo(pool *pgxpool.Pool) *EscalationRepo {
	return &EscalationRepo{pool: pool}
}

func (r *EscalationRepo) Create(ctx context.Context, esc domain.Escalation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalations (id, decision_id, agent_id, status, created_at, sla_deadline)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		esc.EscalationID, esc.DecisionID, esc.AgentID, esc.Status, esc.CreatedAt, esc.SLADeadline,
	)
	if err != nil {
		return fmt.Errorf("postgres: create escalation: %w", err)
	}
	return nil
}

func (r *EscalationRepo) Get(ctx context.Context, escalationID string) (*domain.Escalation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, decision_id, agent_id, status, created_at, sla_deadline, resolved_at, resolver_identity, ticket_ref
		FROM escalations WHERE id = $1`, escalationID)

	esc, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEscalationNotFound
		}
		return nil, fmt.Errorf("postgres: get escalation: %w", err)
	}
	return esc, nil
}

func (r *EscalationRepo) List(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	query := `
		SELECT id, decision_id, agent_id, status, created_at, sla_deadline, resolved_at, resolver_identity, ticket_ref
		FROM escalations`
	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 { // limit <= 0 — без ограничения
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.scanEscalations(ctx, query, args...)
}

func (r *EscalationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Escalation, error) {
	return r.scanEscalations(ctx, `
		SELECT id, decision_id, agent_id, status, created_at, sla_deadline, resolved_at, resolver_identity, ticket_ref
		FROM escalations
		WHERE status = 'pending' AND sla_deadline < $1
		ORDER BY sla_deadline ASC
		LIMIT $2`, now, limit)
}

// Resolve — атомарный переход pending → терминальный статус.
// Предикат status = 'pending' в UPDATE и есть весь CAS: ровно одна
// конкурентная резолюция увидит затронутую строку.
func (r *EscalationRepo) Resolve(ctx context.Context, escalationID string, next domain.EscalationStatus, resolver string, at time.Time) (*domain.Escalation, error) {
	if next == domain.EscalationPending {
		return nil, domain.ErrInvalidTransition
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE escalations
		SET status = $1, resolved_at = $2, resolver_identity = $3
		WHERE id = $4 AND status = 'pending'
		RETURNING id, decision_id, agent_id, status, created_at, sla_deadline, resolved_at, resolver_identity, ticket_ref`,
		next, at, resolver, escalationID,
	)

	esc, err := scanEscalation(row)
	if err == nil {
		return esc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: resolve escalation: %w", err)
	}

	// Строка не затронута: либо эскалации нет, либо CAS проигран
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM escalations WHERE id = $1)`, escalationID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: resolve escalation: %w", err)
	}
	if !exists {
		return nil, domain.ErrEscalationNotFound
	}
	return nil, domain.ErrAlreadyResolved
}

func (r *EscalationRepo) SetTicketRef(ctx context.Context, escalationID, ticketRef string) error {
	_, err := r.pool.Exec(ctx, `UPDATE escalations SET ticket_ref = $1 WHERE id = $2`, ticketRef, escalationID)
	if err != nil {
		return fmt.Errorf("postgres: set ticket ref: %w", err)
	}
	return nil
}

func (r *EscalationRepo) scanEscalations(ctx context.Context, query string, args ...interface{}) ([]domain.Escalation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query escalations: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Escalation, 0)
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan escalation: %w", err)
		}
		results = append(results, *esc)
	}
	return results, rows.Err()
}

func scanEscalation(row pgx.Row) (*domain.Escalation, error) {
	var esc domain.Escalation
	var resolvedAt sql.NullTime
	var resolver, ticketRef sql.NullString

	err := row.Scan(
		&esc.EscalationID, &esc.DecisionID, &esc.AgentID, &esc.Status,
		&esc.CreatedAt, &esc.SLADeadline, &resolvedAt, &resolver, &ticketRef,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		esc.ResolvedAt = &t
	}
	if resolver.Valid {
		esc.ResolverIdentity = resolver.String
	}
	if ticketRef.Valid {
		esc.TicketRef = ticketRef.String
	}
	return &esc, nil
}
