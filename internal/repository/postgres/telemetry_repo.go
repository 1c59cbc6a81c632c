package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// TelemetryRepo — postgres-sink экспортера телеметрии.
// Пишет батч одним INSERT с динамическими placeholder'ами: экспортер
// и так копит события, размазывать их по одиночным вставкам незачем.
type TelemetryRepo struct {
	pool *pgxpool.Pool
}

func NewTelemetryRepo(pool *pgxpool.Pool) *TelemetryRepo {
	return &TelemetryRepo{pool: pool}
}

func (r *TelemetryRepo) WriteBatch(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	const numFields = 7
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteByte(',')
		}
		p := i * numFields
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		payload, _ := json.Marshal(e.Payload)
		vals = append(vals, e.ID, e.TraceID, e.Type, e.AgentID, e.Severity, payload, e.Timestamp)
	}

	query := fmt.Sprintf(
		"INSERT INTO telemetry_events (id, trace_id, event_type, agent_id, severity, payload, created_at) VALUES %s",
		sb.String(),
	)

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write telemetry batch: %w", err)
	}
	return nil
}
