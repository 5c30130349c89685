package ledger

import (
	"context"
	"fmt"

	"github.com/fateworks/pik/internal/dbx"
	"github.com/fateworks/pik/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, event *models.IdentityEvent) error {
	query := `
		INSERT INTO identity_events (id, root_id, event_type, source_id, payload, changes_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query, event.ID, event.RootID, event.EventType,
		event.SourceID, nullableJSON(event.Payload), nullableJSON(event.ChangesApplied),
		event.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// nullableJSON maps empty raw messages to SQL NULL so JSONB columns do not
// reject empty strings.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *PostgresRepository) Timeline(ctx context.Context, rootID string) ([]models.TimelineEntry, error) {
	query := `
		SELECT e.id, e.root_id, e.event_type, e.source_id, e.payload, e.changes_applied, e.created_at, s.name
		FROM identity_events e
		LEFT JOIN sources s ON s.id = e.source_id
		WHERE e.root_id = $1
		ORDER BY e.created_at DESC, e.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.ID, &e.RootID, &e.EventType, &e.SourceID,
			&e.Payload, &e.ChangesApplied, &e.CreatedAt, &e.SourceName); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Recent(ctx context.Context, rootID string, n int) ([]models.IdentityEvent, error) {
	query := `
		SELECT id, root_id, event_type, source_id, payload, changes_applied, created_at
		FROM identity_events
		WHERE root_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, rootID, n)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.IdentityEvent
	for rows.Next() {
		var e models.IdentityEvent
		if err := rows.Scan(&e.ID, &e.RootID, &e.EventType, &e.SourceID,
			&e.Payload, &e.ChangesApplied, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByType(ctx context.Context, rootID, eventType string) (int64, error) {
	query := `SELECT count(*) FROM identity_events WHERE root_id = $1 AND event_type = $2`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, rootID, eventType).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) TotalCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM identity_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountsByType(ctx context.Context) (map[string]int64, error) {
	query := `SELECT event_type, count(*) FROM identity_events GROUP BY event_type`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[typ] = n
	}
	return out, rows.Err()
}
