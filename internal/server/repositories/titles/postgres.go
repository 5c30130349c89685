package titles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fateworks/pik/internal/dbx"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/shared"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	query := `SELECT id, name, description FROM titles WHERE id = $1`
	t := &models.Title{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) HeldTitles(ctx context.Context, rootID string) ([]models.HeldTitle, error) {
	query := `
		SELECT t.id, t.name, t.description, ut.granted_at
		FROM user_titles ut
		JOIN titles t ON t.id = ut.title_id
		WHERE ut.root_id = $1
		ORDER BY ut.granted_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.HeldTitle
	for rows.Next() {
		var h models.HeldTitle
		if err := rows.Scan(&h.ID, &h.Name, &h.Description, &h.GrantedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// InsertUserTitle reports the duplicate via DO NOTHING instead of a unique
// violation so that callers inside a transaction can continue issuing
// statements after an "already held" outcome.
func (r *PostgresRepository) InsertUserTitle(ctx context.Context, ut *models.UserTitle) error {
	query := `
		INSERT INTO user_titles (root_id, title_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (root_id, title_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, ut.RootID, ut.TitleID, ut.GrantedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (r *PostgresRepository) HasTitle(ctx context.Context, rootID, titleID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM user_titles WHERE root_id = $1 AND title_id = $2)`
	var held bool
	if err := r.db.QueryRowContext(ctx, query, rootID, titleID).Scan(&held); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return held, nil
}

func (r *PostgresRepository) InsertMarker(ctx context.Context, marker *models.FateMarker) error {
	query := `
		INSERT INTO fate_markers (id, root_id, source_id, marker, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, marker.ID, marker.RootID,
		marker.SourceID, marker.Marker, marker.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkersByRoot(ctx context.Context, rootID string) ([]models.FateMarker, error) {
	query := `
		SELECT id, root_id, source_id, marker, created_at
		FROM fate_markers
		WHERE root_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.FateMarker
	for rows.Next() {
		var m models.FateMarker
		if err := rows.Scan(&m.ID, &m.RootID, &m.SourceID, &m.Marker, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
