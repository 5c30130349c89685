package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

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

func (r *PostgresRepository) Create(ctx context.Context, source *models.Source) error {
	query := `
		INSERT INTO sources (id, name, status, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, source.ID, source.Name, source.Status,
		source.APIKeyHash, source.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanSource(row *sql.Row) (*models.Source, error) {
	s := &models.Source{}
	err := row.Scan(&s.ID, &s.Name, &s.Status, &s.APIKeyHash, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Source, error) {
	query := `SELECT id, name, status, api_key_hash, created_at FROM sources WHERE id = $1`
	return r.scanSource(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Source, error) {
	query := `SELECT id, name, status, api_key_hash, created_at FROM sources ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &s.APIKeyHash, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateKeyHash(ctx context.Context, id, keyHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sources SET api_key_hash = $2 WHERE id = $1`, id, keyHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sources SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) FindActiveByKeyHash(ctx context.Context, keyHash string) (*models.Source, error) {
	query := `SELECT id, name, status, api_key_hash, created_at FROM sources WHERE api_key_hash = $1 AND status = 'active'`
	return r.scanSource(r.db.QueryRowContext(ctx, query, keyHash))
}

func (r *PostgresRepository) CreateLink(ctx context.Context, link *models.SourceLink) error {
	query := `
		INSERT INTO source_links (id, root_id, source_id, scope, status, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query, link.ID, link.RootID, link.SourceID,
		link.Scope, link.Status, link.GrantedBy, link.GrantedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const linkColumns = `id, root_id, source_id, scope, status, granted_by, granted_at, revoked_at, revoked_by`

func (r *PostgresRepository) scanLink(row *sql.Row) (*models.SourceLink, error) {
	l := &models.SourceLink{}
	err := row.Scan(&l.ID, &l.RootID, &l.SourceID, &l.Scope, &l.Status,
		&l.GrantedBy, &l.GrantedAt, &l.RevokedAt, &l.RevokedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) GetLink(ctx context.Context, id string) (*models.SourceLink, error) {
	query := `SELECT ` + linkColumns + ` FROM source_links WHERE id = $1`
	return r.scanLink(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ListLinksByRoot(ctx context.Context, rootID string) ([]models.SourceLink, error) {
	query := `SELECT ` + linkColumns + ` FROM source_links WHERE root_id = $1 ORDER BY granted_at DESC`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.SourceLink
	for rows.Next() {
		var l models.SourceLink
		if err := rows.Scan(&l.ID, &l.RootID, &l.SourceID, &l.Scope, &l.Status,
			&l.GrantedBy, &l.GrantedAt, &l.RevokedAt, &l.RevokedBy); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ActiveLink(ctx context.Context, rootID, sourceID string) (*models.SourceLink, error) {
	query := `SELECT ` + linkColumns + ` FROM source_links WHERE root_id = $1 AND source_id = $2 AND status = 'active'`
	return r.scanLink(r.db.QueryRowContext(ctx, query, rootID, sourceID))
}

func (r *PostgresRepository) RevokeLink(ctx context.Context, id string, revokedAt time.Time, revokedBy *string) error {
	query := `UPDATE source_links SET status = 'revoked', revoked_at = $2, revoked_by = $3 WHERE id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt, revokedBy)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}
