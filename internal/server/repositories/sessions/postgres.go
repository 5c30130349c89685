package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, token *models.SessionToken) error {
	query := `
		INSERT INTO session_tokens (id, token_hash, root_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, token.ID, token.TokenHash,
		token.RootID, token.ExpiresAt, token.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, tokenHash string) (*models.SessionToken, error) {
	query := `
		SELECT id, token_hash, root_id, expires_at, created_at
		FROM session_tokens
		WHERE token_hash = $1
	`
	t := &models.SessionToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&t.ID, &t.TokenHash, &t.RootID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
