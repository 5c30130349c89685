package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fateworks/pik/internal/dbx"
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

func (r *PostgresRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT config_key, config_value FROM app_config`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT config_value FROM app_config WHERE config_key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Update(ctx context.Context, key, value string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE app_config SET config_value = $2 WHERE config_key = $1`, key, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}
