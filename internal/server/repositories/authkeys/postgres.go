package authkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

const keyColumns = `id, root_id, credential_id, public_key, sign_count, device_type, backed_up, transports, friendly_name, status, created_at, last_used_at, revoked_at`

// Transports are persisted as a comma-joined string; none of the WebAuthn
// transport hints contain commas.
func joinTransports(ts []string) string   { return strings.Join(ts, ",") }
func splitTransports(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) CreateKey(ctx context.Context, key *models.AuthKey) error {
	query := `
		INSERT INTO auth_keys (id, root_id, credential_id, public_key, sign_count, device_type, backed_up, transports, friendly_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.RootID, key.CredentialID,
		key.PublicKey, key.SignCount, key.DeviceType, key.BackedUp,
		joinTransports(key.Transports), key.FriendlyName, key.Status, key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanKey(row *sql.Row) (*models.AuthKey, error) {
	k := &models.AuthKey{}
	var transports string
	err := row.Scan(&k.ID, &k.RootID, &k.CredentialID, &k.PublicKey, &k.SignCount,
		&k.DeviceType, &k.BackedUp, &transports, &k.FriendlyName, &k.Status,
		&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	k.Transports = splitTransports(transports)
	return k, nil
}

func (r *PostgresRepository) GetKey(ctx context.Context, id string) (*models.AuthKey, error) {
	query := `SELECT ` + keyColumns + ` FROM auth_keys WHERE id = $1`
	return r.scanKey(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetKeyByCredentialID(ctx context.Context, credentialID string) (*models.AuthKey, error) {
	query := `SELECT ` + keyColumns + ` FROM auth_keys WHERE credential_id = $1`
	return r.scanKey(r.db.QueryRowContext(ctx, query, credentialID))
}

func (r *PostgresRepository) queryKeys(ctx context.Context, query string, args ...any) ([]models.AuthKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.AuthKey
	for rows.Next() {
		var k models.AuthKey
		var transports string
		if err := rows.Scan(&k.ID, &k.RootID, &k.CredentialID, &k.PublicKey,
			&k.SignCount, &k.DeviceType, &k.BackedUp, &transports, &k.FriendlyName,
			&k.Status, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		k.Transports = splitTransports(transports)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error) {
	query := `SELECT ` + keyColumns + ` FROM auth_keys WHERE root_id = $1 ORDER BY created_at DESC`
	return r.queryKeys(ctx, query, rootID)
}

func (r *PostgresRepository) ActiveByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error) {
	query := `SELECT ` + keyColumns + ` FROM auth_keys WHERE root_id = $1 AND status = 'active' ORDER BY created_at DESC`
	return r.queryKeys(ctx, query, rootID)
}

func (r *PostgresRepository) CountActive(ctx context.Context, rootID string) (int, error) {
	var n int
	query := `SELECT count(*) FROM auth_keys WHERE root_id = $1 AND status = 'active'`
	if err := r.db.QueryRowContext(ctx, query, rootID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) UpdateCounter(ctx context.Context, id string, signCount int64, usedAt time.Time) error {
	query := `UPDATE auth_keys SET sign_count = $2, last_used_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, signCount, usedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeKey(ctx context.Context, id string, revokedAt time.Time) error {
	query := `UPDATE auth_keys SET status = 'revoked', revoked_at = $2 WHERE id = $1 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error {
	query := `
		INSERT INTO webauthn_challenges (id, challenge, type, root_id, metadata, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var metadata any
	if len(ch.Metadata) > 0 {
		metadata = ch.Metadata
	}
	_, err := r.db.ExecContext(ctx, query, ch.ID, ch.Challenge, ch.Type, ch.RootID,
		metadata, ch.ExpiresAt, ch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetChallenge(ctx context.Context, challenge string) (*models.WebAuthnChallenge, error) {
	query := `
		SELECT id, challenge, type, root_id, metadata, expires_at, created_at
		FROM webauthn_challenges
		WHERE challenge = $1
	`
	ch := &models.WebAuthnChallenge{}
	err := r.db.QueryRowContext(ctx, query, challenge).
		Scan(&ch.ID, &ch.Challenge, &ch.Type, &ch.RootID, &ch.Metadata, &ch.ExpiresAt, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ch, nil
}

func (r *PostgresRepository) DeleteChallenge(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
