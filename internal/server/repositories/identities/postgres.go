package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fateworks/pik/internal/dbx"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/shared"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const identityColumns = `id, hero_name, fate_alignment, origin, fate_xp, fate_level, status, enrolled_by, enrolled_at, equipped_title_id`

func scanIdentity(row *sql.Row) (*models.RootIdentity, error) {
	ident := &models.RootIdentity{}
	err := row.Scan(&ident.ID, &ident.HeroName, &ident.FateAlignment, &ident.Origin,
		&ident.FateXP, &ident.FateLevel, &ident.Status, &ident.EnrolledBy,
		&ident.EnrolledAt, &ident.EquippedTitleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ident, nil
}

func (r *PostgresRepository) Create(ctx context.Context, identity *models.RootIdentity) error {
	query := `
		INSERT INTO root_identities (id, hero_name, fate_alignment, origin, fate_xp, fate_level, status, enrolled_by, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.ExecContext(ctx, query, identity.ID, identity.HeroName,
		identity.FateAlignment, identity.Origin, identity.FateXP, identity.FateLevel,
		identity.Status, identity.EnrolledBy, identity.EnrolledAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.RootIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM root_identities WHERE id = $1`
	return scanIdentity(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.RootIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM root_identities WHERE id = $1 FOR UPDATE`
	return scanIdentity(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.IdentitySummary, error) {
	query := `
		SELECT ` + identityColumns + `,
		       (SELECT count(*) FROM source_links l WHERE l.root_id = root_identities.id AND l.status = 'active') AS active_sources
		FROM root_identities
		ORDER BY enrolled_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.IdentitySummary
	for rows.Next() {
		var s models.IdentitySummary
		if err := rows.Scan(&s.ID, &s.HeroName, &s.FateAlignment, &s.Origin,
			&s.FateXP, &s.FateLevel, &s.Status, &s.EnrolledBy, &s.EnrolledAt,
			&s.EquippedTitleID, &s.ActiveSources); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, id string, xp int64, level int) error {
	query := `UPDATE root_identities SET fate_xp = $2, fate_level = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, xp, level)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, identity *models.RootIdentity) error {
	query := `UPDATE root_identities SET hero_name = $2, fate_alignment = $3, origin = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, identity.ID, identity.HeroName, identity.FateAlignment, identity.Origin)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetEquippedTitle(ctx context.Context, id string, titleID *string) error {
	query := `UPDATE root_identities SET equipped_title_id = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, titleID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreatePersona(ctx context.Context, persona *models.Persona) error {
	query := `
		INSERT INTO personas (id, root_id, display_name, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, persona.ID, persona.RootID,
		persona.DisplayName, persona.IsPrimary, persona.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) PrimaryPersona(ctx context.Context, rootID string) (*models.Persona, error) {
	query := `
		SELECT id, root_id, display_name, is_primary, created_at
		FROM personas
		WHERE root_id = $1 AND is_primary
		LIMIT 1
	`
	p := &models.Persona{}
	err := r.db.QueryRowContext(ctx, query, rootID).
		Scan(&p.ID, &p.RootID, &p.DisplayName, &p.IsPrimary, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
