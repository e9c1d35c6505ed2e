package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

type FieldStore struct {
	pool *pgxpool.Pool
}

func NewFieldStore(pool *pgxpool.Pool) *FieldStore {
	return &FieldStore{pool: pool}
}

const fieldColumns = `code, name, creator_id, partner_a_id, partner_a_name,
		partner_b_id, partner_b_name, guidance_mode, status, active,
		last_active_at, created_at`

func scanField(row pgx.Row) (*models.Field, error) {
	var f models.Field
	err := row.Scan(
		&f.Code,
		&f.Name,
		&f.CreatorID,
		&f.PartnerAID,
		&f.PartnerAName,
		&f.PartnerBID,
		&f.PartnerBName,
		&f.GuidanceMode,
		&f.Status,
		&f.Active,
		&f.LastActiveAt,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *FieldStore) Create(ctx context.Context, f *models.Field) (*models.Field, error) {
	query := `
		INSERT INTO fields (code, name, creator_id, partner_a_id, partner_a_name,
			guidance_mode, status, active, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'waiting', true, now(), now())
		RETURNING ` + fieldColumns

	created, err := scanField(s.pool.QueryRow(ctx, query,
		f.Code, f.Name, f.CreatorID, f.PartnerAID, f.PartnerAName, f.GuidanceMode))
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation on the code primary key.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrDuplicateCode
		}
		return nil, fmt.Errorf("insert field: %w", err)
	}
	return created, nil
}

func (s *FieldStore) GetByCode(ctx context.Context, code string) (*models.Field, error) {
	query := `
		SELECT ` + fieldColumns + `
		FROM fields
		WHERE code = $1`

	f, err := scanField(s.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get field: %w", err)
	}
	return f, nil
}

// AttachPartner claims the B slot with a conditional update. The WHERE
// clause only matches a field still in the waiting state, so of two
// racing joins exactly one sees a row come back; the loser gets
// ErrFieldFull (or ErrNotFound if the code never existed).
func (s *FieldStore) AttachPartner(ctx context.Context, code string, userID uuid.UUID, displayName string) (*models.Field, error) {
	query := `
		UPDATE fields
		SET partner_b_id = $2,
		    partner_b_name = $3,
		    status = 'full',
		    last_active_at = now()
		WHERE code = $1 AND status = 'waiting' AND active = true
		RETURNING ` + fieldColumns

	f, err := scanField(s.pool.QueryRow(ctx, query, code, userID, displayName))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attach partner: %w", err)
	}

	// No row matched: tell the caller whether the room is full or missing.
	existing, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing == nil || !existing.Active {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrFieldFull
}

func (s *FieldStore) SetGuidanceMode(ctx context.Context, code string, mode models.GuidanceMode) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fields SET guidance_mode = $2 WHERE code = $1 AND active = true`,
		code, mode)
	if err != nil {
		return fmt.Errorf("set guidance mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *FieldStore) Deactivate(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fields SET active = false WHERE code = $1`,
		code)
	if err != nil {
		return fmt.Errorf("deactivate field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *FieldStore) TouchActivity(ctx context.Context, code string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE fields SET last_active_at = now() WHERE code = $1`,
		code)
	if err != nil {
		return fmt.Errorf("touch field activity: %w", err)
	}
	return nil
}
