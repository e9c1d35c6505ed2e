package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

const profileColumns = `user_id, email, display_name, password_hash, tier,
		weekly_count, reset_at, customer_ref, created_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.UserID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
		&p.Tier,
		&p.WeeklyCount,
		&p.ResetAt,
		&p.CustomerRef,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProfileStore) Create(ctx context.Context, email, displayName, passwordHash string) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (user_id, email, display_name, password_hash,
			tier, weekly_count, reset_at, customer_ref, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, 'free', 0, now(), '', now())
		RETURNING ` + profileColumns

	p, err := scanProfile(s.pool.QueryRow(ctx, query, email, displayName, passwordHash))
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE email = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile by email: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE user_id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// TryConsume is the whole gate in one statement. The CASE arms fold the
// rolling-window reset into the increment, and the WHERE clause encodes
// authorization: paid always passes, free passes on a fresh window or a
// counter under the cap. Running it as a single UPDATE means two devices
// on the same account can't both read 4 and write 5.
//
// These conditions are the SQL form of entitlement.Decide; change the
// two together.
func (s *ProfileStore) TryConsume(ctx context.Context, userID uuid.UUID, cutoff, now time.Time, freeCap int) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET weekly_count = CASE WHEN reset_at <= $2 THEN 1 ELSE weekly_count + 1 END,
		    reset_at     = CASE WHEN reset_at <= $2 THEN $3 ELSE reset_at END
		WHERE user_id = $1
		  AND (tier = 'paid' OR reset_at <= $2 OR weekly_count < $4)
		RETURNING ` + profileColumns

	p, err := scanProfile(s.pool.QueryRow(ctx, query, userID, cutoff, now, freeCap))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume interaction: %w", err)
	}

	// No row: either the profile doesn't exist or the cap is spent.
	existing, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrQuotaExhausted
}

func (s *ProfileStore) SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier, customerRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET tier = $2, customer_ref = $3 WHERE user_id = $1`,
		userID, tier, customerRef)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
