package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

// Sentinel errors shared by all store implementations. Services match on
// these with errors.Is and translate them to user-facing outcomes.
var (
	// ErrNotFound: no row matched. Returned instead of nil,nil where the
	// caller needs to distinguish outcomes (join, consume).
	ErrNotFound = errors.New("repository: not found")

	// ErrFieldFull: the field already has both partner slots taken.
	ErrFieldFull = errors.New("repository: field full")

	// ErrDuplicateCode: a field with this code already exists.
	ErrDuplicateCode = errors.New("repository: duplicate field code")

	// ErrQuotaExhausted: the conditional quota update matched no row
	// because the free-tier cap is spent for this window.
	ErrQuotaExhausted = errors.New("repository: weekly quota exhausted")
)

// FieldRepository handles field (room) persistence, including the
// waiting -> full membership transition.
type FieldRepository interface {
	// Create inserts a new field in the waiting state with partner A
	// occupied. Returns ErrDuplicateCode on a code collision.
	Create(ctx context.Context, f *models.Field) (*models.Field, error)

	// GetByCode returns a field by its normalized code. Returns nil, nil
	// if not found.
	GetByCode(ctx context.Context, code string) (*models.Field, error)

	// AttachPartner claims the B slot. The update is conditional on
	// status = waiting, so exactly one of two racing joins wins.
	// Returns ErrNotFound if no such active field, ErrFieldFull if the
	// slot is already taken.
	AttachPartner(ctx context.Context, code string, userID uuid.UUID, displayName string) (*models.Field, error)

	// SetGuidanceMode updates the field's active guidance mode.
	SetGuidanceMode(ctx context.Context, code string, mode models.GuidanceMode) error

	// Deactivate soft-deletes the field. Fields are never hard-deleted.
	Deactivate(ctx context.Context, code string) error

	// TouchActivity bumps last_active_at to now.
	TouchActivity(ctx context.Context, code string) error
}

// ProfileRepository handles account records and the entitlement counter.
type ProfileRepository interface {
	// Create inserts a new free-tier profile with a fresh reset window.
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.Profile, error)

	// GetByEmail returns a profile by email. Returns nil, nil if not found.
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)

	// GetByID returns a profile by user id. Returns nil, nil if not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)

	// TryConsume atomically applies the gate in one statement: reset the
	// counter if resetAt <= cutoff, then increment it, but only when the
	// tier is paid, the window reset, or the counter is under freeCap.
	// A denied free-tier profile matches no row and yields
	// ErrQuotaExhausted; a missing profile yields ErrNotFound.
	// Single-statement read-modify-write keeps concurrent devices on the
	// same account from double-spending the last interaction.
	TryConsume(ctx context.Context, userID uuid.UUID, cutoff, now time.Time, freeCap int) (*models.Profile, error)

	// SetTier updates the subscription tier and payment customer ref,
	// mirrored from the billing provider.
	SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier, customerRef string) error
}

// TranscriptRepository is the durable message store. The server-side
// transcript is the source of truth; client copies are caches.
type TranscriptRepository interface {
	// Append persists one message. Messages are strictly append-only.
	Append(ctx context.Context, msg *models.Message) error

	// ListRecent returns up to limit of the newest messages for a field,
	// in ascending arrival order (oldest of the window first).
	ListRecent(ctx context.Context, code string, limit int) ([]models.Message, error)
}
