package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

const (
	// FreeWeeklyCap is the free tier's counsellor interactions per
	// rolling week.
	FreeWeeklyCap = 5

	// ResetWindow is the rolling reset period for the weekly counter.
	ResetWindow = 7 * 24 * time.Hour
)

// ErrQuotaExhausted is the normal "upgrade to continue" outcome, not a
// failure: the free cap is spent for this window.
var ErrQuotaExhausted = errors.New("entitlement: weekly quota exhausted")

// Decision is the outcome of applying the gate at one instant.
type Decision struct {
	Allowed bool
	// Count is the post-increment counter when allowed, the current
	// counter when denied.
	Count int
	// ResetAt reflects any window reset the decision applied.
	ResetAt time.Time
	// DidReset reports whether the rolling window rolled over.
	DidReset bool
}

// Decide is the gate's pure core: reset-if-stale, then authorize, then
// count. Paid profiles are always allowed but still counted, so usage
// stays observable. Kept free of I/O so the rules are testable against
// any clock.
func Decide(tier models.Tier, count int, resetAt, now time.Time) Decision {
	didReset := now.Sub(resetAt) >= ResetWindow
	if didReset {
		count = 0
		resetAt = now
	}

	if tier != models.TierPaid && count >= FreeWeeklyCap {
		return Decision{Allowed: false, Count: count, ResetAt: resetAt, DidReset: didReset}
	}

	return Decision{Allowed: true, Count: count + 1, ResetAt: resetAt, DidReset: didReset}
}

// Gate applies the usage rules against the profile store. The store's
// conditional-update consume mirrors Decide exactly; the pure function
// documents the rules, the SQL enforces them atomically.
type Gate struct {
	profiles repository.ProfileRepository
	logger   *zap.Logger
	// now is injectable for tests.
	now func() time.Time
}

func NewGate(profiles repository.ProfileRepository, logger *zap.Logger) *Gate {
	return &Gate{profiles: profiles, logger: logger, now: time.Now}
}

// Consume authorizes and counts one counsellor interaction for the
// account. Returns the post-consume profile, ErrQuotaExhausted when the
// free cap is spent, or repository errors as-is. Must be called before
// the counsellor turn is requested for non-premium sessions.
func (g *Gate) Consume(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	now := g.now()
	cutoff := now.Add(-ResetWindow)

	profile, err := g.profiles.TryConsume(ctx, userID, cutoff, now, FreeWeeklyCap)
	if errors.Is(err, repository.ErrQuotaExhausted) {
		return nil, ErrQuotaExhausted
	}
	if err != nil {
		return nil, err
	}

	g.logger.Debug("interaction consumed",
		zap.String("user_id", userID.String()),
		zap.Int("weekly_count", profile.WeeklyCount),
		zap.String("tier", string(profile.Tier)))
	return profile, nil
}

// SessionPremium reports whether a field's session is premium: true if
// either occupied partner slot belongs to a paid profile. A premium
// session bypasses the gate entirely for both partners. The presence
// payload's isPaid flag lets clients skip the round-trip; this is the
// authoritative server-side recheck.
func (g *Gate) SessionPremium(ctx context.Context, field *models.Field) bool {
	for _, id := range []*uuid.UUID{field.PartnerAID, field.PartnerBID} {
		if id == nil {
			continue
		}
		profile, err := g.profiles.GetByID(ctx, *id)
		if err != nil {
			g.logger.Warn("premium check failed, assuming free",
				zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		if profile != nil && profile.Tier == models.TierPaid {
			return true
		}
	}
	return false
}
