package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

func TestDecide(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		tier     models.Tier
		count    int
		resetAt  time.Time
		allowed  bool
		wantN    int
		didReset bool
	}{
		{
			name:    "free under cap",
			tier:    models.TierFree,
			count:   4,
			resetAt: now.Add(-24 * time.Hour),
			allowed: true,
			wantN:   5,
		},
		{
			name:    "free at cap denied",
			tier:    models.TierFree,
			count:   5,
			resetAt: now.Add(-24 * time.Hour),
			allowed: false,
			wantN:   5,
		},
		{
			name:     "stale window resets before check",
			tier:     models.TierFree,
			count:    5,
			resetAt:  now.Add(-8 * 24 * time.Hour),
			allowed:  true,
			wantN:    1,
			didReset: true,
		},
		{
			name:    "window exactly seven days old resets",
			tier:    models.TierFree,
			count:   5,
			resetAt: now.Add(-ResetWindow),
			allowed: true, wantN: 1, didReset: true,
		},
		{
			name:    "paid always allowed but still counted",
			tier:    models.TierPaid,
			count:   250,
			resetAt: now.Add(-24 * time.Hour),
			allowed: true,
			wantN:   251,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.tier, tt.count, tt.resetAt, now)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.wantN, d.Count)
			assert.Equal(t, tt.didReset, d.DidReset)
			if tt.didReset {
				assert.Equal(t, now, d.ResetAt)
			}
		})
	}
}

// fakeProfiles implements repository.ProfileRepository in memory,
// applying the same conditional-consume rules as the SQL store.
type fakeProfiles struct {
	profiles map[uuid.UUID]*models.Profile
}

func newFakeProfiles(profiles ...*models.Profile) *fakeProfiles {
	m := make(map[uuid.UUID]*models.Profile)
	for _, p := range profiles {
		m[p.UserID] = p
	}
	return &fakeProfiles{profiles: m}
}

func (f *fakeProfiles) Create(_ context.Context, email, name, hash string) (*models.Profile, error) {
	p := &models.Profile{UserID: uuid.New(), Email: email, DisplayName: name, PasswordHash: hash, Tier: models.TierFree, ResetAt: time.Now()}
	f.profiles[p.UserID] = p
	return p, nil
}

func (f *fakeProfiles) GetByEmail(_ context.Context, email string) (*models.Profile, error) {
	for _, p := range f.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	return f.profiles[id], nil
}

func (f *fakeProfiles) TryConsume(_ context.Context, id uuid.UUID, cutoff, now time.Time, freeCap int) (*models.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !p.ResetAt.After(cutoff) {
		p.WeeklyCount = 0
		p.ResetAt = now
	} else if p.Tier != models.TierPaid && p.WeeklyCount >= freeCap {
		return nil, repository.ErrQuotaExhausted
	}
	p.WeeklyCount++
	out := *p
	return &out, nil
}

func (f *fakeProfiles) SetTier(_ context.Context, id uuid.UUID, tier models.Tier, ref string) error {
	p, ok := f.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Tier = tier
	p.CustomerRef = ref
	return nil
}

// The conditional UPDATE in the postgres store and Decide encode the
// same rules twice. Driving both sides, via the in-memory store that
// mirrors the SQL's conditions, through identical scenarios makes a
// rule change in one place show up as a disagreement here.
func TestDecideAgreesWithTryConsume(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-ResetWindow)

	scenarios := []struct {
		name    string
		tier    models.Tier
		count   int
		resetAt time.Time
	}{
		{"free under cap", models.TierFree, FreeWeeklyCap - 1, now.Add(-time.Hour)},
		{"free at cap", models.TierFree, FreeWeeklyCap, now.Add(-time.Hour)},
		{"free fresh window", models.TierFree, 0, now},
		{"free stale window at cap", models.TierFree, FreeWeeklyCap, now.Add(-8 * 24 * time.Hour)},
		{"window exactly seven days old", models.TierFree, FreeWeeklyCap, cutoff},
		{"paid at cap", models.TierPaid, FreeWeeklyCap, now.Add(-time.Hour)},
		{"paid stale window", models.TierPaid, 40, now.Add(-ResetWindow - time.Minute)},
	}

	for _, tt := range scenarios {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.tier, tt.count, tt.resetAt, now)

			p := &models.Profile{UserID: uuid.New(), Tier: tt.tier, WeeklyCount: tt.count, ResetAt: tt.resetAt}
			got, err := newFakeProfiles(p).TryConsume(context.Background(), p.UserID, cutoff, now, FreeWeeklyCap)

			if !d.Allowed {
				assert.ErrorIs(t, err, repository.ErrQuotaExhausted)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, d.Count, got.WeeklyCount)
			assert.Equal(t, d.ResetAt, got.ResetAt)
		})
	}
}

func TestGateConsume(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("free tier exhausts after cap", func(t *testing.T) {
		p := &models.Profile{UserID: uuid.New(), Tier: models.TierFree, ResetAt: time.Now()}
		gate := NewGate(newFakeProfiles(p), logger)

		for i := 1; i <= FreeWeeklyCap; i++ {
			got, err := gate.Consume(ctx, p.UserID)
			require.NoError(t, err)
			assert.Equal(t, i, got.WeeklyCount)
		}

		_, err := gate.Consume(ctx, p.UserID)
		assert.ErrorIs(t, err, ErrQuotaExhausted)
	})

	t.Run("stale window resets the counter", func(t *testing.T) {
		p := &models.Profile{
			UserID:      uuid.New(),
			Tier:        models.TierFree,
			WeeklyCount: FreeWeeklyCap,
			ResetAt:     time.Now().Add(-8 * 24 * time.Hour),
		}
		gate := NewGate(newFakeProfiles(p), logger)

		got, err := gate.Consume(ctx, p.UserID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.WeeklyCount)
	})

	t.Run("paid tier never exhausts", func(t *testing.T) {
		p := &models.Profile{UserID: uuid.New(), Tier: models.TierPaid, WeeklyCount: 999, ResetAt: time.Now()}
		gate := NewGate(newFakeProfiles(p), logger)

		got, err := gate.Consume(ctx, p.UserID)
		require.NoError(t, err)
		assert.Equal(t, 1000, got.WeeklyCount)
	})
}

func TestSessionPremium(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	free := &models.Profile{UserID: uuid.New(), Tier: models.TierFree, ResetAt: time.Now()}
	paid := &models.Profile{UserID: uuid.New(), Tier: models.TierPaid, ResetAt: time.Now()}
	gate := NewGate(newFakeProfiles(free, paid), logger)

	t.Run("one paid partner makes the session premium", func(t *testing.T) {
		field := &models.Field{PartnerAID: &free.UserID, PartnerBID: &paid.UserID}
		assert.True(t, gate.SessionPremium(ctx, field))
	})

	t.Run("two free partners are not premium", func(t *testing.T) {
		field := &models.Field{PartnerAID: &free.UserID}
		assert.False(t, gate.SessionPremium(ctx, field))
	})
}
