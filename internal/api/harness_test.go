package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/counsellor"
	"github.com/FueledByOctane/fieldtalk/internal/entitlement"
	"github.com/FueledByOctane/fieldtalk/internal/middleware"
	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
	"github.com/FueledByOctane/fieldtalk/internal/room"
	"github.com/FueledByOctane/fieldtalk/internal/transcript"
	"github.com/FueledByOctane/fieldtalk/internal/transport"
)

const testJWTSecret = "handler-test-secret"

// In-memory repositories backing the handler tests. They mirror the
// conditional-update behavior of the SQL stores so the handlers see the
// same error surface.

type fakeFieldRepo struct {
	mu     sync.Mutex
	fields map[string]*models.Field
}

func newFakeFieldRepo() *fakeFieldRepo {
	return &fakeFieldRepo{fields: make(map[string]*models.Field)}
}

func (f *fakeFieldRepo) Create(_ context.Context, field *models.Field) (*models.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[field.Code]; ok {
		return nil, repository.ErrDuplicateCode
	}
	stored := *field
	stored.Status = models.FieldWaiting
	stored.Active = true
	f.fields[field.Code] = &stored
	out := stored
	return &out, nil
}

func (f *fakeFieldRepo) GetByCode(_ context.Context, code string) (*models.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	field, ok := f.fields[code]
	if !ok {
		return nil, nil
	}
	out := *field
	return &out, nil
}

func (f *fakeFieldRepo) AttachPartner(_ context.Context, code string, userID uuid.UUID, displayName string) (*models.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	field, ok := f.fields[code]
	if !ok || !field.Active {
		return nil, repository.ErrNotFound
	}
	if field.Status != models.FieldWaiting {
		return nil, repository.ErrFieldFull
	}
	field.PartnerBID = &userID
	field.PartnerBName = displayName
	field.Status = models.FieldFull
	out := *field
	return &out, nil
}

func (f *fakeFieldRepo) SetGuidanceMode(_ context.Context, code string, mode models.GuidanceMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	field, ok := f.fields[code]
	if !ok {
		return repository.ErrNotFound
	}
	field.GuidanceMode = mode
	return nil
}

func (f *fakeFieldRepo) Deactivate(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	field, ok := f.fields[code]
	if !ok {
		return repository.ErrNotFound
	}
	field.Active = false
	return nil
}

func (f *fakeFieldRepo) TouchActivity(_ context.Context, code string) error { return nil }

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.Profile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[uuid.UUID]*models.Profile)}
}

func (f *fakeProfileRepo) add(p *models.Profile) *models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = p
	return p
}

func (f *fakeProfileRepo) Create(_ context.Context, email, name, hash string) (*models.Profile, error) {
	p := &models.Profile{UserID: uuid.New(), Email: email, DisplayName: name, PasswordHash: hash, Tier: models.TierFree, ResetAt: time.Now()}
	return f.add(p), nil
}

func (f *fakeProfileRepo) GetByEmail(_ context.Context, email string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeProfileRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (f *fakeProfileRepo) TryConsume(_ context.Context, id uuid.UUID, cutoff, now time.Time, freeCap int) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeProfileRepo) SetTier(_ context.Context, id uuid.UUID, tier models.Tier, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Tier = tier
	p.CustomerRef = ref
	return nil
}

type fakeTranscriptRepo struct {
	mu      sync.Mutex
	byField map[string][]models.Message
}

func newFakeTranscriptRepo() *fakeTranscriptRepo {
	return &fakeTranscriptRepo{byField: make(map[string][]models.Message)}
}

func (f *fakeTranscriptRepo) Append(_ context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byField[msg.FieldCode] = append(f.byField[msg.FieldCode], *msg)
	return nil
}

func (f *fakeTranscriptRepo) ListRecent(_ context.Context, code string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.byField[code]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

// quietLLM keeps handler tests focused on the HTTP surface: counsellor
// turns complete instantly with a canned line.
type quietLLM struct{}

func (quietLLM) Complete(context.Context, string, []counsellor.Turn) (string, error) {
	return "Tell me more.", nil
}

func (quietLLM) Stream(_ context.Context, _ string, _ []counsellor.Turn, onDelta func(string)) (string, error) {
	onDelta("Tell me more.")
	return "Tell me more.", nil
}

// env bundles one fully wired handler set over in-memory stores.
type env struct {
	fields      *fakeFieldRepo
	profiles    *fakeProfileRepo
	bus         *transport.MemoryBus
	transcripts *transcript.Store
	router      *gin.Engine

	fieldHandler   *FieldHandler
	messageHandler *MessageHandler
	profileHandler *ProfileHandler
}

// newEnv builds the router with an identity-stub middleware instead of
// the JWT one: lookup of the caller is the part under test, not token
// parsing.
func newEnv(t *testing.T, caller func() uuid.UUID) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	fields := newFakeFieldRepo()
	profiles := newFakeProfileRepo()
	transcriptRepo := newFakeTranscriptRepo()

	store, err := transcript.NewStore(transcriptRepo, counsellor.TranscriptWindow)
	require.NoError(t, err)

	bus := transport.NewMemoryBus()
	rooms := room.NewService(fields, logger)
	engine := counsellor.NewEngine(quietLLM{}, bus, store, time.Second, logger)
	gate := entitlement.NewGate(profiles, logger)
	billing := entitlement.StaticBilling{Portal: "https://billing.example.com"}

	e := &env{
		fields:         fields,
		profiles:       profiles,
		bus:            bus,
		transcripts:    store,
		fieldHandler:   NewFieldHandler(rooms, profiles, bus, engine, testJWTSecret, logger),
		messageHandler: NewMessageHandler(rooms, store, bus, engine, gate, billing, logger),
		profileHandler: NewProfileHandler(profiles, billing, logger),
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, caller())
		c.Next()
	})
	r.POST("/v1/fields", e.fieldHandler.Create)
	r.POST("/v1/fields/join", e.fieldHandler.Join)
	r.GET("/v1/fields/:code", e.fieldHandler.Get)
	r.POST("/v1/fields/:code/authorize", e.fieldHandler.Authorize)
	r.PATCH("/v1/fields/:code/settings", e.fieldHandler.UpdateSettings)
	r.DELETE("/v1/fields/:code", e.fieldHandler.Deactivate)
	r.POST("/v1/fields/:code/messages", e.messageHandler.Send)
	r.GET("/v1/fields/:code/messages", e.messageHandler.List)
	r.POST("/v1/fields/:code/sync", e.messageHandler.Sync)
	r.POST("/v1/fields/:code/summary", e.messageHandler.Summary)
	r.GET("/v1/me", e.profileHandler.Me)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}
