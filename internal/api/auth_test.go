package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/auth"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *fakeProfileRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	profiles := newFakeProfileRepo()
	handler := NewAuthHandler(profiles, testJWTSecret, zap.NewNop())

	r := gin.New()
	r.POST("/v1/auth/signup", handler.Signup)
	r.POST("/v1/auth/login", handler.Login)
	return r, profiles
}

func post(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSignupAndLogin(t *testing.T) {
	r, _ := newAuthRouter(t)

	signup := map[string]string{
		"email":        "alice@example.com",
		"password":     "correct-horse",
		"display_name": "Alice",
	}
	w := post(t, r, "/v1/auth/signup", signup)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[authResponse](t, w)
	claims, err := auth.ParseToken(resp.Token, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)

	w = post(t, r, "/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp = decodeBody[authResponse](t, w)
	got, err := auth.ParseToken(resp.Token, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, got.UserID)
}

func TestSignupDuplicateEmail(t *testing.T) {
	r, _ := newAuthRouter(t)

	body := map[string]string{
		"email":        "alice@example.com",
		"password":     "correct-horse",
		"display_name": "Alice",
	}
	w := post(t, r, "/v1/auth/signup", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = post(t, r, "/v1/auth/signup", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignupValidation(t *testing.T) {
	r, _ := newAuthRouter(t)

	tests := []map[string]string{
		{"email": "not-an-email", "password": "correct-horse", "display_name": "Alice"},
		{"email": "alice@example.com", "password": "short", "display_name": "Alice"},
		{"email": "alice@example.com", "password": "correct-horse"},
	}
	for _, body := range tests {
		w := post(t, r, "/v1/auth/signup", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %v", body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := post(t, r, "/v1/auth/signup", map[string]string{
		"email":        "alice@example.com",
		"password":     "correct-horse",
		"display_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Wrong password and unknown email yield the same message.
	wrongPassword := post(t, r, "/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "battery-staple",
	})
	unknownEmail := post(t, r, "/v1/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "correct-horse",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}
