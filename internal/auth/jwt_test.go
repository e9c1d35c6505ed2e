package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()

	signed, err := GenerateToken(userID, "alice@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	signed, err := GenerateToken(uuid.New(), "alice@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(signed, "other-secret")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signed, err := GenerateToken(uuid.New(), "alice@example.com", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(signed, testSecret)
	assert.Error(t, err)
}

func TestParseTokenRejectsNonHMAC(t *testing.T) {
	// alg=none with an empty signature must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: uuid.New()})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(signed, testSecret)
	assert.Error(t, err)
}

func TestGrantRoundTrip(t *testing.T) {
	participant := models.Participant{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		DisplayName: "Alice",
		Role:        models.RolePartnerA,
		Online:      true,
		Paid:        true,
	}

	signed, err := GenerateGrant("presence-room-AB12CD", participant, testSecret)
	require.NoError(t, err)

	claims, err := ParseGrant(signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "presence-room-AB12CD", claims.Channel)
	assert.Equal(t, participant, claims.Participant)
	assert.Equal(t, participant.UserID.String(), claims.Subject)
}

func TestGrantAndTokenAreNotInterchangeable(t *testing.T) {
	// A user token presented as a grant yields empty grant claims, so the
	// gateway has nothing to subscribe with.
	signed, err := GenerateToken(uuid.New(), "alice@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseGrant(signed, testSecret)
	require.NoError(t, err)
	assert.Empty(t, claims.Channel)
}
