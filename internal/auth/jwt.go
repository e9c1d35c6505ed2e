package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

// Claims is the payload inside every user JWT. The middleware reads it
// back on each request so handlers know who is calling without a
// database round-trip.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 token for a user session.
func GenerateToken(userID uuid.UUID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fieldtalk",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a user JWT and extracts the claims. It rejects
// non-HMAC signing methods up front to close the algorithm-confusion
// hole, then checks signature and expiry.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// GrantClaims is the channel grant: the server-side authorize step that
// proves a socket may subscribe to one presence channel. It binds the
// channel name to the participant's presence payload, so whatever the
// grant holder shows to other members is what the server vouched for.
type GrantClaims struct {
	Channel     string             `json:"channel"`
	Participant models.Participant `json:"participant"`
	jwt.RegisteredClaims
}

// GrantTTL is deliberately short: a grant is fetched right before the
// websocket dial and is useless afterwards.
const GrantTTL = 2 * time.Minute

// GenerateGrant signs a channel grant for one participant.
func GenerateGrant(channel string, p models.Participant, secret string) (string, error) {
	now := time.Now()

	claims := GrantClaims{
		Channel:     channel,
		Participant: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(GrantTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fieldtalk",
			Subject:   p.UserID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}

	return signed, nil
}

// ParseGrant validates a channel grant and returns its claims.
func ParseGrant(tokenString, secret string) (*GrantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GrantClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse grant: %w", err)
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid grant claims")
	}

	return claims, nil
}
