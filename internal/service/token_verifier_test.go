package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booth-checkin/internal/models"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, expiresIn time.Duration) string {
	t.Helper()
	claims := &models.JWTClaims{
		UserID: "device-7",
		Role:   models.RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "device-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier := NewTokenVerifier("s3cret")
	claims, err := verifier.ValidateToken(signToken(t, "s3cret", jwt.SigningMethodHS256, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "device-7", claims.UserID)
	assert.Equal(t, models.RoleDevice, claims.Role)
}

func TestTokenVerifierRejectsBadTokens(t *testing.T) {
	verifier := NewTokenVerifier("s3cret")

	for name, token := range map[string]string{
		"wrong secret": signToken(t, "other", jwt.SigningMethodHS256, time.Hour),
		"expired":      signToken(t, "s3cret", jwt.SigningMethodHS256, -time.Minute),
		"wrong alg":    signToken(t, "s3cret", jwt.SigningMethodHS512, time.Hour),
		"garbage":      "not.a.token",
	} {
		_, err := verifier.ValidateToken(token)
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized, name)
	}
}
