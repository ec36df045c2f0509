package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditdesk/storage"
)

func TestJWT_RoundTrip(t *testing.T) {
	p := &storage.Profile{ID: "profile-1", Email: "a@firm.example"}
	token, expiresAt, err := generateJWT(p, testSecret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := validateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "profile-1", claims.Subject)
	assert.Equal(t, "a@firm.example", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestJWT_Rejections(t *testing.T) {
	p := &storage.Profile{ID: "profile-1"}

	expired, _, err := generateJWT(p, testSecret, -time.Minute)
	require.NoError(t, err)

	otherSecret, _, err := generateJWT(p, "a-completely-different-secret-value!", time.Hour)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "profile-1",
			Issuer:    jwtIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "profile-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"alg none":     noneToken,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := validateJWT(token, testSecret)
			assert.Error(t, err)
		})
	}
}
