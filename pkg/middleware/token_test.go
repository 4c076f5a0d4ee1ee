package middleware

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

const testSecret = "test-signing-secret"

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel("error"), io.Discard)
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func hmacParser(t *testing.T) *TokenParser {
	t.Helper()
	p, err := NewTokenParser(context.Background(), config.AuthConfig{JWTSecret: testSecret}, testLogger())
	require.NoError(t, err)
	return p
}

func TestParseClaimsHMAC(t *testing.T) {
	parser := hmacParser(t)
	raw := signedToken(t, testSecret, jwt.MapClaims{
		"preferred_username": "jdoe",
		"tenant_id":          "acme",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	claims, err := parser.ParseClaims(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", claims["preferred_username"])
	assert.Equal(t, "acme", claims["tenant_id"])
}

func TestParseClaimsRejectsBadSignature(t *testing.T) {
	parser := hmacParser(t)
	raw := signedToken(t, "some-other-secret", jwt.MapClaims{"sub": "jdoe"})

	_, err := parser.ParseClaims(context.Background(), raw)
	assert.Error(t, err)
}

func TestParseClaimsRejectsExpired(t *testing.T) {
	parser := hmacParser(t)
	raw := signedToken(t, testSecret, jwt.MapClaims{
		"sub": "jdoe",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := parser.ParseClaims(context.Background(), raw)
	assert.Error(t, err)
}

func TestParseClaimsDisabledSkipsVerification(t *testing.T) {
	p, err := NewTokenParser(context.Background(), config.AuthConfig{Disabled: true}, testLogger())
	require.NoError(t, err)

	// Signed with a secret the parser never sees; claims decode anyway.
	raw := signedToken(t, "unknown-secret", jwt.MapClaims{"tenant_id": "acme"})

	claims, err := p.ParseClaims(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims["tenant_id"])
}

func TestParseClaimsNoMethodConfigured(t *testing.T) {
	p, err := NewTokenParser(context.Background(), config.AuthConfig{}, testLogger())
	require.NoError(t, err)

	_, err = p.ParseClaims(context.Background(), signedToken(t, testSecret, jwt.MapClaims{}))
	assert.Error(t, err)
}

func TestUsername(t *testing.T) {
	assert.Equal(t, "jdoe", Username(map[string]any{"preferred_username": "jdoe", "sub": "uuid-1"}))
	assert.Equal(t, "uuid-1", Username(map[string]any{"sub": "uuid-1"}))
	assert.Equal(t, "", Username(map[string]any{}))
}
