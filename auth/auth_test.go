package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ellipog/chat/config"
)

func TestPassword_HashAndCompare(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, ComparePassword(hash, "s3cret"))
	assert.ErrorIs(t, ComparePassword(hash, "wrong"), ErrInvalidCredentials)

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestPassword_CompareMalformedHash(t *testing.T) {
	err := ComparePassword("not-a-hash", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func newManager(t *testing.T, issuer string) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, Issuer: issuer})
	require.NoError(t, err)
	return m
}

func TestNewTokenManager_RequiresSecret(t *testing.T) {
	_, err := NewTokenManager(config.AuthConfig{})
	assert.Error(t, err)

	m, err := NewTokenManager(config.AuthConfig{JWTSecret: "x"})
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, m.TTL())
}

func TestToken_IssueAndVerify(t *testing.T) {
	m := newManager(t, "chat")

	tok, err := m.Issue("user-1")
	require.NoError(t, err)

	uid, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	_, err = m.Issue("")
	assert.Error(t, err)
}

func TestToken_Expired(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newManager(t, "").WithClock(func() time.Time { return base })

	tok, err := m.Issue("user-1")
	require.NoError(t, err)

	m.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	_, err = m.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_Rejections(t *testing.T) {
	m := newManager(t, "chat")

	other, err := NewTokenManager(config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour, Issuer: "chat"})
	require.NoError(t, err)
	foreign, err := other.Issue("user-1")
	require.NoError(t, err)

	wrongIssuer := newManager(t, "someone-else")
	wrongIss, err := wrongIssuer.Issue("user-1")
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chat"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", foreign},
		{"wrong issuer", wrongIss},
		{"missing user id", noUser},
		{"missing expiry", noExp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
