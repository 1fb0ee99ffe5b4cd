package accounts_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	accounts "github.com/lungvision/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customTokenConfig struct {
	tokenConfig
	key      string
	issuer   string
	audience []string
	access   time.Duration
}

func (c customTokenConfig) GetSigningKey() string            { return c.key }
func (c customTokenConfig) GetIssuer() string                { return c.issuer }
func (c customTokenConfig) GetAudience() []string            { return c.audience }
func (c customTokenConfig) GetAccessTokenTTL() time.Duration { return c.access }

func testAccount() *accounts.Account {
	return &accounts.Account{
		ID:    uuid.New(),
		Email: "doc@example.com",
		Role:  accounts.RoleDoctor,
	}
}

func TestTokenServiceIssue(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))
	account := testAccount()

	pair, err := ts.Issue(account)
	require.NoError(t, err)

	access, err := ts.ValidateType(pair.Access, accounts.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), access.Subject())
	assert.Equal(t, account.ID.String(), access.UserID())
	assert.True(t, access.HasRole("doctor"))
	assert.True(t, access.IsAtLeast("doctor"))
	assert.False(t, access.IsAtLeast("admin"))
	assert.Equal(t, testNow.Add(time.Hour), access.Expires().UTC())
	assert.Equal(t, testNow, access.IssuedAt().UTC())
	assert.NotEmpty(t, access.TokenID())

	refresh, err := ts.ValidateType(pair.Refresh, accounts.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(24*time.Hour), refresh.Expires().UTC())
	assert.NotEqual(t, access.TokenID(), refresh.TokenID())

	_, err = ts.Issue(nil)
	assert.Error(t, err)
}

func TestTokenServiceDefaultsTTL(t *testing.T) {
	ts := accounts.NewTokenService(customTokenConfig{key: "k"})
	assert.Equal(t, accounts.DefaultAccessTokenTTL, ts.AccessTTL())
	assert.Equal(t, 24*time.Hour, ts.RefreshTTL())
}

func TestTokenServiceRejectsWrongType(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))
	pair, err := ts.Issue(testAccount())
	require.NoError(t, err)

	_, err = ts.ValidateType(pair.Refresh, accounts.TokenTypeAccess)
	assert.True(t, errors.Is(err, accounts.ErrTokenMalformed))
}

func TestTokenServiceExpiry(t *testing.T) {
	now := testNow
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(func() time.Time { return now }))

	pair, err := ts.Issue(testAccount())
	require.NoError(t, err)

	now = testNow.Add(2 * time.Hour)
	_, err = ts.Validate(pair.Access)
	assert.True(t, errors.Is(err, accounts.ErrTokenExpired))
	assert.True(t, accounts.IsTokenExpiredError(err))

	_, err = ts.ValidateType(pair.Refresh, accounts.TokenTypeRefresh)
	assert.NoError(t, err, "refresh outlives access")
}

func TestTokenServiceRejectsForeignTokens(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))

	tests := []struct {
		name string
		cfg  customTokenConfig
	}{
		{
			name: "wrong signing key",
			cfg:  customTokenConfig{key: "other-key", issuer: "lungvision-test", audience: []string{"lungvision"}},
		},
		{
			name: "wrong issuer",
			cfg:  customTokenConfig{key: "test-signing-key", issuer: "someone-else", audience: []string{"lungvision"}},
		},
		{
			name: "wrong audience",
			cfg:  customTokenConfig{key: "test-signing-key", issuer: "lungvision-test", audience: []string{"billing"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			foreign := accounts.NewTokenService(tt.cfg, accounts.WithTokenClock(fixedClock))
			pair, err := foreign.Issue(testAccount())
			require.NoError(t, err)

			_, err = ts.Validate(pair.Access)
			assert.True(t, errors.Is(err, accounts.ErrTokenMalformed), "got %v", err)
		})
	}
}

func TestTokenServiceRejectsGarbageAndNone(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))

	_, err := ts.Validate("not.a.jwt")
	assert.True(t, accounts.IsMalformedError(err))

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &accounts.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "lungvision-test",
			Audience:  jwt.ClaimStrings{"lungvision"},
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		Type: accounts.TokenTypeAccess,
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ts.Validate(raw)
	assert.True(t, accounts.IsMalformedError(err))
}

func TestSignClaims(t *testing.T) {
	ts := accounts.NewTokenService(tokenConfig{}, accounts.WithTokenClock(fixedClock))

	_, err := ts.SignClaims(nil)
	assert.Error(t, err)

	raw, err := ts.SignClaims(&accounts.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "abc",
			Issuer:    "lungvision-test",
			Audience:  jwt.ClaimStrings{"lungvision"},
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Minute)),
		},
		Type: accounts.TokenTypeAccess,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(raw, "."))

	claims, err := ts.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.UserID())
}

func TestLocalDenylist(t *testing.T) {
	ctx := context.Background()
	denylist, err := accounts.NewLocalDenylist(ctx, time.Hour)
	require.NoError(t, err)
	defer denylist.Close()

	revoked, err := denylist.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, denylist.Revoke(ctx, "jti-1", time.Minute))
	revoked, err = denylist.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, denylist.Revoke(ctx, "jti-2", -time.Minute))
	revoked, err = denylist.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked, "entries past their own expiry are ignored")

	require.NoError(t, denylist.Revoke(ctx, "", time.Minute))
	revoked, err = denylist.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}
