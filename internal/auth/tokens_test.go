package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock.Now,
	}, nil)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenConfig
	}{
		{
			name: "empty secret",
			cfg:  TokenConfig{Algorithm: "HS256", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		},
		{
			name: "asymmetric algorithm",
			cfg:  TokenConfig{Secret: testSecret, Algorithm: "RS256", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		},
		{
			name: "unknown algorithm",
			cfg:  TokenConfig{Secret: testSecret, Algorithm: "none", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		},
		{
			name: "zero ttl",
			cfg:  TokenConfig{Secret: testSecret, Algorithm: "HS256", RefreshTTL: time.Hour},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenIssuer(tt.cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)
	userID := uuid.NewString()

	for _, tokenType := range []TokenType{TokenTypeAccess, TokenTypeRefresh} {
		t.Run(string(tokenType), func(t *testing.T) {
			token, err := issuer.Issue(userID, tokenType)
			require.NoError(t, err)

			got, err := issuer.Verify(token, tokenType)
			require.NoError(t, err)
			assert.Equal(t, userID, got)
		})
	}
}

func TestTokenIssuer_Claims(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)
	userID := uuid.NewString()

	tests := []struct {
		tokenType TokenType
		ttl       time.Duration
	}{
		{tokenType: TokenTypeAccess, ttl: 30 * time.Minute},
		{tokenType: TokenTypeRefresh, ttl: 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.tokenType), func(t *testing.T) {
			token, err := issuer.Issue(userID, tt.tokenType)
			require.NoError(t, err)

			claims := &tokenClaims{}
			_, _, err = jwt.NewParser().ParseUnverified(token, claims)
			require.NoError(t, err)

			assert.Equal(t, tt.tokenType, claims.Type)
			assert.Equal(t, userID, claims.Subject)
			assert.True(t, claims.IssuedAt.Time.Equal(clock.now))
			assert.True(t, claims.ExpiresAt.Time.Equal(clock.now.Add(tt.ttl)))
		})
	}
}

func TestTokenIssuer_IssueUnknownType(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})

	_, err := issuer.Issue(uuid.NewString(), TokenType("session"))
	require.Error(t, err)
}

func TestTokenIssuer_TypeConfusionRejected(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})
	userID := uuid.NewString()

	refresh, err := issuer.Issue(userID, TokenTypeRefresh)
	require.NoError(t, err)
	_, err = issuer.Verify(refresh, TokenTypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)

	access, err := issuer.Issue(userID, TokenTypeAccess)
	require.NoError(t, err)
	_, err = issuer.Verify(access, TokenTypeRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.Issue(uuid.NewString(), TokenTypeAccess)
	require.NoError(t, err)

	clock.now = clock.now.Add(29 * time.Minute)
	_, err = issuer.Verify(token, TokenTypeAccess)
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute + time.Second)
	_, err = issuer.Verify(token, TokenTypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsForgedTokens(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	issuer := newTestIssuer(t, clock)
	userID := uuid.NewString()

	validClaims := func() tokenClaims {
		return tokenClaims{
			Type: TokenTypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID,
				IssuedAt:  jwt.NewNumericDate(clock.now),
				ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
			},
		}
	}

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims tokenClaims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name:  "garbage",
			token: func(*testing.T) string { return "not.a.jwt" },
		},
		{
			name:  "empty",
			token: func(*testing.T) string { return "" },
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), validClaims())
			},
		},
		{
			name: "different hmac algorithm",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, testSecret, validClaims())
			},
		},
		{
			name: "alg none",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
			},
		},
		{
			name: "missing exp",
			token: func(t *testing.T) string {
				claims := validClaims()
				claims.ExpiresAt = nil
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
		},
		{
			name: "issued in the future",
			token: func(t *testing.T) string {
				claims := validClaims()
				claims.IssuedAt = jwt.NewNumericDate(clock.now.Add(time.Hour))
				claims.ExpiresAt = jwt.NewNumericDate(clock.now.Add(2 * time.Hour))
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
		},
		{
			name: "missing type",
			token: func(t *testing.T) string {
				claims := validClaims()
				claims.Type = ""
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				claims := validClaims()
				claims.Subject = ""
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
		},
		{
			name: "subject is not a uuid",
			token: func(t *testing.T) string {
				claims := validClaims()
				claims.Subject = "7"
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token(t), TokenTypeAccess)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
