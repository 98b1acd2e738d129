package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TokenConfig struct {
	Secret     []byte
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type tokenClaims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and checks access and refresh JWTs with one process-wide
// HMAC secret.
type TokenIssuer struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewTokenIssuer(cfg TokenConfig, logger *zap.Logger) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %q", cfg.Algorithm)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenIssuer{
		secret:     cfg.Secret,
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
		logger:     logger,
	}, nil
}

func (t *TokenIssuer) Issue(userID string, tokenType TokenType) (string, error) {
	ttl, err := t.ttl(tokenType)
	if err != nil {
		return "", err
	}

	now := t.now().UTC()
	claims := tokenClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return signed, nil
}

// Verify returns the subject of a token that is correctly signed, unexpired
// and of the expected type. Every rejection is ErrInvalidToken; the reason is
// only logged.
func (t *TokenIssuer) Verify(tokenString string, expected TokenType) (string, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", t.reject("token_parse_failed", expected, zap.Error(err))
	}

	if claims.Type != expected {
		return "", t.reject("token_type_mismatch", expected, zap.String("got", string(claims.Type)))
	}
	if claims.Subject == "" {
		return "", t.reject("token_subject_missing", expected)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", t.reject("token_subject_malformed", expected, zap.Error(err))
	}

	return claims.Subject, nil
}

func (t *TokenIssuer) ttl(tokenType TokenType) (time.Duration, error) {
	switch tokenType {
	case TokenTypeAccess:
		return t.accessTTL, nil
	case TokenTypeRefresh:
		return t.refreshTTL, nil
	default:
		return 0, fmt.Errorf("unknown token type: %q", tokenType)
	}
}

func (t *TokenIssuer) reject(reason string, expected TokenType, fields ...zap.Field) error {
	fields = append(fields, zap.String("expected_type", string(expected)))
	t.logger.Info(reason, fields...)
	return ErrInvalidToken
}
