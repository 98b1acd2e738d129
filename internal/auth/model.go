package auth

import "time"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// BearerTokenType is the token_type value returned to clients.
const BearerTokenType = "bearer"

// CredentialRecord is one row of the users table. Email is always stored
// normalized (lowercase, trimmed).
type CredentialRecord struct {
	ID                  string
	Email               string
	PasswordHash        string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastFailedLogin     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

type RefreshResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
