package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and any
	// rejected access token. Callers cannot tell these apart.
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidToken is the single failure returned by TokenIssuer.Verify.
	ErrInvalidToken = errors.New("invalid token")

	ErrEmailTaken      = errors.New("email already registered")
	ErrAccountNotFound = errors.New("account not found")

	// ErrRecordNotFound is returned by CredentialStore lookups on a miss.
	ErrRecordNotFound = errors.New("credential record not found")
)

// ErrAccountLocked is returned while a lockout window is open. Unlike the
// other failures it reveals that the account exists.
type ErrAccountLocked struct {
	Until            time.Time
	MinutesRemaining int
}

func (e ErrAccountLocked) Error() string {
	return fmt.Sprintf(
		"account temporarily locked due to multiple failed login attempts, try again in %d minutes",
		e.MinutesRemaining,
	)
}
