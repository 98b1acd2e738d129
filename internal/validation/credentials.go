// Package validation holds the request-shape checks applied before a
// credential reaches the auth core.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 100
	MaxEmailLength    = 255

	passwordSpecials = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrEmailFormat      = errors.New("invalid email format")
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordLength   = errors.New("password must be between 8 and 100 characters")
	ErrPasswordUpper    = errors.New("password must contain at least one uppercase letter")
	ErrPasswordLower    = errors.New("password must contain at least one lowercase letter")
	ErrPasswordDigit    = errors.New("password must contain at least one digit")
	ErrPasswordSpecial  = errors.New("password must contain at least one special character (" + passwordSpecials + ")")
)

// ValidateEmail checks the address format. It does not normalize.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > MaxEmailLength || !emailRegex.MatchString(email) {
		return ErrEmailFormat
	}
	return nil
}

// ValidatePassword enforces the registration strength rules.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	length := len([]rune(password))
	if length < MinPasswordLength || length > MaxPasswordLength {
		return ErrPasswordLength
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return ErrPasswordUpper
	case !hasLower:
		return ErrPasswordLower
	case !hasDigit:
		return ErrPasswordDigit
	case !hasSpecial:
		return ErrPasswordSpecial
	}
	return nil
}

// ValidateLoginShape only rejects empty or oversized fields; strength rules
// apply at registration, not at login.
func ValidateLoginShape(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	if len(email) > MaxEmailLength {
		return ErrEmailFormat
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if len([]rune(password)) > MaxPasswordLength {
		return ErrPasswordLength
	}
	return nil
}
