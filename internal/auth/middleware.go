package auth

import (
	"net/http"
	"strings"
)

const invalidAuthMessage = "invalid authentication credentials"

// AccessTokenVerifier is satisfied by *Service.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (string, error)
}

// Middleware rejects requests without a valid access token and stores the
// caller's user id in the request context.
func Middleware(verifier AccessTokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, invalidAuthMessage)
			return
		}

		userID, err := verifier.VerifyAccessToken(tokenStr)
		if err != nil {
			unauthorized(w, invalidAuthMessage)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// RequireAccessToken adapts Middleware to router middleware chains.
func RequireAccessToken(verifier AccessTokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Middleware(verifier, next)
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", false
	}
	return tokenStr, true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="todo"`)
	writeError(w, http.StatusUnauthorized, message)
}
