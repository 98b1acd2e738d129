package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"todo-auth/internal/auth"
	"todo-auth/internal/auth/authtest"
)

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newTestRouter(t *testing.T, pinger Pinger) http.Handler {
	t.Helper()
	return newTestRouterWith(t, pinger, 100, false)
}

func newTestRouterWith(t *testing.T, pinger Pinger, loginLimit int, trustProxy bool) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	hasher, err := auth.NewHasher(bcrypt.MinCost, 2, logger)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Algorithm:  "HS256",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	service, err := auth.NewService(authtest.NewMemoryStore(), hasher, tokens, auth.LockoutPolicy{
		MaxAttempts: 5,
		Duration:    30 * time.Minute,
	}, logger)
	require.NoError(t, err)

	return NewRouter(RouterDeps{
		Auth:           auth.NewHandler(service, logger),
		Verifier:       service,
		LoginLimiter:      auth.NewLoginRateLimiter(auth.NewMemoryRateLimitBackend(loginLimit, time.Minute), logger),
		Database:          pinger,
		AllowedOrigins:    []string{"http://localhost:3000"},
		Logger:            logger,
		TrustProxyHeaders: trustProxy,
	})
}

func call(t *testing.T, handler http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestRouter_AccountLifecycle(t *testing.T) {
	router := newTestRouter(t, fakePinger{})
	credentials := `{"email":"flow@example.com","password":"Correct1!"}`

	rec, body := call(t, router, http.MethodPost, "/auth/register", credentials, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	userID := body["user_id"].(string)

	rec, _ = call(t, router, http.MethodPost, "/auth/register", credentials, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = call(t, router, http.MethodPost, "/auth/login", credentials, "")
	require.Equal(t, http.StatusOK, rec.Code)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	rec, body = call(t, router, http.MethodGet, "/auth/me", "", access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, body["user_id"])

	rec, _ = call(t, router, http.MethodGet, "/auth/me", "", refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = call(t, router, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	newAccess := body["access_token"].(string)

	rec, _ = call(t, router, http.MethodDelete, "/auth/me", "", newAccess)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = call(t, router, http.MethodPost, "/auth/login", credentials, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = call(t, router, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	rec, body := call(t, newTestRouter(t, fakePinger{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = call(t, newTestRouter(t, fakePinger{err: errors.New("down")}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	router := newTestRouter(t, fakePinger{})

	rec, body := call(t, router, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint not found", body["error"])

	rec, _ = call(t, router, http.MethodGet, "/auth/login", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, fakePinger{})

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_LoginThrottleProxyTrust(t *testing.T) {
	login := func(router http.Handler, remoteAddr, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.co","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("untrusted proxy keys on peer address", func(t *testing.T) {
		router := newTestRouterWith(t, fakePinger{}, 1, false)
		assert.Equal(t, http.StatusUnauthorized, login(router, "192.0.2.10:1000", "198.51.100.1"))
		assert.Equal(t, http.StatusTooManyRequests, login(router, "192.0.2.10:2000", "198.51.100.2"))
	})

	t.Run("trusted proxy keys on forwarded client", func(t *testing.T) {
		router := newTestRouterWith(t, fakePinger{}, 1, true)
		assert.Equal(t, http.StatusUnauthorized, login(router, "192.0.2.10:1000", "198.51.100.1"))
		assert.Equal(t, http.StatusUnauthorized, login(router, "192.0.2.10:1000", "198.51.100.2"))
		assert.Equal(t, http.StatusTooManyRequests, login(router, "192.0.2.10:1000", "198.51.100.1"))
	})
}
