package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"todo-auth/internal/app"
	"todo-auth/internal/config"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. The runtime is built on the first
// request and reused while the instance stays warm.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		// Migrations stay off unless RUN_MIGRATIONS_ON_STARTUP turns them on.
		// Behind the platform proxy, set TRUST_PROXY_HEADERS so login
		// throttling sees client addresses instead of the proxy's.
		apiRuntime, initErr = app.Build(config.Options{LoadDotEnv: false, RunMigrations: false, TrustProxyHeaders: false})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
