package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"auth-session-core/internal/app"
	"auth-session-core/internal/config"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entrypoint. The runtime is built on the first
// request and reused by warm invocations.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		runMigrations := config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false)
		apiRuntime, initErr = app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: &runMigrations,
		})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   false,
			"message":   "application bootstrap failed",
			"data":      nil,
			"code":      "INTERNAL_ERROR",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
