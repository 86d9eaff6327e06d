// Package handler is the serverless entry point. The platform calls Handler
// once per request; the Lifecycle is built on the first call and reused by
// warm invocations.
package handler

import (
	"net/http"
	"os"
	"sync"

	"student-tracker/internal/config"
	"student-tracker/internal/logging"
	"student-tracker/internal/server"
)

var (
	once      sync.Once
	lifecycle *server.Lifecycle
	initErr   error
)

func load() {
	log := logging.FromEnv(os.Getenv)
	logging.SetDefault(log)
	cfg := config.Load(os.Getenv)
	cfg.WarnOnOptionalMissing()
	lifecycle, initErr = server.FromConfig(cfg, log, nil)
	if initErr != nil {
		log.Error("lifecycle_init_failed", nil, initErr)
	}
}

// Handler serves one request.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(load)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error"}` + "\n"))
		return
	}
	lifecycle.ServeHTTP(w, r)
}
