package server

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"student-tracker/internal/logging"
	"student-tracker/internal/recaptcha"
	"student-tracker/internal/storage"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// RouterConfig lists what the HTTP routes depend on.
type RouterConfig struct {
	Env         string
	Mode        Mode
	CORSOrigins []string

	Logger   *logging.Logger
	Metrics  *Metrics
	Verifier *recaptcha.Verifier
	Store    storage.Store
	// DB returns the pool, or nil before the first successful connect.
	DB func() *sql.DB
}

// Router is the stateless request router shared by both process modes.
type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	verifier *recaptcha.Verifier
}

// NewRouter registers every route and wraps the mux in middleware:
// requestID -> logging -> security headers -> CORS -> mux.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /health", healthChecker{
		env:   cfg.Env,
		mode:  cfg.Mode,
		db:    cfg.DB,
		store: cfg.Store,
	}.handle)
	mux.HandleFunc("GET /favicon.ico", handleNoContent)
	mux.HandleFunc("GET /favicon.png", handleNoContent)
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	mux.HandleFunc("POST /api/assets/view", handleAssetView)

	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, cfg.Metrics)(handler)
	handler = requestIDMiddleware(handler)

	rt := &Router{mux: mux, handler: handler, verifier: cfg.Verifier}
	if cfg.Verifier != nil {
		limiter := newRateLimiter(verifyRateLimit, verifyRateWindow)
		mux.Handle("/api/recaptcha/verify", limiter.middleware(cfg.Verifier.Handler()))
		rt.Gate("POST /api/recaptcha/check", limiter.middleware(http.HandlerFunc(handleHumanCheck)))
	}
	return rt
}

// Mux exposes the inner mux so standalone-only endpoints can be attached.
func (rt *Router) Mux() *http.ServeMux { return rt.mux }

// Gate registers h behind the verifier's RequireHuman check, so requests
// without a valid X-Recaptcha-Token header get 403. Without a verifier
// every gated route answers 503.
func (rt *Router) Gate(pattern string, h http.Handler) {
	if rt.verifier == nil {
		rt.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("verification is not configured"))
		})
		return
	}
	rt.mux.Handle(pattern, rt.verifier.RequireHuman(h))
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Backend API is running",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"endpoints": map[string]string{
			"health":    "/health",
			"metrics":   "/metrics",
			"recaptcha": "/api/recaptcha/verify",
			"human":     "/api/recaptcha/check",
			"assets":    "/api/assets/view",
		},
	})
}

func handleNoContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleHumanCheck only runs once RequireHuman has accepted the header
// token, so clients can confirm a token before a gated submit.
func handleHumanCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAssetView turns a stored asset description into its display URL.
func handleAssetView(w http.ResponseWriter, r *http.Request) {
	var a storage.Asset
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if strings.TrimSpace(a.SecureURL) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("secureUrl is required"))
		return
	}
	writeJSON(w, http.StatusOK, storage.ViewURL(a))
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorBody(msg string) errorResponse {
	return errorResponse{Success: false, Error: msg}
}
