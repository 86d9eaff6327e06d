package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"student-tracker/internal/storage"
)

// HealthStatus represents the overall health of the process.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "OK"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of a single dependency.
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDisabled ComponentStatus = "disabled"
)

// Health is the /health response body.
type Health struct {
	Status      HealthStatus               `json:"status"`
	Message     string                     `json:"message"`
	Timestamp   time.Time                  `json:"timestamp"`
	Environment string                     `json:"environment"`
	Mode        Mode                       `json:"mode"`
	Components  map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs int64           `json:"latency_ms,omitempty"`
	Details   interface{}     `json:"details,omitempty"`
}

const healthCheckTimeout = 3 * time.Second

type healthChecker struct {
	env   string
	mode  Mode
	db    func() *sql.DB
	store storage.Store
}

func (h healthChecker) handle(w http.ResponseWriter, r *http.Request) {
	health := h.check(r.Context())

	code := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (h healthChecker) check(ctx context.Context) Health {
	health := Health{
		Timestamp:   time.Now().UTC(),
		Environment: h.env,
		Mode:        h.mode,
		Components: map[string]ComponentHealth{
			"database": h.checkDatabase(ctx),
			"storage":  h.checkStorage(ctx),
		},
	}
	health.Status = overallHealth(health.Components)
	switch health.Status {
	case HealthStatusOK:
		health.Message = "Server is running"
	case HealthStatusDegraded:
		health.Message = "Server is running with degraded dependencies"
	default:
		health.Message = "Database unavailable"
	}
	return health
}

func (h healthChecker) checkDatabase(ctx context.Context) ComponentHealth {
	var conn *sql.DB
	if h.db != nil {
		conn = h.db()
	}
	if conn == nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "not connected"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	if err := conn.PingContext(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "database ping failed: " + err.Error()}
	}

	stats := conn.Stats()
	return ComponentHealth{
		Status:    ComponentStatusUp,
		LatencyMs: time.Since(start).Milliseconds(),
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

func (h healthChecker) checkStorage(ctx context.Context) ComponentHealth {
	if h.store == nil {
		return ComponentHealth{Status: ComponentStatusDisabled, Message: "storage not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: err.Error()}
	}
	return ComponentHealth{Status: ComponentStatusUp, LatencyMs: time.Since(start).Milliseconds()}
}

// overallHealth is unhealthy only when the database is down. Storage
// failures degrade the service but requests can still be served.
func overallHealth(components map[string]ComponentHealth) HealthStatus {
	if components["database"].Status == ComponentStatusDown {
		return HealthStatusUnhealthy
	}
	for _, c := range components {
		if c.Status == ComponentStatusDown {
			return HealthStatusDegraded
		}
	}
	return HealthStatusOK
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
