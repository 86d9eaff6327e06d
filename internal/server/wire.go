package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"student-tracker/internal/config"
	"student-tracker/internal/db"
	"student-tracker/internal/logging"
	"student-tracker/internal/notify"
	"student-tracker/internal/recaptcha"
	"student-tracker/internal/scheduler"
	"student-tracker/internal/storage"
)

const storageInitTimeout = 5 * time.Second

// FromConfig wires the production Lifecycle: PostgreSQL with migrations,
// the configured storage backend, the reCAPTCHA verifier, the push hub and
// the scheduled-assignments job. Both entry points use it.
func FromConfig(cfg config.Config, log *logging.Logger, reg *prometheus.Registry) (*Lifecycle, error) {
	if log == nil {
		log = logging.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	store, credentials := newStore(cfg, log)
	hub := notify.NewHub(cfg.CORSOrigins, log)

	return NewLifecycle(Options{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Verifier: recaptcha.New(cfg.Recaptcha, recaptcha.WithLogger(log), recaptcha.WithRecorder(metrics)),
		Store:    store,
		Connect: func(ctx context.Context) (*sql.DB, error) {
			return db.Open(ctx, cfg.DatabaseURL)
		},
		Migrate: func(ctx context.Context) error {
			return db.Migrate(ctx, cfg.DatabaseURL, log)
		},
		Bootstrap: storage.NewBootstrapper(storage.BootstrapConfig{
			Store:              store,
			CredentialsPresent: credentials,
			Logger:             log,
			Recorder:           metrics,
		}),
		NewJob: func(conn *sql.DB) (Job, error) {
			s, err := scheduler.New(scheduler.Config{
				Spec:        cfg.ScheduledAssignmentsCron,
				Publisher:   scheduler.SQLPublisher{DB: conn},
				Broadcaster: hub,
				Logger:      log,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Hub: hub,
	})
}

// newStore builds the configured backend. A missing or unreachable backend
// yields a nil Store; the process still starts.
func newStore(cfg config.Config, log *logging.Logger) (storage.Store, bool) {
	switch cfg.StorageBackend {
	case "minio":
		if !cfg.Minio.Complete() {
			return nil, false
		}
		ctx, cancel := context.WithTimeout(context.Background(), storageInitTimeout)
		defer cancel()
		s, err := storage.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			log.Warn("storage_init_failed", logging.Fields{"backend": "minio"}, err)
			return nil, false
		}
		return s, true
	default:
		if !cfg.Cloudinary.Complete() {
			return nil, false
		}
		s, err := storage.NewCloudinaryStore(cfg.Cloudinary)
		if err != nil {
			log.Warn("storage_init_failed", logging.Fields{"backend": "cloudinary"}, err)
			return nil, false
		}
		return s, true
	}
}
