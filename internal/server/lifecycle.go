package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"student-tracker/internal/config"
	"student-tracker/internal/logging"
	"student-tracker/internal/notify"
	"student-tracker/internal/recaptcha"
	"student-tracker/internal/storage"
)

// Mode is how the process is hosted.
type Mode string

const (
	// ModeStandalone owns a listener, the push channel and the cron job.
	ModeStandalone Mode = "standalone"
	// ModeServerless handles one request per invocation and owns nothing
	// long-lived.
	ModeServerless Mode = "serverless"
)

const (
	// DefaultGraceDelay separates binding the listener from starting jobs.
	DefaultGraceDelay = 5 * time.Second

	shutdownTimeout = 5 * time.Second
	connectTimeout  = 10 * time.Second
)

// DetectMode reports serverless when a serverless platform marker is set,
// or when running in production without a port to bind.
func DetectMode(cfg config.Config) Mode {
	if cfg.ServerlessMarker != "" || (cfg.Env == "production" && cfg.Port == "") {
		return ModeServerless
	}
	return ModeStandalone
}

// Connector opens the database pool.
type Connector func(ctx context.Context) (*sql.DB, error)

// Migrator brings the schema up to date after the first connect.
type Migrator func(ctx context.Context) error

// Bootstrapper provisions external resources. It must swallow its own errors.
type Bootstrapper interface {
	Run(ctx context.Context)
}

// Job is a recurring background job.
type Job interface {
	Start() error
	Stop()
}

// JobFactory builds the recurring job once the database is available.
type JobFactory func(db *sql.DB) (Job, error)

// Options wires a Lifecycle. Connect is required.
type Options struct {
	Config  config.Config
	Logger  *logging.Logger
	Metrics *Metrics

	// Verifier and Store are handed to the router; both may be nil.
	Verifier *recaptcha.Verifier
	Store    storage.Store

	Connect   Connector
	Migrate   Migrator
	Bootstrap Bootstrapper
	NewJob    JobFactory
	Hub       *notify.Hub

	// Listener replaces net.Listen on Config.Addr() when set.
	Listener   net.Listener
	GraceDelay time.Duration
	// After replaces time.After for the grace delay.
	After func(time.Duration) <-chan time.Time
}

// Lifecycle owns the database connection state and starts the long-lived
// parts of a standalone process. Handlers get it injected; there is no
// package-level connection state.
type Lifecycle struct {
	mode   Mode
	opts   Options
	log    *logging.Logger
	router *Router

	group singleflight.Group

	mu        sync.RWMutex
	connected bool
	db        *sql.DB
}

// NewLifecycle detects the mode once and keeps it for the process lifetime.
func NewLifecycle(opts Options) (*Lifecycle, error) {
	if opts.Connect == nil {
		return nil, errors.New("lifecycle: connector is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.GraceDelay <= 0 {
		opts.GraceDelay = DefaultGraceDelay
	}
	if opts.After == nil {
		opts.After = time.After
	}

	l := &Lifecycle{mode: DetectMode(opts.Config), opts: opts, log: opts.Logger}
	l.router = NewRouter(RouterConfig{
		Env:         opts.Config.Env,
		Mode:        l.mode,
		CORSOrigins: opts.Config.CORSOrigins,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
		Verifier:    opts.Verifier,
		Store:       opts.Store,
		DB:          l.DB,
	})
	return l, nil
}

func (l *Lifecycle) Mode() Mode { return l.mode }

// Connected reports whether a connect has succeeded.
func (l *Lifecycle) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// DB returns the pool, or nil before the first successful connect.
func (l *Lifecycle) DB() *sql.DB {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db
}

// EnsureConnected connects to the database unless already connected.
// Concurrent callers share a single attempt and all observe its outcome.
// A failed attempt leaves the state unconnected so a later call retries.
// The attempt itself is not cancelled by ctx; a caller whose ctx ends stops
// waiting and gets ctx.Err().
func (l *Lifecycle) EnsureConnected(ctx context.Context) error {
	if l.Connected() {
		return nil
	}

	ch := l.group.DoChan("connect", func() (interface{}, error) {
		if l.Connected() {
			return nil, nil
		}
		return nil, l.connect(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lifecycle) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := l.opts.Connect(ctx)
	l.opts.Metrics.RecordConnect(err)
	if err != nil {
		l.log.Error("db_connect_failed", nil, err)
		return fmt.Errorf("connect database: %w", err)
	}

	if l.opts.Migrate != nil {
		if err := l.opts.Migrate(ctx); err != nil {
			_ = conn.Close()
			l.log.Error("db_migrate_failed", nil, err)
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	l.mu.Lock()
	l.db = conn
	l.connected = true
	l.mu.Unlock()

	l.log.Info("db_connected", logging.Fields{"ms": time.Since(start).Milliseconds()})
	return nil
}

// ServeHTTP is the serverless dispatch path: connect if needed, then route.
// A connect failure answers this one request with a JSON 500.
func (l *Lifecycle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := l.EnsureConnected(r.Context()); err != nil {
		l.log.Error("request_connect_failed", logging.Fields{"path": r.URL.Path}, err)
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
		return
	}
	l.router.ServeHTTP(w, r)
}

// RunStandalone connects, binds the listener, attaches the push channel and
// schedules the recurring job, then serves until ctx is cancelled. Only a
// connect or bind failure is fatal.
//
// Storage bootstrap starts in its own goroutine once the connect succeeds.
// It runs concurrently with the bind and with serving, so early requests
// may see partially provisioned storage, and a stalled bootstrap step never
// delays the listener.
func (l *Lifecycle) RunStandalone(ctx context.Context) error {
	if err := l.EnsureConnected(ctx); err != nil {
		return err
	}

	if l.opts.Bootstrap != nil && !l.opts.Config.SkipStorageInit {
		go l.opts.Bootstrap.Run(ctx)
	} else if l.opts.Config.SkipStorageInit {
		l.log.Info("storage_bootstrap_disabled", logging.Fields{"env": "SKIP_CLOUDINARY_INIT"})
	}

	ln := l.opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", l.opts.Config.Addr()); err != nil {
			return fmt.Errorf("listen on %s: %w", l.opts.Config.Addr(), err)
		}
	}

	if l.opts.Hub != nil {
		l.opts.Hub.Attach(l.router.Mux())
	}

	srv := &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	l.log.Info("server_listening", logging.Fields{"addr": ln.Addr().String(), "mode": l.mode})

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	job, jobErrs := l.scheduleJob(jobCtx)

	var err error
	select {
	case <-ctx.Done():
		l.log.Info("shutting_down", nil)
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	stopJobs()
	if jobErrs != nil {
		<-jobErrs
	}
	if job != nil {
		job.Stop()
	}
	if l.opts.Hub != nil {
		l.opts.Hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		l.log.Error("shutdown_error", nil, serr)
	}
	if conn := l.DB(); conn != nil {
		_ = conn.Close()
	}
	l.log.Info("shutdown_complete", nil)
	return err
}

// scheduleJob builds the job and starts it after the grace delay. The
// returned channel is closed once the delayed start has finished or been
// cancelled.
func (l *Lifecycle) scheduleJob(ctx context.Context) (Job, <-chan error) {
	if l.opts.NewJob == nil {
		return nil, nil
	}
	job, err := l.opts.NewJob(l.DB())
	if err != nil {
		l.log.Error("job_create_failed", nil, err)
		return nil, nil
	}

	errs := DelayedStart{Delay: l.opts.GraceDelay, After: l.opts.After, Start: job.Start}.Run(ctx)
	done := make(chan error)
	go func() {
		defer close(done)
		if err, ok := <-errs; ok && err != nil {
			l.log.Error("job_start_failed", nil, err)
			return
		}
		if ctx.Err() == nil {
			l.log.Info("job_started", nil)
		}
	}()
	return job, done
}

// DelayedStart runs Start once after Delay unless the context ends first.
type DelayedStart struct {
	Delay time.Duration
	After func(time.Duration) <-chan time.Time
	Start func() error
}

// Run waits in the background. A Start failure is sent on the returned
// channel, which is closed when Run is done either way.
func (d DelayedStart) Run(ctx context.Context) <-chan error {
	after := d.After
	if after == nil {
		after = time.After
	}
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		select {
		case <-ctx.Done():
			return
		case <-after(d.Delay):
		}
		if ctx.Err() != nil {
			return
		}
		if err := d.Start(); err != nil {
			errs <- err
		}
	}()
	return errs
}
