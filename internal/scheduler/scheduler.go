// Package scheduler runs the recurring jobs of the standalone server.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"student-tracker/internal/logging"
	"student-tracker/internal/notify"
)

// EventAssignmentPublished is pushed once per assignment the job publishes.
const EventAssignmentPublished = "assignment_published"

const defaultRunTimeout = 30 * time.Second

// Assignment is the part of an assignment the job reports.
type Assignment struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Publisher flips scheduled assignments whose time has come to active and
// returns them.
type Publisher interface {
	PublishDue(ctx context.Context, now time.Time) ([]Assignment, error)
}

// Broadcaster delivers events to connected clients.
type Broadcaster interface {
	Broadcast(ev notify.Event) int
}

// Config wires a Scheduler.
type Config struct {
	Spec        string // five-field cron expression
	Publisher   Publisher
	Broadcaster Broadcaster
	Logger      *logging.Logger
	RunTimeout  time.Duration
	Now         func() time.Time
}

// Scheduler owns the cron runner. Overlapping runs are skipped.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New validates the cron expression and builds a stopped Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("scheduler: publisher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	s := &Scheduler{cfg: cfg, cron: c}
	if _, err := c.AddFunc(cfg.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins running the job on its schedule. Calling it twice is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.cron.Start()
	s.cfg.Logger.Info("scheduler_started", logging.Fields{"spec": s.cfg.Spec})
	return nil
}

// Stop waits for a running job to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.cfg.Logger.Info("scheduler_stopped", nil)
	})
}

// RunOnce publishes due assignments and pushes one event per assignment.
// It returns how many were published.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	published, err := s.cfg.Publisher.PublishDue(ctx, s.cfg.Now())
	if err != nil {
		s.cfg.Logger.Error("scheduled_assignments_failed", nil, err)
		return 0
	}
	if len(published) == 0 {
		return 0
	}

	for _, a := range published {
		if s.cfg.Broadcaster != nil {
			s.cfg.Broadcaster.Broadcast(notify.Event{Type: EventAssignmentPublished, Data: a})
		}
	}
	s.cfg.Logger.Info("scheduled_assignments_published", logging.Fields{
		"count":       len(published),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return len(published)
}

// SQLPublisher publishes assignments stored in PostgreSQL.
type SQLPublisher struct {
	DB *sql.DB
}

const publishDueQuery = `
	UPDATE assignments
	   SET status = 'active', published_at = $1
	 WHERE status = 'scheduled'
	   AND scheduled_for <= $1
	RETURNING id, title`

func (p SQLPublisher) PublishDue(ctx context.Context, now time.Time) ([]Assignment, error) {
	rows, err := p.DB.QueryContext(ctx, publishDueQuery, now)
	if err != nil {
		return nil, fmt.Errorf("publish scheduled assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.Title); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
