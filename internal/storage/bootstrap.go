package storage

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"student-tracker/internal/logging"
)

const (
	NamespaceEvidence = "evidencias"
	NamespaceProfiles = "perfiles"

	DefaultProfilePublicID = "default_profile"
	// DefaultProfileID is the full identifier of the placeholder avatar.
	DefaultProfileID = NamespaceProfiles + "/" + DefaultProfilePublicID

	placeholderSize  = 400
	placeholderColor = "#6366f1"
	placeholderLabel = "Usuario"

	defaultStepTimeout = 30 * time.Second
)

// DefaultPDFDelivery is registered for future PDF uploads.
var DefaultPDFDelivery = DeliveryParams{Flags: "attachment", Format: "pdf", Quality: "auto"}

// StepRecorder receives the outcome of each bootstrap step.
type StepRecorder interface {
	RecordBootstrapStep(step, outcome string)
}

// BootstrapConfig wires a Bootstrapper.
type BootstrapConfig struct {
	Store Store
	// CredentialsPresent is false when the backend credentials are
	// incomplete; Run then warns once and makes no calls.
	CredentialsPresent bool
	Logger             *logging.Logger
	Recorder           StepRecorder
	StepTimeout        time.Duration
}

// Bootstrapper provisions the remote namespaces and the default profile
// image. Every step is best-effort: failures are logged and the next step
// still runs.
type Bootstrapper struct {
	cfg  BootstrapConfig
	once sync.Once
}

// NewBootstrapper returns a Bootstrapper for cfg.
func NewBootstrapper(cfg BootstrapConfig) *Bootstrapper {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	return &Bootstrapper{cfg: cfg}
}

// Run executes the bootstrap once per Bootstrapper. Later calls return
// immediately.
func (b *Bootstrapper) Run(ctx context.Context) {
	b.once.Do(func() { b.run(ctx) })
}

func (b *Bootstrapper) run(ctx context.Context) {
	log := b.cfg.Logger
	if !b.cfg.CredentialsPresent || b.cfg.Store == nil {
		log.Warn("storage_bootstrap_skipped", logging.Fields{"reason": "credentials missing"}, nil)
		return
	}

	start := time.Now()
	failed := 0

	for _, ns := range []string{NamespaceEvidence, NamespaceProfiles} {
		if !b.step(ctx, "namespace_"+ns, func(ctx context.Context) error {
			return b.ensureNamespace(ctx, ns)
		}) {
			failed++
		}
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"default_profile", b.ensureDefaultProfile},
		{"raw_public_access", func(ctx context.Context) error {
			return b.cfg.Store.SetAccessMode(ctx, AccessPublic, NamespaceEvidence, KindRaw)
		}},
		{"pdf_delivery_defaults", func(ctx context.Context) error {
			return b.cfg.Store.SetDefaultDelivery(ctx, "pdf", DefaultPDFDelivery)
		}},
	}
	for _, s := range steps {
		if !b.step(ctx, s.name, s.fn) {
			failed++
		}
	}

	log.Info("storage_bootstrap_complete", logging.Fields{
		"failed_steps": failed,
		"duration_ms":  time.Since(start).Milliseconds(),
	})
}

// step runs fn with its own timeout and reports whether it succeeded.
// A panic inside a backend SDK is contained here.
func (b *Bootstrapper) step(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("storage_bootstrap_step_panic", logging.Fields{"step": name}, fmt.Errorf("%v", r))
			b.record(name, "failed")
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		b.cfg.Logger.Warn("storage_bootstrap_step_failed", logging.Fields{"step": name}, err)
		b.record(name, "failed")
		return false
	}
	b.record(name, "ok")
	return true
}

func (b *Bootstrapper) record(step, outcome string) {
	if b.cfg.Recorder != nil {
		b.cfg.Recorder.RecordBootstrapStep(step, outcome)
	}
}

func (b *Bootstrapper) ensureNamespace(ctx context.Context, name string) error {
	err := b.cfg.Store.CreateNamespace(ctx, name)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// ensureDefaultProfile uploads the placeholder avatar only when the lookup
// says it does not exist. Any other lookup failure leaves it alone.
func (b *Bootstrapper) ensureDefaultProfile(ctx context.Context) error {
	_, err := b.cfg.Store.Resource(ctx, DefaultProfileID)
	switch {
	case err == nil:
		b.cfg.Logger.Info("default_profile_exists", logging.Fields{"id": DefaultProfileID})
		return nil
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("check %s: %w", DefaultProfileID, err)
	}

	uri := EncodeDataURI("image/svg+xml", PlaceholderSVG(placeholderLabel))
	_, err = b.cfg.Store.Upload(ctx, uri, UploadOptions{
		Namespace: NamespaceProfiles,
		PublicID:  DefaultProfilePublicID,
		Overwrite: true,
		Tags:      []string{NamespaceProfiles, "default"},
		Kind:      KindImage,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", DefaultProfileID, err)
	}
	b.cfg.Logger.Info("default_profile_created", logging.Fields{"id": DefaultProfileID})
	return nil
}

// PlaceholderSVG renders the square avatar used when a user has no photo.
func PlaceholderSVG(label string) []byte {
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`+
			`<rect width="100%%" height="100%%" fill="%s"/>`+
			`<text x="50%%" y="50%%" dominant-baseline="middle" text-anchor="middle" font-size="40" fill="#ffffff" font-family="Arial, Helvetica, sans-serif">%s</text>`+
			`</svg>`,
		placeholderSize, placeholderSize, placeholderColor, html.EscapeString(label)))
}
