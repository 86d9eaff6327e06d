// Package recaptcha verifies reCAPTCHA tokens against Google's siteverify
// endpoint. It speaks both protocol versions: v2 answers carry no score, v3
// answers carry one that must clear a threshold.
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"student-tracker/internal/config"
	"student-tracker/internal/logging"
)

// DefaultEndpoint is Google's verification URL.
const DefaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// Rejection reasons.
const (
	ReasonVerificationFailed = "verification-failed"
	ReasonLowScore           = "low-score"
	ReasonVerificationError  = "verification-error"
)

// Version selects how a score in the answer is treated.
type Version string

const (
	// VersionAuto applies the threshold only when the answer has a score.
	VersionAuto Version = "auto"
	// VersionV2 accepts any successful answer and ignores the score.
	VersionV2 Version = "v2"
	// VersionV3 requires a score.
	VersionV3 Version = "v3"
)

const (
	msgFailed   = "reCAPTCHA verification failed"
	msgLowScore = "reCAPTCHA score too low"
	msgError    = "error verifying reCAPTCHA"

	codeMissingScore = "missing-score"
	maxBodyBytes     = 64 << 10
)

// Result is the outcome of one verification. It is built fresh per call.
type Result struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorCodes []string `json:"errorCodes,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// OutcomeRecorder counts verification outcomes; "accepted" or a Reason.
type OutcomeRecorder interface {
	RecordVerification(outcome string)
}

// siteverifyResponse is the JSON body returned by Google.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// Verifier checks tokens. It is safe for concurrent use.
type Verifier struct {
	secret    string
	threshold float64
	version   Version
	endpoint  string
	client    *http.Client
	logger    *logging.Logger
	recorder  OutcomeRecorder
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithEndpoint overrides the siteverify URL.
func WithEndpoint(u string) Option { return func(v *Verifier) { v.endpoint = u } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(v *Verifier) { v.client = c } }

func WithLogger(l *logging.Logger) Option { return func(v *Verifier) { v.logger = l } }

func WithRecorder(r OutcomeRecorder) Option { return func(v *Verifier) { v.recorder = r } }

// New builds a Verifier from cfg. An unknown version falls back to auto and
// a threshold outside [0, 1] falls back to the default.
func New(cfg config.RecaptchaConfig, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    cfg.SecretKey,
		threshold: cfg.ScoreThreshold,
		version:   Version(strings.ToLower(cfg.Version)),
		endpoint:  DefaultEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logging.Default(),
	}
	switch v.version {
	case VersionAuto, VersionV2, VersionV3:
	default:
		v.version = VersionAuto
	}
	if v.threshold < 0 || v.threshold > 1 {
		v.threshold = config.DefaultScoreThreshold
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Threshold returns the minimum accepted v3 score.
func (v *Verifier) Threshold() float64 { return v.threshold }

// Verify asks the remote service about token. It never returns an error:
// transport and decoding problems become a verification-error Result.
func (v *Verifier) Verify(ctx context.Context, token string) Result {
	resp, err := v.siteverify(ctx, token)
	if err != nil {
		v.logger.Error("recaptcha_verify_failed", logging.Fields{"endpoint": v.endpoint}, err)
		return v.finish(Result{Error: msgError, Reason: ReasonVerificationError})
	}
	return v.finish(v.decide(resp))
}

// decide maps a siteverify answer onto a Result.
func (v *Verifier) decide(resp siteverifyResponse) Result {
	if !resp.Success {
		return Result{
			Error:      msgFailed,
			ErrorCodes: resp.ErrorCodes,
			Hostname:   resp.Hostname,
			Reason:     ReasonVerificationFailed,
		}
	}

	score := resp.Score
	if v.version == VersionV2 {
		score = nil
	}
	if score == nil {
		if v.version == VersionV3 {
			return Result{
				Error:      msgFailed,
				ErrorCodes: []string{codeMissingScore},
				Hostname:   resp.Hostname,
				Reason:     ReasonVerificationFailed,
			}
		}
		return Result{Success: true, Hostname: resp.Hostname}
	}

	s := *score
	if s >= v.threshold {
		return Result{Success: true, Score: &s, Hostname: resp.Hostname}
	}
	return Result{Error: msgLowScore, Score: &s, Hostname: resp.Hostname, Reason: ReasonLowScore}
}

func (v *Verifier) finish(r Result) Result {
	if v.recorder != nil {
		outcome := r.Reason
		if r.Success {
			outcome = "accepted"
		}
		v.recorder.RecordVerification(outcome)
	}
	return r
}

func (v *Verifier) siteverify(ctx context.Context, token string) (siteverifyResponse, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return siteverifyResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := v.client.Do(req)
	if err != nil {
		return siteverifyResponse{}, fmt.Errorf("siteverify request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return siteverifyResponse{}, fmt.Errorf("siteverify returned status %d", res.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(&out); err != nil {
		return siteverifyResponse{}, fmt.Errorf("decode siteverify response: %w", err)
	}
	return out, nil
}
