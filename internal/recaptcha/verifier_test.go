package recaptcha

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"student-tracker/internal/config"
	"student-tracker/internal/logging"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (c *countingRecorder) RecordVerification(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

// siteverifyStub answers every request with body and records the form.
func siteverifyStub(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var got http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = *r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestVerifier(endpoint, version string, rec OutcomeRecorder) (*Verifier, *bytes.Buffer) {
	var buf bytes.Buffer
	v := New(config.RecaptchaConfig{SecretKey: "s3cret", ScoreThreshold: 0.3, Version: version},
		WithEndpoint(endpoint),
		WithLogger(logging.New(&buf, logging.LevelDebug, false)),
		WithRecorder(rec),
	)
	return v, &buf
}

func TestVerify_DecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		body       string
		wantOK     bool
		wantReason string
		wantScore  *float64
		wantCodes  string
	}{
		{"v3 below threshold", "auto", `{"success":true,"score":0.25}`, false, ReasonLowScore, ptr(0.25), ""},
		{"v3 at threshold", "auto", `{"success":true,"score":0.3}`, true, "", ptr(0.3), ""},
		{"v2 without score", "auto", `{"success":true}`, true, "", nil, ""},
		{"failure with codes", "auto", `{"success":false,"error-codes":["invalid-input-response"],"hostname":"example.com"}`, false, ReasonVerificationFailed, nil, "invalid-input-response"},
		{"v2 mode ignores score", "v2", `{"success":true,"score":0.1}`, true, "", nil, ""},
		{"v3 mode requires score", "v3", `{"success":true}`, false, ReasonVerificationFailed, nil, "missing-score"},
		{"v3 mode high score", "v3", `{"success":true,"score":0.9}`, true, "", ptr(0.9), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := siteverifyStub(t, http.StatusOK, tt.body)
			v, _ := newTestVerifier(srv.URL, tt.version, nil)

			res := v.Verify(context.Background(), "tok")
			if res.Success != tt.wantOK || res.Reason != tt.wantReason {
				t.Fatalf("got success=%v reason=%q, want %v %q", res.Success, res.Reason, tt.wantOK, tt.wantReason)
			}
			switch {
			case tt.wantScore == nil && res.Score != nil:
				t.Fatalf("unexpected score %v", *res.Score)
			case tt.wantScore != nil && (res.Score == nil || *res.Score != *tt.wantScore):
				t.Fatalf("score = %v, want %v", res.Score, *tt.wantScore)
			}
			if got := strings.Join(res.ErrorCodes, ","); got != tt.wantCodes {
				t.Fatalf("error codes = %q, want %q", got, tt.wantCodes)
			}
			if !res.Success && res.Error == "" {
				t.Fatal("rejections must carry a message")
			}
		})
	}
}

func TestVerify_FailureKeepsHostname(t *testing.T) {
	srv, _ := siteverifyStub(t, http.StatusOK, `{"success":false,"hostname":"app.example.com"}`)
	v, _ := newTestVerifier(srv.URL, "auto", nil)

	if res := v.Verify(context.Background(), "tok"); res.Hostname != "app.example.com" {
		t.Fatalf("hostname = %q", res.Hostname)
	}
}

func TestVerify_SendsFormEncodedSecretAndToken(t *testing.T) {
	srv, got := siteverifyStub(t, http.StatusOK, `{"success":true}`)
	v, _ := newTestVerifier(srv.URL, "auto", nil)
	v.Verify(context.Background(), "a&b=c")

	if got.Method != http.MethodPost {
		t.Fatalf("method = %s", got.Method)
	}
	if ct := got.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", ct)
	}
	if got.PostForm.Get("secret") != "s3cret" || got.PostForm.Get("response") != "a&b=c" {
		t.Fatalf("form = %v", got.PostForm)
	}
}

func TestVerify_TransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"success":true}`},
		{"malformed body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := siteverifyStub(t, tt.status, tt.body)
			v, logs := newTestVerifier(srv.URL, "auto", nil)

			res := v.Verify(context.Background(), "tok")
			if res.Success || res.Reason != ReasonVerificationError {
				t.Fatalf("got %+v", res)
			}
			if !strings.Contains(logs.String(), "recaptcha_verify_failed") {
				t.Fatalf("transport error should be logged:\n%s", logs.String())
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		v, _ := newTestVerifier(url, "auto", nil)
		if res := v.Verify(context.Background(), "tok"); res.Reason != ReasonVerificationError {
			t.Fatalf("got %+v", res)
		}
	})
}

func TestVerify_RecordsOutcomes(t *testing.T) {
	srv, _ := siteverifyStub(t, http.StatusOK, `{"success":true,"score":0.1}`)
	rec := &countingRecorder{}
	v, _ := newTestVerifier(srv.URL, "auto", rec)

	v.Verify(context.Background(), "tok")
	if len(rec.outcomes) != 1 || rec.outcomes[0] != ReasonLowScore {
		t.Fatalf("outcomes = %v", rec.outcomes)
	}
}

func TestNew_Fallbacks(t *testing.T) {
	v := New(config.RecaptchaConfig{ScoreThreshold: 7, Version: "v9"})
	if v.Threshold() != config.DefaultScoreThreshold {
		t.Fatalf("threshold = %v", v.Threshold())
	}
	if v.version != VersionAuto {
		t.Fatalf("version = %q", v.version)
	}
}

func ptr(f float64) *float64 { return &f }
