package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLogger_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, false)

	l.Info("ignored", nil)
	l.Warn("kept", Fields{"step": "folders"}, nil)

	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "step=folders") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, true)

	l.Error("upload_failed", Fields{"public_id": "default_profile"}, errors.New("boom"))

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if entry.Level != LevelError || entry.Message != "upload_failed" || entry.Error != "boom" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields["public_id"] != "default_profile" {
		t.Fatalf("fields not preserved: %+v", entry.Fields)
	}
	if !strings.HasPrefix(entry.Caller, "logging_test.go:") {
		t.Fatalf("caller should point at the test, got %q", entry.Caller)
	}
}

func TestFromEnv_ProductionForcesJSON(t *testing.T) {
	env := map[string]string{"NODE_ENV": "production"}
	l := FromEnv(func(k string) string { return env[k] })
	if !l.json {
		t.Fatal("expected json output in production")
	}
}
