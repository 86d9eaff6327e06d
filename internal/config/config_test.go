package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envFunc(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load(envFunc(nil))

	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.Port != "" {
		t.Errorf("Port = %q, want empty when unset", cfg.Port)
	}
	if cfg.Addr() != ":3001" {
		t.Errorf("Addr() = %q, want :3001", cfg.Addr())
	}
	if cfg.Recaptcha.ScoreThreshold != DefaultScoreThreshold {
		t.Errorf("threshold = %v, want %v", cfg.Recaptcha.ScoreThreshold, DefaultScoreThreshold)
	}
	if cfg.Recaptcha.Version != "auto" {
		t.Errorf("version = %q, want auto", cfg.Recaptcha.Version)
	}
	if cfg.StorageBackend != "cloudinary" {
		t.Errorf("backend = %q, want cloudinary", cfg.StorageBackend)
	}
	if len(cfg.CORSOrigins) != len(DefaultCORSOrigins) {
		t.Errorf("expected default CORS origins, got %v", cfg.CORSOrigins)
	}
}

func TestLoad_ScoreThreshold(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"0.5", 0.5},
		{"0", 0},
		{"1", 1},
		{"abc", DefaultScoreThreshold},
		{"1.5", DefaultScoreThreshold},
		{"-0.1", DefaultScoreThreshold},
	}
	for _, tt := range tests {
		cfg := Load(envFunc(map[string]string{"RECAPTCHA_SCORE_THRESHOLD": tt.raw}))
		if cfg.Recaptcha.ScoreThreshold != tt.want {
			t.Errorf("threshold(%q) = %v, want %v", tt.raw, cfg.Recaptcha.ScoreThreshold, tt.want)
		}
	}
}

func TestLoad_SkipInitAndOrigins(t *testing.T) {
	cfg := Load(envFunc(map[string]string{
		"SKIP_CLOUDINARY_INIT": "true",
		"CORS_ORIGINS":         "https://a.example, ,https://b.example",
		"PORT":                 "8080",
	}))
	if !cfg.SkipStorageInit {
		t.Error("expected SkipStorageInit")
	}
	if got := strings.Join(cfg.CORSOrigins, ","); got != "https://a.example,https://b.example" {
		t.Errorf("CORSOrigins = %q", got)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestCloudinaryConfig_Complete(t *testing.T) {
	if (CloudinaryConfig{CloudName: "c", APIKey: "k"}).Complete() {
		t.Error("missing secret must not be complete")
	}
	if !(CloudinaryConfig{CloudName: "c", APIKey: "k", APISecret: "s"}).Complete() {
		t.Error("all three credentials should be complete")
	}
}

func TestValidate(t *testing.T) {
	good := Load(envFunc(map[string]string{"DATABASE_URL": "postgres://u:p@localhost/db"}))
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Load(envFunc(map[string]string{
		"DATABASE_URL":      "mysql://nope",
		"PORT":              "99999",
		"STORAGE_BACKEND":   "ftp",
		"RECAPTCHA_VERSION": "v4",
	}))
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var v *Validator
	if !errors.As(err, &v) {
		t.Fatalf("expected *Validator, got %T", err)
	}
	if len(v.Errors()) != 4 {
		t.Fatalf("expected 4 errors, got %d:\n%s", len(v.Errors()), err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TRACKER_DOTENV_CHECK=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRACKER_DOTENV_CHECK", "")
	os.Unsetenv("TRACKER_DOTENV_CHECK")

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("TRACKER_DOTENV_CHECK"); got != "loaded" {
		t.Fatalf("TRACKER_DOTENV_CHECK = %q, want loaded", got)
	}
}
