// Package config reads the backend configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"student-tracker/internal/logging"
)

const (
	DefaultPort                     = "3001"
	DefaultScoreThreshold           = 0.3
	DefaultScheduledAssignmentsCron = "* * * * *"
)

// DefaultCORSOrigins mirrors the origins the frontend is deployed on.
var DefaultCORSOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
	"https://proyecto-integrador-frontend-nu.vercel.app",
	"https://proyecto-integrador-backend-six.vercel.app",
}

// CloudinaryConfig holds the Cloudinary account credentials.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Complete reports whether all three credentials are set.
func (c CloudinaryConfig) Complete() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// MinioConfig holds the S3-compatible storage settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Complete reports whether every MinIO setting is present.
func (c MinioConfig) Complete() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

// RecaptchaConfig configures the human verification gate.
type RecaptchaConfig struct {
	SecretKey      string
	ScoreThreshold float64
	Version        string // auto, v2 or v3
}

// Config is the full process configuration.
type Config struct {
	Env              string // NODE_ENV
	Port             string // PORT as given; empty when unset
	ServerlessMarker string // VERCEL
	DatabaseURL      string

	StorageBackend  string // cloudinary or minio
	SkipStorageInit bool   // SKIP_CLOUDINARY_INIT
	Cloudinary      CloudinaryConfig
	Minio           MinioConfig

	Recaptcha RecaptchaConfig

	CORSOrigins              []string
	ScheduledAssignmentsCron string
}

// LoadDotEnv loads variables from .env files when they exist. Variables
// already present in the environment win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("dotenv_load_failed", logging.Fields{"path": p}, err)
		}
	}
}

// Load builds a Config from getenv (normally os.Getenv).
func Load(getenv func(string) string) Config {
	get := func(key, def string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return def
		}
		return v
	}

	cfg := Config{
		Env:              get("NODE_ENV", "development"),
		Port:             get("PORT", ""),
		ServerlessMarker: get("VERCEL", ""),
		DatabaseURL:      get("DATABASE_URL", ""),
		StorageBackend:   strings.ToLower(get("STORAGE_BACKEND", "cloudinary")),
		SkipStorageInit:  get("SKIP_CLOUDINARY_INIT", "") == "true",
		Cloudinary: CloudinaryConfig{
			CloudName: get("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    get("CLOUDINARY_API_KEY", ""),
			APISecret: get("CLOUDINARY_API_SECRET", ""),
		},
		Minio: MinioConfig{
			Endpoint:  get("MINIO_ENDPOINT", ""),
			AccessKey: get("MINIO_ACCESS_KEY", ""),
			SecretKey: get("MINIO_SECRET_KEY", ""),
			Bucket:    get("MINIO_BUCKET", ""),
		},
		Recaptcha: RecaptchaConfig{
			SecretKey:      get("RECAPTCHA_SECRET_KEY", ""),
			ScoreThreshold: DefaultScoreThreshold,
			Version:        strings.ToLower(get("RECAPTCHA_VERSION", "auto")),
		},
		CORSOrigins:              DefaultCORSOrigins,
		ScheduledAssignmentsCron: get("SCHEDULED_ASSIGNMENTS_CRON", DefaultScheduledAssignmentsCron),
	}

	if raw := get("RECAPTCHA_SCORE_THRESHOLD", ""); raw != "" {
		if v, ok := parseThreshold(raw); ok {
			cfg.Recaptcha.ScoreThreshold = v
		} else {
			logging.Warn("invalid_score_threshold", logging.Fields{
				"value":   raw,
				"default": DefaultScoreThreshold,
			}, nil)
		}
	}

	if raw := get("CORS_ORIGINS", ""); raw != "" {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}

	return cfg
}

// parseThreshold accepts a float in [0, 1].
func parseThreshold(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// Addr returns the listen address, e.g. ":3001".
func (c Config) Addr() string {
	port := c.Port
	if port == "" {
		port = DefaultPort
	}
	return ":" + strings.TrimPrefix(port, ":")
}

// Validate checks the settings the process cannot run without, plus the
// format of optional ones that are set.
func (c Config) Validate() error {
	v := NewValidator()

	v.ValidateRequired("DATABASE_URL", c.DatabaseURL)
	if c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	v.ValidatePort("PORT", c.Port)
	v.ValidateEnum("STORAGE_BACKEND", c.StorageBackend, []string{"cloudinary", "minio"})
	v.ValidateEnum("RECAPTCHA_VERSION", c.Recaptcha.Version, []string{"auto", "v2", "v3"})

	if c.StorageBackend == "minio" && strings.Contains(c.Minio.Endpoint, "://") {
		v.ValidateURL("MINIO_ENDPOINT", c.Minio.Endpoint)
	}
	for _, o := range c.CORSOrigins {
		v.ValidateURL("CORS_ORIGINS", o)
	}

	if v.HasErrors() {
		return v
	}
	return nil
}

// WarnOnOptionalMissing logs the optional settings that disable features.
func (c Config) WarnOnOptionalMissing() {
	var warnings []string
	if c.Recaptcha.SecretKey == "" {
		warnings = append(warnings, "RECAPTCHA_SECRET_KEY not set - every verification will be rejected")
	}
	if c.StorageBackend == "cloudinary" && !c.Cloudinary.Complete() {
		warnings = append(warnings, "Cloudinary credentials incomplete - storage bootstrap disabled")
	}
	if c.StorageBackend == "minio" && !c.Minio.Complete() {
		warnings = append(warnings, "MinIO configuration incomplete - storage bootstrap disabled")
	}
	if len(warnings) > 0 {
		logging.Info("configuration_warnings", logging.Fields{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}
