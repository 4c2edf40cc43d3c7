// Package config loads service and CLI settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every recognised option.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string
	CORSOrigins     []string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Face     FaceConfig
	Lockout  LockoutConfig
	Capture  CaptureConfig

	APIBaseURL string
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

type RedisConfig struct {
	Addr string // empty keeps lockout counters in process
}

type JWTConfig struct {
	Secret   string
	Audience string
	TTL      time.Duration
}

// FaceConfig tunes matching. Threshold is global: every user gets the same
// false-accept/false-reject tradeoff.
type FaceConfig struct {
	Threshold        float64
	Dimension        int
	RejectDuplicates bool
}

// LockoutConfig bounds failed facial attempts per claimed identity.
// MaxAttempts of zero disables the policy.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

type CaptureConfig struct {
	ExtractorAddr string
	ModelSources  []string
	ModelCacheDir string
	FrameMaxSide  uint
	IdleTimeout   time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// New returns a viper instance with defaults applied and environment binding enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", "*")

	v.SetDefault("db_driver", DriverPostgres)
	v.SetDefault("database_dsn", "host=postgres user=postgres password=postgres dbname=faceauth port=5432 sslmode=disable")
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_max_open_conns", 10)

	v.SetDefault("redis_addr", "")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_audience", "")
	v.SetDefault("jwt_ttl", 24*time.Hour)

	v.SetDefault("face_match_threshold", 0.6)
	v.SetDefault("face_descriptor_dim", 128)
	v.SetDefault("face_reject_duplicates", false)

	v.SetDefault("lockout_max_attempts", 0)
	v.SetDefault("lockout_window", 15*time.Minute)

	v.SetDefault("extractor_addr", "localhost:50051")
	v.SetDefault("model_sources", "")
	v.SetDefault("model_cache_dir", "/tmp/face-auth-models")
	v.SetDefault("frame_max_side", 800)
	v.SetDefault("capture_idle_timeout", 2*time.Minute)

	v.SetDefault("api_base_url", "http://localhost:8080")

	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads the given .env files if present. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return FromViper(New())
}

// FromViper builds a Config out of an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		LogLevel:        v.GetString("log_level"),
		CORSOrigins:     splitList(v.GetString("cors_origins")),
		Database: DatabaseConfig{
			Driver:       strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
			DSN:          v.GetString("database_dsn"),
			MaxIdleConns: v.GetInt("db_max_idle_conns"),
			MaxOpenConns: v.GetInt("db_max_open_conns"),
		},
		Redis: RedisConfig{Addr: strings.TrimSpace(v.GetString("redis_addr"))},
		JWT: JWTConfig{
			Secret:   strings.TrimSpace(v.GetString("jwt_secret")),
			Audience: strings.TrimSpace(v.GetString("jwt_audience")),
			TTL:      v.GetDuration("jwt_ttl"),
		},
		Face: FaceConfig{
			Threshold:        v.GetFloat64("face_match_threshold"),
			Dimension:        v.GetInt("face_descriptor_dim"),
			RejectDuplicates: v.GetBool("face_reject_duplicates"),
		},
		Lockout: LockoutConfig{
			MaxAttempts: v.GetInt("lockout_max_attempts"),
			Window:      v.GetDuration("lockout_window"),
		},
		Capture: CaptureConfig{
			ExtractorAddr: v.GetString("extractor_addr"),
			ModelSources:  splitList(v.GetString("model_sources")),
			ModelCacheDir: v.GetString("model_cache_dir"),
			FrameMaxSide:  v.GetUint("frame_max_side"),
			IdleTimeout:   v.GetDuration("capture_idle_timeout"),
		},
		APIBaseURL: strings.TrimSuffix(v.GetString("api_base_url"), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	if c.Face.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("face_match_threshold must be positive, got %v", c.Face.Threshold))
	}
	if c.Face.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("face_descriptor_dim must be positive, got %d", c.Face.Dimension))
	}
	if c.Lockout.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("lockout_max_attempts must not be negative, got %d", c.Lockout.MaxAttempts))
	}
	if c.Lockout.MaxAttempts > 0 && c.Lockout.Window <= 0 {
		errs = append(errs, errors.New("lockout_window must be positive when lockout is enabled"))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported db_driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// RequireJWTSecret reports an error when no signing secret is configured.
func (c *Config) RequireJWTSecret() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt_secret is required")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
