// Package config loads service settings from an optional YAML file, then lets
// environment variables override them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          string        `yaml:"port"`
	DatabaseURL   string        `yaml:"database_url"`
	DBMigrate     bool          `yaml:"db_migrate"`
	MigrationsDir string        `yaml:"migrations_dir"`
	RedisURL      string        `yaml:"redis_url"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
	Recompute RecomputeConfig `yaml:"recompute"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev | hmac | jwks
	HMACSecret string `yaml:"hmac_secret"`
	JWKSURL    string `yaml:"jwks_url"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

type NotifyConfig struct {
	Mode          string `yaml:"mode"` // none | webhook | amqp
	Recipient     string `yaml:"recipient"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	MaxAttempts   int    `yaml:"max_attempts"`
	AMQPURL       string `yaml:"amqp_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type RecomputeConfig struct {
	Workers int `yaml:"workers"`
}

// Default returns the settings used when neither file nor environment says otherwise.
func Default() Config {
	return Config{
		Port:          "8080",
		DBMigrate:     true,
		MigrationsDir: "db/migrations",
		ShutdownGrace: 10 * time.Second,
		Auth:          AuthConfig{Mode: "dev"},
		RateLimit:     RateLimitConfig{Burst: 20},
		Notify:        NotifyConfig{Mode: "none", Recipient: "svs@svs.io", MaxAttempts: 10},
		Log:           LogConfig{Level: "info", Format: "text"},
		Recompute:     RecomputeConfig{Workers: 4},
	}
}

// Load reads CONFIG_FILE (if set) and applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.Getenv)
}

// LoadFrom reads path (may be empty) and applies overrides found through getenv.
func LoadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	e := env{get: getenv}
	e.str("PORT", &cfg.Port)
	e.str("DATABASE_URL", &cfg.DatabaseURL)
	e.boolean("DB_MIGRATE", &cfg.DBMigrate)
	e.str("MIGRATIONS_DIR", &cfg.MigrationsDir)
	e.str("REDIS_URL", &cfg.RedisURL)
	e.duration("SHUTDOWN_GRACE", &cfg.ShutdownGrace)
	e.str("AUTH_MODE", &cfg.Auth.Mode)
	e.str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	e.str("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)
	e.float("RATE_RPS", &cfg.RateLimit.RPS)
	e.integer("RATE_BURST", &cfg.RateLimit.Burst)
	e.str("NOTIFY_MODE", &cfg.Notify.Mode)
	e.str("ADMIN_RECIPIENT", &cfg.Notify.Recipient)
	e.str("ADMIN_WEBHOOK_URL", &cfg.Notify.WebhookURL)
	e.str("ADMIN_WEBHOOK_SECRET", &cfg.Notify.WebhookSecret)
	e.integer("WEBHOOK_MAX_ATTEMPTS", &cfg.Notify.MaxAttempts)
	e.str("AMQP_URL", &cfg.Notify.AMQPURL)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.integer("RECOMPUTE_WORKERS", &cfg.Recompute.Workers)
	if e.err != nil {
		return cfg, e.err
	}
	cfg.Auth.Mode = strings.ToLower(cfg.Auth.Mode)
	cfg.Notify.Mode = strings.ToLower(cfg.Notify.Mode)
	return cfg, cfg.Validate()
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("auth mode hmac requires AUTH_HMAC_SECRET")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth mode jwks requires AUTH_JWKS_URL")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	switch c.Notify.Mode {
	case "", "none":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("notify mode webhook requires ADMIN_WEBHOOK_URL")
		}
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return fmt.Errorf("notify mode amqp requires AMQP_URL")
		}
	default:
		return fmt.Errorf("unknown notify mode %q", c.Notify.Mode)
	}
	return nil
}

// env applies overrides and remembers the first malformed value.
type env struct {
	get func(string) string
	err error
}

func (e *env) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.get(key))
	return v, v != ""
}

func (e *env) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
	}
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *env) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *env) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *env) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *env) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
