// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig is optional; an empty URL disables redis-backed limiting, locking and caching.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type OCRConfig struct {
	BaseURL          string        `yaml:"base_url"` // "stub" runs the in-process engine
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ReviewConfidence float64       `yaml:"review_confidence"`
}

type OrchestratorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxInFlight  int           `yaml:"max_in_flight"`
	Backlog      int           `yaml:"backlog"`
	Retention    time.Duration `yaml:"retention"`
}

type QueueConfig struct {
	IdleInterval time.Duration `yaml:"idle_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RateLimit    int           `yaml:"rate_limit"`
	RateWindow   time.Duration `yaml:"rate_window"`
	Retention    time.Duration `yaml:"retention"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

type HTTPConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	OCR          OCRConfig          `yaml:"ocr"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Queue        QueueConfig        `yaml:"queue"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Janitor      JanitorConfig      `yaml:"janitor"`
	Storage      StorageConfig      `yaml:"storage"`
	HTTP         HTTPConfig         `yaml:"http"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalize(cfg.Redis.TTL, time.Hour)

	if cfg.OCR.BaseURL == "" {
		cfg.OCR.BaseURL = "http://localhost:5000"
	}
	cfg.OCR.Timeout = normalize(cfg.OCR.Timeout, 30*time.Second)
	if cfg.OCR.MaxConcurrent <= 0 {
		cfg.OCR.MaxConcurrent = 8
	}
	if cfg.OCR.ReviewConfidence <= 0 {
		cfg.OCR.ReviewConfidence = 0.7
	}

	o := &cfg.Orchestrator
	o.PollInterval = normalize(o.PollInterval, 2*time.Second)
	if o.PollAttempts <= 0 {
		o.PollAttempts = 60
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 100
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 16
	}
	if o.Backlog <= 0 {
		o.Backlog = 64
	}
	o.Retention = normalize(o.Retention, 24*time.Hour)

	q := &cfg.Queue
	q.IdleInterval = normalize(q.IdleInterval, time.Second)
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 3
	}
	if q.RateLimit <= 0 {
		q.RateLimit = 10
	}
	q.RateWindow = normalize(q.RateWindow, time.Second)
	q.Retention = normalize(q.Retention, 24*time.Hour)

	cfg.Reconciler.Interval = normalize(cfg.Reconciler.Interval, time.Minute)
	cfg.Reconciler.StaleAfter = normalize(cfg.Reconciler.StaleAfter, 15*time.Minute)
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 200
	}
	cfg.Janitor.Interval = normalize(cfg.Janitor.Interval, 10*time.Minute)

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./uploads"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.TokenTTL = normalize(cfg.HTTP.TokenTTL, 12*time.Hour)
}

// Minimal validation
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.OCR.BaseURL != "stub" {
		u, err := url.Parse(c.OCR.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("ocr.base_url must be an http(s) URL or \"stub\", got %q", c.OCR.BaseURL)
		}
	}
	if c.OCR.ReviewConfidence > 1 {
		return errors.New("ocr.review_confidence must be within (0,1]")
	}
	if c.Orchestrator.MaxBatchSize > 100 {
		return errors.New("orchestrator.max_batch_size cannot exceed 100")
	}
	if c.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is required")
	}
	return nil
}

func normalize(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
