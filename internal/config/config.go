// Package config loads service and solver settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"vrpga/internal/opt"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Solver   opt.Config     `yaml:"solver"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	RateRPS           float64       `yaml:"rateRps"` // 0 disables rate limiting
	RateBurst         int           `yaml:"rateBurst"`
	MaxConcurrentRuns int           `yaml:"maxConcurrentRuns"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	// MaxGenerations caps what a single API request may ask for.
	MaxGenerations int `yaml:"maxGenerations"`
	// ProgressEvery publishes a progress event every N generations.
	ProgressEvery int `yaml:"progressEvery"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"` // empty selects the in-memory store
	Migrate bool   `yaml:"migrate"`
}

type RedisConfig struct {
	URL string `yaml:"url"` // empty selects the in-process broker
}

type WebhookConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	Secret       string        `yaml:"secret"` // used when a request carries no callbackSecret
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			RateBurst:         20,
			MaxConcurrentRuns: 2,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxGenerations:    5000,
			ProgressEvery:     10,
		},
		Database: DatabaseConfig{Migrate: true},
		Solver:   opt.DefaultConfig(),
		Webhooks: WebhookConfig{
			MaxAttempts:  10,
			PollInterval: time.Second,
			Timeout:      5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (or $CONFIG_FILE when path is empty) over the defaults,
// applies environment overrides and validates the result. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PORT", &cfg.Server.Port)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("WEBHOOK_SECRET", &cfg.Webhooks.Secret)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		cfg.Database.Migrate = v != "false"
	}
	if v, ok := lookup("RATE_RPS"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("env RATE_RPS: %w", err)
		}
		cfg.Server.RateRPS = f
	}
	if err := num("RATE_BURST", &cfg.Server.RateBurst); err != nil {
		return err
	}
	if err := num("MAX_CONCURRENT_RUNS", &cfg.Server.MaxConcurrentRuns); err != nil {
		return err
	}
	return num("WEBHOOK_MAX_ATTEMPTS", &cfg.Webhooks.MaxAttempts)
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port: %w", err)
	}
	if c.Server.RateRPS < 0 {
		return fmt.Errorf("server.rateRps must be >= 0")
	}
	if c.Server.RateRPS > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rateBurst must be >= 1 when rate limiting is on")
	}
	if c.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("server.maxConcurrentRuns must be >= 1")
	}
	if c.Server.MaxGenerations < 0 {
		return fmt.Errorf("server.maxGenerations must be >= 0")
	}
	if c.Server.ProgressEvery < 1 {
		return fmt.Errorf("server.progressEvery must be >= 1")
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.maxAttempts must be >= 1")
	}
	if c.Webhooks.PollInterval <= 0 {
		return fmt.Errorf("webhooks.pollInterval must be > 0")
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return ":" + c.Server.Port }
