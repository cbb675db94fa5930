// Package config loads nidsguard configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "nidsguard.yaml"

// Config holds nidsguard configuration.
type Config struct {
	ModelsDir string         `yaml:"models_dir"`
	Server    ServerConfig   `yaml:"server"`
	Client    ClientConfig   `yaml:"client"`
	Capture   CaptureConfig  `yaml:"capture"`
	Logging   LoggingConfig  `yaml:"logging"`
	Training  TrainingConfig `yaml:"training"`
}

type ServerConfig struct {
	Addr            string          `yaml:"addr"` // HTTP listen address, e.g. ":8000"
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits requests per client IP. Zero QPS disables it.
type RateLimitConfig struct {
	QPS   float64 `yaml:"qps"`
	Burst int     `yaml:"burst"`
}

type ClientConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CaptureConfig struct {
	Snaplen     int           `yaml:"snaplen"`
	Promiscuous bool          `yaml:"promiscuous"`
	Filter      string        `yaml:"filter"` // BPF expression
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type TrainingConfig struct {
	TrainFile         string  `yaml:"train_file"`
	TestFile          string  `yaml:"test_file"`
	SyntheticTrain    int     `yaml:"synthetic_train"`
	SyntheticTest     int     `yaml:"synthetic_test"`
	Trees             int     `yaml:"trees"`
	MaxDepth          int     `yaml:"max_depth"`
	AnomalyTrees      int     `yaml:"anomaly_trees"`
	AnomalySampleSize int     `yaml:"anomaly_sample_size"`
	Contamination     float64 `yaml:"contamination"`
	Seed              int64   `yaml:"seed"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "models"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimit.QPS > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = max(1, int(cfg.Server.RateLimit.QPS))
	}

	if cfg.Client.URL == "" {
		cfg.Client.URL = "http://localhost:8000/predict"
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = 10 * time.Second
	}

	if cfg.Capture.Snaplen == 0 {
		cfg.Capture.Snaplen = 65535
	}
	if cfg.Capture.IdleTimeout == 0 {
		cfg.Capture.IdleTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	t := &cfg.Training
	if t.TrainFile == "" && t.SyntheticTrain == 0 {
		t.SyntheticTrain = 10000
	}
	if t.TestFile == "" && t.SyntheticTest == 0 {
		t.SyntheticTest = 2000
	}
	if t.Trees == 0 {
		t.Trees = 100
	}
	if t.AnomalyTrees == 0 {
		t.AnomalyTrees = 100
	}
	if t.AnomalySampleSize == 0 {
		t.AnomalySampleSize = 256
	}
	if t.Contamination == 0 {
		t.Contamination = 0.1
	}
	if t.Seed == 0 {
		t.Seed = 42
	}
}

// Validate checks the loaded config for required fields and safe values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelsDir) == "" {
		return errors.New("models_dir must be set")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	if c.Server.RateLimit.QPS < 0 {
		return errors.New("server.rate_limit.qps must not be negative")
	}
	if c.Server.RateLimit.QPS > 0 && c.Server.RateLimit.Burst < 1 {
		return errors.New("server.rate_limit.burst must be at least 1")
	}

	u, err := url.Parse(c.Client.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.url %q must be an http(s) URL", c.Client.URL)
	}
	if c.Client.Timeout <= 0 {
		return errors.New("client.timeout must be positive")
	}

	if c.Capture.Snaplen <= 0 {
		return errors.New("capture.snaplen must be positive")
	}
	if c.Capture.IdleTimeout <= 0 {
		return errors.New("capture.idle_timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return c.Training.validate()
}

func (t *TrainingConfig) validate() error {
	if t.TrainFile == "" && t.SyntheticTrain <= 0 {
		return errors.New("training.train_file or training.synthetic_train must be set")
	}
	if t.SyntheticTrain < 0 || t.SyntheticTest < 0 {
		return errors.New("training synthetic row counts must not be negative")
	}
	if t.Trees <= 0 {
		return errors.New("training.trees must be positive")
	}
	if t.MaxDepth < 0 {
		return errors.New("training.max_depth must not be negative")
	}
	if t.AnomalyTrees <= 0 {
		return errors.New("training.anomaly_trees must be positive")
	}
	if t.AnomalySampleSize <= 0 {
		return errors.New("training.anomaly_sample_size must be positive")
	}
	if t.Contamination <= 0 || t.Contamination >= 0.5 {
		return fmt.Errorf("training.contamination %v must be in (0, 0.5)", t.Contamination)
	}
	return nil
}
