package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting of a session and of the report service.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Capture    CaptureConfig    `yaml:"capture"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Cache      CacheConfig      `yaml:"cache"`
}

// SessionConfig locates the session logs and the question bank.
type SessionConfig struct {
	LogDir        string `yaml:"logDir" env:"AFFECT_LOG_DIR"`
	QuestionsPath string `yaml:"questionsPath" env:"AFFECT_QUESTIONS_PATH"`
}

// CaptureConfig tunes the camera sampling loop.
type CaptureConfig struct {
	Source         string        `yaml:"source" env:"AFFECT_CAPTURE_SOURCE"`
	DeviceIndex    int           `yaml:"deviceIndex" env:"AFFECT_CAPTURE_DEVICE"`
	FramesRoot     string        `yaml:"framesRoot" env:"AFFECT_CAPTURE_FRAMES_ROOT"`
	SampleInterval time.Duration `yaml:"sampleInterval" env:"AFFECT_CAPTURE_INTERVAL"`
	PollSlice      time.Duration `yaml:"pollSlice" env:"AFFECT_CAPTURE_POLL_SLICE"`
	StopGrace      time.Duration `yaml:"stopGrace" env:"AFFECT_CAPTURE_STOP_GRACE"`
	OpenTimeout    time.Duration `yaml:"openTimeout" env:"AFFECT_CAPTURE_OPEN_TIMEOUT"`
}

// Capture sources.
const (
	SourceDirectory = "directory"
	SourcePattern   = "pattern"
)

// ClassifierConfig locates the model artifact.
type ClassifierConfig struct {
	ModelPath   string `yaml:"modelPath" env:"AFFECT_MODEL_PATH"`
	InputWidth  int    `yaml:"inputWidth" env:"AFFECT_MODEL_INPUT_WIDTH"`
	InputHeight int    `yaml:"inputHeight" env:"AFFECT_MODEL_INPUT_HEIGHT"`
}

// LoggingConfig controls structured logging. File redirects logs away from the terminal.
type LoggingConfig struct {
	Level string `yaml:"level" env:"AFFECT_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"AFFECT_LOG_JSON"`
	File  string `yaml:"file" env:"AFFECT_LOG_FILE"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"AFFECT_SERVER_ADDRESS"`
	MetricsAddress  string        `yaml:"metricsAddress" env:"AFFECT_METRICS_ADDRESS"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" env:"AFFECT_SERVER_GRACEFUL_TIMEOUT"`
}

// ArchiveConfig controls the SQLite report archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" env:"AFFECT_ARCHIVE_ENABLED"`
	Path    string `yaml:"path" env:"AFFECT_ARCHIVE_PATH"`
}

// CacheConfig controls the in-process report cache in front of the archive.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" env:"AFFECT_CACHE_ENABLED"`
	TTL        time.Duration `yaml:"ttl" env:"AFFECT_CACHE_TTL"`
	MaxEntries int           `yaml:"maxEntries" env:"AFFECT_CACHE_MAX_ENTRIES"`
}

// Load builds Config from defaults, then the YAML file, then a .env file, then AFFECT_*
// environment variables. An empty path falls back to AFFECT_CONFIG; no file at all is fine.
func Load(path string) (*Config, error) {
	return LoadWithDotenv(path, ".env")
}

// LoadWithDotenv is Load with an explicit .env location. A missing .env file is ignored.
// Variables already present in the environment win over the .env file.
func LoadWithDotenv(path, dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	if path == "" {
		path = os.Getenv("AFFECT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	switch c.Capture.Source {
	case SourceDirectory, SourcePattern:
	default:
		return fmt.Errorf("capture.source must be %q or %q, got %q", SourceDirectory, SourcePattern, c.Capture.Source)
	}
	if c.Capture.DeviceIndex < 0 {
		return fmt.Errorf("capture.deviceIndex must not be negative")
	}
	if c.Capture.SampleInterval <= 0 {
		return fmt.Errorf("capture.sampleInterval must be positive")
	}
	if c.Capture.PollSlice <= 0 || c.Capture.PollSlice > c.Capture.SampleInterval {
		return fmt.Errorf("capture.pollSlice must be positive and no longer than the sample interval")
	}
	if c.Capture.StopGrace <= 0 || c.Capture.OpenTimeout <= 0 {
		return fmt.Errorf("capture.stopGrace and capture.openTimeout must be positive")
	}
	if c.Classifier.InputWidth < 0 || c.Classifier.InputHeight < 0 {
		return fmt.Errorf("classifier input size must not be negative")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the archive is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{LogDir: "logs"},
		Capture: CaptureConfig{
			Source:         SourceDirectory,
			DeviceIndex:    0,
			FramesRoot:     "/var/lib/mirador-affect/frames",
			SampleInterval: time.Second,
			PollSlice:      100 * time.Millisecond,
			StopGrace:      2500 * time.Millisecond,
			OpenTimeout:    5 * time.Second,
		},
		Classifier: ClassifierConfig{ModelPath: "models/emotion.json", InputWidth: 224, InputHeight: 224},
		Logging:    LoggingConfig{Level: "info", JSON: false},
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{Enabled: false, Path: "reports.db"},
		Cache:   CacheConfig{Enabled: true, TTL: 10 * time.Minute, MaxEntries: 256},
	}
}
