// Package config provides YAML-based configuration loading for gptreplay.
// Values from the file can be overridden with GPTREPLAY_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "gptreplay.yaml"

// Config is the top-level gptreplay configuration, loaded from gptreplay.yaml.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Seek     SeekConfig     `yaml:"seek"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Viewer   ViewerConfig   `yaml:"viewer"`
}

// DataConfig locates the session CSV.
type DataConfig struct {
	CSV string `yaml:"csv" env:"GPTREPLAY_CSV"`
}

// DatabaseConfig selects and addresses the session store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"GPTREPLAY_DB_DRIVER"`
	Path     string `yaml:"path" env:"GPTREPLAY_DB_PATH"`
	Host     string `yaml:"host" env:"GPTREPLAY_DB_HOST"`
	Port     int    `yaml:"port" env:"GPTREPLAY_DB_PORT"`
	User     string `yaml:"user" env:"GPTREPLAY_DB_USER"`
	Password string `yaml:"password" env:"GPTREPLAY_DB_PASSWORD"`
	Name     string `yaml:"name" env:"GPTREPLAY_DB_NAME"`
}

// ServerConfig holds viewer HTTP settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"GPTREPLAY_PORT"`
}

// PlaybackConfig tunes replay sessions.
type PlaybackConfig struct {
	FrameInterval   time.Duration `yaml:"frame_interval" env:"GPTREPLAY_FRAME_INTERVAL"`
	DefaultSpeed    float64       `yaml:"default_speed" env:"GPTREPLAY_DEFAULT_SPEED"`
	Speeds          []float64     `yaml:"speeds" env:"GPTREPLAY_SPEEDS" envSeparator:","`
	ProgressEpsilon float64       `yaml:"progress_epsilon"`
}

// SeekConfig bounds the arrival poll of a seek.
type SeekConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Tolerance    time.Duration `yaml:"tolerance"`
	MaxAttempts  int           `yaml:"max_attempts" env:"GPTREPLAY_SEEK_MAX_ATTEMPTS"`
}

// IngestConfig controls re-imports while serving.
type IngestConfig struct {
	Schedule string `yaml:"schedule" env:"GPTREPLAY_INGEST_SCHEDULE"`
	Watch    bool   `yaml:"watch" env:"GPTREPLAY_INGEST_WATCH"`
}

// ViewerConfig controls viewer sessions.
type ViewerConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"GPTREPLAY_IDLE_TIMEOUT"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	return cfg, err
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are applied before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Data.CSV == "" {
		c.Data.CSV = "data/replay_data.csv"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "gptreplay.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "gptreplay"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Playback.FrameInterval == 0 {
		c.Playback.FrameInterval = 16 * time.Millisecond
	}
	if c.Playback.DefaultSpeed == 0 {
		c.Playback.DefaultSpeed = 1
	}
	if len(c.Playback.Speeds) == 0 {
		c.Playback.Speeds = []float64{0.1, 0.5, 1, 1.5, 2, 3, 10, 100}
	}
	if c.Playback.ProgressEpsilon == 0 {
		c.Playback.ProgressEpsilon = 0.01
	}
	if c.Seek.PollInterval == 0 {
		c.Seek.PollInterval = 5 * time.Millisecond
	}
	if c.Seek.Tolerance == 0 {
		c.Seek.Tolerance = 50 * time.Millisecond
	}
	if c.Seek.MaxAttempts == 0 {
		c.Seek.MaxAttempts = 2000
	}
	if c.Viewer.IdleTimeout == 0 {
		c.Viewer.IdleTimeout = 30 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port %d is out of range", c.Database.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Playback.FrameInterval < 0 {
		errs = append(errs, "playback.frame_interval must be positive")
	}
	for i, s := range c.Playback.Speeds {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			errs = append(errs, fmt.Sprintf("playback.speeds[%d] must be a positive number", i))
		}
	}
	if !c.HasSpeed(c.Playback.DefaultSpeed) {
		errs = append(errs, fmt.Sprintf("playback.default_speed %g is not one of playback.speeds", c.Playback.DefaultSpeed))
	}
	if c.Playback.ProgressEpsilon < 0 {
		errs = append(errs, "playback.progress_epsilon must not be negative")
	}
	if c.Seek.PollInterval < 0 {
		errs = append(errs, "seek.poll_interval must be positive")
	}
	if c.Seek.Tolerance < 0 {
		errs = append(errs, "seek.tolerance must be positive")
	}
	if c.Seek.MaxAttempts < 0 {
		errs = append(errs, "seek.max_attempts must be positive")
	}
	if c.Ingest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Ingest.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("ingest.schedule: %v", err))
		}
	}
	if c.Viewer.IdleTimeout < 0 {
		errs = append(errs, "viewer.idle_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HasSpeed reports whether x is one of the configured speeds.
func (c *Config) HasSpeed(x float64) bool {
	for _, s := range c.Playback.Speeds {
		if math.Abs(s-x) < 1e-9 {
			return true
		}
	}
	return false
}
