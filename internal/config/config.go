package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "offload.db"
	defaultBoundary   = "local"
	defaultTimeout    = 30 * time.Second

	envListenAddr      = "OFFLOAD_LISTEN_ADDR"
	envDBPath          = "OFFLOAD_DB_PATH"
	envLogLevel        = "OFFLOAD_LOG_LEVEL"
	envDefaultBoundary = "OFFLOAD_DEFAULT_BOUNDARY"
	envDefaultTimeout  = "OFFLOAD_DEFAULT_TIMEOUT"
	envWorkerPath      = "OFFLOAD_WORKER_PATH"
	envWorkerAddr      = "OFFLOAD_WORKER_ADDR"
	envTraceFile       = "OFFLOAD_TRACE_FILE"
	envConfigFile      = "OFFLOAD_CONFIG"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// DefaultBoundary names the boundary used when a request names none.
	DefaultBoundary string
	// DefaultTimeout bounds each wait for a worker message. Zero disables it.
	DefaultTimeout time.Duration

	// WorkerPath is the worker binary the process boundary runs. Empty
	// disables the process boundary.
	WorkerPath string
	// WorkerAddr is the address of a listening worker agent for the socket
	// boundary. Empty disables the socket boundary.
	WorkerAddr string

	// TraceFile receives exported spans. Empty disables tracing.
	TraceFile string
}

// fileConfig is the YAML shape of the config file. Unset keys leave the
// current value alone.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	DBPath          string `yaml:"db_path"`
	LogLevel        string `yaml:"log_level"`
	DefaultBoundary string `yaml:"default_boundary"`
	DefaultTimeout  string `yaml:"default_timeout"`
	WorkerPath      string `yaml:"worker_path"`
	WorkerAddr      string `yaml:"worker_addr"`
	TraceFile       string `yaml:"trace_file"`
}

// Load reads configuration from environment variables with sensible
// defaults, then overlays the YAML file named by OFFLOAD_CONFIG if set.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		DefaultBoundary: defaultBoundary,
		DefaultTimeout:  defaultTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDefaultBoundary); v != "" {
		cfg.DefaultBoundary = v
	}
	if v := os.Getenv(envDefaultTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envDefaultTimeout, err)
		}
		cfg.DefaultTimeout = d
	}
	cfg.WorkerPath = os.Getenv(envWorkerPath)
	cfg.WorkerAddr = os.Getenv(envWorkerAddr)
	cfg.TraceFile = os.Getenv(envTraceFile)

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.ListenAddr, fc.ListenAddr)
	set(&c.DBPath, fc.DBPath)
	set(&c.DefaultBoundary, fc.DefaultBoundary)
	set(&c.WorkerPath, fc.WorkerPath)
	set(&c.WorkerAddr, fc.WorkerAddr)
	set(&c.TraceFile, fc.TraceFile)
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.DefaultTimeout != "" {
		d, err := time.ParseDuration(fc.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("config file default_timeout: %w", err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
