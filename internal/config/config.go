package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains HTTP listener and authentication configuration.
type Server struct {
	Bind         string `toml:"bind"`
	AuthPassword string `toml:"auth_password"`
	CookieSecure bool   `toml:"cookie_secure"`
	MaxUploadMB  int    `toml:"max_upload_mb"`
}

// Sessions contains session lifetime and per-session resource limits.
type Sessions struct {
	TTLMinutes             int `toml:"ttl_minutes"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
	HistorySize            int `toml:"history_size"`
	MaxParallelJobs        int `toml:"max_parallel_jobs"`
}

// Inference contains configuration for the generation backend.
type Inference struct {
	URL                   string   `toml:"url"`
	HostAliases           []string `toml:"host_aliases"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`
	ConnectAttempts       int      `toml:"connect_attempts"`
	ConnectBackoffSeconds float64  `toml:"connect_backoff_seconds"`
}

// Scheduler contains queue backpressure and degrade-mode thresholds.
type Scheduler struct {
	OverloadThreshold    int     `toml:"overload_threshold"`
	RecoveryThreshold    int     `toml:"recovery_threshold"`
	TargetLatencySeconds float64 `toml:"target_latency_seconds"`
	LatencyWindow        int     `toml:"latency_window"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for easel.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Server    Server    `toml:"server"`
	Sessions  Sessions  `toml:"sessions"`
	Inference Inference `toml:"inference"`
	Scheduler Scheduler `toml:"scheduler"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/easel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("easel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionTTL returns the session time-to-live as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLMinutes) * time.Minute
}

// CleanupInterval returns how often the session cleanup loop runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalSeconds) * time.Second
}

// InferenceTimeout returns the per-request inference timeout.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}

// ConnectBackoff returns the fixed delay between connection attempts,
// clamped to zero.
func (c *Config) ConnectBackoff() time.Duration {
	if c.Inference.ConnectBackoffSeconds < 0 {
		return 0
	}
	return time.Duration(c.Inference.ConnectBackoffSeconds * float64(time.Second))
}

// TargetLatency returns the degrade-mode latency target.
func (c *Config) TargetLatency() time.Duration {
	return time.Duration(c.Scheduler.TargetLatencySeconds * float64(time.Second))
}

// ExpandPath resolves ~ and relative segments to an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
