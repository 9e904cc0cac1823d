package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeSessions()
	c.normalizeInference()
	c.normalizeScheduler()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.AuthPassword == "" {
		if value, ok := os.LookupEnv("EASEL_AUTH_PASSWORD"); ok {
			c.Server.AuthPassword = value
		} else {
			c.Server.AuthPassword = defaultAuthPassword
		}
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeSessions() {
	if c.Sessions.TTLMinutes <= 0 {
		c.Sessions.TTLMinutes = defaultSessionTTLMinutes
	}
	if c.Sessions.CleanupIntervalSeconds <= 0 {
		c.Sessions.CleanupIntervalSeconds = defaultCleanupIntervalSeconds
	}
	if c.Sessions.HistorySize <= 0 {
		c.Sessions.HistorySize = defaultHistorySize
	}
	if c.Sessions.MaxParallelJobs <= 0 {
		c.Sessions.MaxParallelJobs = defaultMaxParallelJobs
	}
}

func (c *Config) normalizeInference() {
	c.Inference.URL = strings.TrimSpace(c.Inference.URL)
	if c.Inference.URL == "" {
		if value, ok := os.LookupEnv("EASEL_INFERENCE_URL"); ok {
			c.Inference.URL = strings.TrimSpace(value)
		} else {
			c.Inference.URL = defaultInferenceURL
		}
	}
	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultInferenceTimeout
	}
	if c.Inference.ConnectAttempts <= 0 {
		c.Inference.ConnectAttempts = defaultConnectAttempts
	}
	if c.Inference.ConnectBackoffSeconds < 0 {
		c.Inference.ConnectBackoffSeconds = 0
	}
	c.Inference.HostAliases = splitAliases(c.Inference.HostAliases)
}

// splitAliases flattens comma/semicolon separated alias entries, trims
// whitespace, and drops duplicates while preserving order.
func splitAliases(raw []string) []string {
	var aliases []string
	seen := make(map[string]struct{})
	for _, entry := range raw {
		entry = strings.ReplaceAll(entry, ";", ",")
		for _, token := range strings.Split(entry, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			aliases = append(aliases, token)
		}
	}
	return aliases
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.OverloadThreshold <= 0 {
		c.Scheduler.OverloadThreshold = defaultOverloadThreshold
	}
	if c.Scheduler.RecoveryThreshold < 0 {
		c.Scheduler.RecoveryThreshold = defaultRecoveryThreshold
	}
	if c.Scheduler.TargetLatencySeconds <= 0 {
		c.Scheduler.TargetLatencySeconds = defaultTargetLatencySeconds
	}
	if c.Scheduler.LatencyWindow <= 0 {
		c.Scheduler.LatencyWindow = defaultLatencyWindow
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "console", "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
