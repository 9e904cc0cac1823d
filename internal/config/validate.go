package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind must be set")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

func (c *Config) validateInference() error {
	if strings.TrimSpace(c.Inference.URL) == "" {
		return errors.New("inference.url must be set")
	}
	for _, token := range strings.FieldsFunc(c.Inference.URL, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		candidate := token
		if !strings.Contains(candidate, "://") {
			candidate = "http://" + candidate
		}
		if _, err := url.Parse(candidate); err != nil {
			return fmt.Errorf("inference.url: invalid endpoint %q: %w", token, err)
		}
	}
	if c.Inference.ConnectAttempts < 1 {
		return errors.New("inference.connect_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.RecoveryThreshold >= c.Scheduler.OverloadThreshold {
		return errors.New("scheduler.recovery_threshold must be below scheduler.overload_threshold")
	}
	if c.Scheduler.LatencyWindow < 1 {
		return errors.New("scheduler.latency_window must be at least 1")
	}
	return nil
}
