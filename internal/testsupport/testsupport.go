// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"testing"

	"easel/internal/config"
)

// NewConfig returns a validated default configuration whose directories
// point into the test's temporary directory.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = base + "/data"
	cfg.Paths.LogDir = base + "/logs"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return &cfg
}
