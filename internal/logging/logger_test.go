package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, err := New(Options{Level: "debug", Format: "json", LogDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("started")

	if _, err := os.Stat(filepath.Join(dir, "easeld.log")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
