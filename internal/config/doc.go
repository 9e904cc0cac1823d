// Package config loads, normalizes, and validates the TOML configuration
// shared by the easel daemon and CLI.
package config
