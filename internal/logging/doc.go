// Package logging provides slog-based loggers with standardized field
// helpers and console/JSON handler selection.
package logging
