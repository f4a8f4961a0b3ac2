// Package logging configures log/slog for both checkaso binaries.
//
// Setup reads config.LoggingConfig: level (debug, info, warn, error),
// format (text or json) and an optional file. With a file, records go to
// stderr and to a lumberjack-rotated file, capped by max_size_mb,
// max_backups and max_age_days.
package logging
