// Package logging provides structured logging configuration for mockproxy.
//
// This package wraps log/slog to provide consistent logging across all
// components. It supports configurable log levels, output formats and an
// optional rotating log file.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatAuto,
//	})
//
//	logger.Info("proxy started", "listen", ":8080")
//	logger.Error("reload failed", "error", err)
//
// # Output Formats
//
//   - Text: Human-readable format for development
//   - JSON: Structured format for log aggregation systems
//   - Auto: Text on a terminal, JSON otherwise
//
// When Config.File.Path is set, entries are also written as JSON to that
// file, rotated by size and age.
//
// # Integration
//
// Components should accept a *slog.Logger in their constructor or via an
// option. If no logger is provided, use logging.Nop() for a no-op logger.
package logging
