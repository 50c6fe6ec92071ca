// Package logging provides structured logging configuration for apptest.
//
// This package wraps log/slog to provide consistent logging across all
// apptest components. It supports configurable log levels and output formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("container started", "baseURI", uri)
//
// # Named Loggers
//
// Library packages log through Named loggers. A named logger writes to the
// process-wide root handler (Root, SetRoot, Configure) and tags each record
// with its name under the "logger" key. The root handler is looked up on every
// record, so tests can swap it at any time.
//
// # Capturing Records
//
// StartCapture tees the root handler into a Recorder that keeps records at or
// above a level whose logger name matches a Filter:
//
//	c := logging.StartCapture(logging.LevelDebug, logging.Filter{
//	    Include: []string{"github.com/bstoi/apptest/**"},
//	})
//	defer c.Release()
//
// # Log Levels
//
// Besides the slog levels, LevelTrace sits below Debug and LevelConfig between
// Debug and Info.
package logging
