// Package logging provides centralized logging functionality for the application.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

func init() {
	level := strings.ToLower(os.Getenv("GLIM_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	Setup(os.Stderr, level)
}

// Setup configures the logger with the specified output and level.
func Setup(w io.Writer, level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Debug logs a message at debug level.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs a message at info level.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs a message at warn level.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs a message at error level.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// MaskSensitive masks sensitive data for logging and display.
func MaskSensitive(value string) string {
	if value == "" {
		return "<not set>"
	}
	if len(value) <= 4 {
		return "<set>"
	}
	return value[:4] + "..." + strings.Repeat("*", 3)
}
