// Package logger provides logging helpers for bootstrap code and a
// factory for the structured loggers used by module services.
package logger

import (
	"log"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Info logs informational messages
func Info(format string, args ...interface{}) {
	log.Printf("INFO: "+format, args...)
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	log.Printf("WARN: "+format, args...)
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	log.Printf("ERROR: "+format, args...)
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	log.Printf("DEBUG: "+format, args...)
}

// New returns a named structured logger. The level is taken from
// MASKTRACE_LOG_LEVEL and defaults to info.
func New(name string) hclog.Logger {
	level := hclog.Info
	if v := os.Getenv("MASKTRACE_LOG_LEVEL"); v != "" {
		if parsed := hclog.LevelFromString(strings.ToLower(v)); parsed != hclog.NoLevel {
			level = parsed
		}
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Output: os.Stderr,
	})
}
