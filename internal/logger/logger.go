// Package logger provides leveled logging for the trainctl server and
// launcher subsystems.
//
// The logger writes printf-style messages to stderr with a timestamp and
// level prefix. The CLI itself prints user-facing output with fmt; this
// package is for operational logging on the server side.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Level represents a logging severity level.
type Level int

const (
	// LevelDebug enables verbose diagnostic output.
	LevelDebug Level = iota

	// LevelInfo is the default level for operational messages.
	LevelInfo

	// LevelWarn is for recoverable problems worth surfacing.
	LevelWarn

	// LevelError is for failures that affect a request or job.
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu       sync.Mutex
	minLevel = LevelInfo
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// SetVerbose is a convenience switch between Info and Debug levels,
// wired to the CLI --verbose flag.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(LevelDebug)
	} else {
		SetLevel(LevelInfo)
	}
}

func logf(l Level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < minLevel {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", ts, levelNames[l], fmt.Sprintf(format, args...))
}

// Debug logs a message at debug level.
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args...) }

// Info logs a message at info level.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args...) }

// Warn logs a message at warning level.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args...) }

// Error logs a message at error level.
func Error(format string, args ...interface{}) { logf(LevelError, format, args...) }
