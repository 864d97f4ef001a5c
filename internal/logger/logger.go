// Package logger provides the small leveled logger used throughout
// magicmount, modeled on snapd's package-level logger idiom: a
// process-wide default writer, Debugf/Infof/Warnf/Errorf free
// functions, and MockWriter/SetDebug helpers for tests.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level selects which messages reach the writer.
type Level int

const (
	LevelError Level = iota
	LevelNotice
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelError:  "ERROR",
	LevelNotice: "WARN",
	LevelInfo:   "INFO",
	LevelDebug:  "DEBUG",
}

type logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

var std = &logger{out: os.Stderr, level: defaultLevel()}

func defaultLevel() Level {
	if os.Getenv("MAGICMOUNT_DEBUG") != "" {
		return LevelDebug
	}
	return LevelInfo
}

func (l *logger) log(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.out, "%s %s: %s\n", ts, levelNames[level], fmt.Sprintf(format, v...))
}

// Debugf logs a debug-level message (LOGD in the original source).
func Debugf(format string, v ...interface{}) { std.log(LevelDebug, format, v...) }

// Infof logs an informational message (LOGI in the original source).
func Infof(format string, v ...interface{}) { std.log(LevelInfo, format, v...) }

// Warnf logs a recoverable-warning message (LOGW in the original
// source): lstat-miss on a mirrored sibling, failed read-only remounts
// and propagation changes, staging-directory removal errors.
func Warnf(format string, v ...interface{}) { std.log(LevelNotice, format, v...) }

// Errorf logs a failure that is attributed to a node or module (LOGE in
// the original source).
func Errorf(format string, v ...interface{}) { std.log(LevelError, format, v...) }

// MockWriter redirects the default logger's output for the duration of
// a test and returns a restore function, mirroring snapd's
// logger.MockLogger test helper.
func MockWriter(w io.Writer) (restore func()) {
	std.mu.Lock()
	old := std.out
	std.out = w
	std.mu.Unlock()
	return func() {
		std.mu.Lock()
		std.out = old
		std.mu.Unlock()
	}
}

// SetDebug forces debug-level logging on or off and returns a restore
// function.
func SetDebug(enabled bool) (restore func()) {
	std.mu.Lock()
	old := std.level
	if enabled {
		std.level = LevelDebug
	} else {
		std.level = LevelInfo
	}
	std.mu.Unlock()
	return func() {
		std.mu.Lock()
		std.level = old
		std.mu.Unlock()
	}
}
