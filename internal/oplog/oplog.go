// Package oplog keeps a bounded in-memory ring of operational events so the
// ops endpoint can show recent pipeline activity without log access.
package oplog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/notify/internal/logger"
)

// Entry is one recorded operational event.
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Log is a fixed-capacity ring buffer of entries. Every Record also emits a
// structured log line, so the ring is a window, not the source of truth.
//
// Thread-safety: all methods are safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	logger  *logger.Logger
}

// New creates a ring with the given capacity (minimum 16).
func New(capacity int, log *logger.Logger) *Log {
	if capacity < 16 {
		capacity = 16
	}
	return &Log{
		entries: make([]Entry, capacity),
		logger:  log,
	}
}

// Record appends an event and emits it through the structured logger.
func (l *Log) Record(level slog.Level, component, message string, fields map[string]interface{}) {
	entry := Entry{
		Time:      time.Now().UTC(),
		Level:     level.String(),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.logger.WithComponent(component).Log(context.Background(), level, message, args...)
}

// Info records an info-level event.
func (l *Log) Info(component, message string, fields map[string]interface{}) {
	l.Record(slog.LevelInfo, component, message, fields)
}

// Warn records a warn-level event.
func (l *Log) Warn(component, message string, fields map[string]interface{}) {
	l.Record(slog.LevelWarn, component, message, fields)
}

// Error records an error-level event.
func (l *Log) Error(component, message string, fields map[string]interface{}) {
	l.Record(slog.LevelError, component, message, fields)
}

// Snapshot returns the recorded entries oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Entry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}

	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
