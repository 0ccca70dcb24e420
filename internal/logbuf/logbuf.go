// Package logbuf keeps the most recent log records in memory so the ops
// API can serve them without a log shipper.
package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is a single log record captured from slog.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries in Query. Zero fields match everything except
// MinLevel, whose zero value is INFO.
type Filter struct {
	Since     time.Time
	MinLevel  slog.Level
	Component string
	RequestID string
	Limit     int // newest Limit entries when > 0
}

// Buffer is a thread-safe ring buffer of entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
	dropped uint64
}

// New creates a ring buffer holding up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends e, evicting the oldest entry when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	if b.count == b.size {
		b.dropped++
	}
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Len returns the number of buffered entries and how many were evicted.
func (b *Buffer) Len() (n int, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, b.dropped
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry

	start := 0
	if b.count == b.size {
		start = b.pos
	}
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%b.size]

		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if ParseLevel(e.Level) < f.MinLevel {
			continue
		}
		if f.Component != "" && !strings.EqualFold(e.Component, f.Component) {
			continue
		}
		if f.RequestID != "" && e.RequestID != f.RequestID {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// ParseLevel converts a level name to slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo
	}
	return l
}
