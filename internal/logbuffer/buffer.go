/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the recent tail of application and encoder output
// in memory so operators can read it without shell access.
package logbuffer

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single captured line.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Level     string                 `json:"level,omitempty"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a new log buffer with the specified capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add adds a log entry to the buffer.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// GetAll returns all log entries in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]LogEntry, b.count)
	if b.count == 0 {
		return result
	}

	start := 0
	if b.count == b.capacity {
		start = b.head
	}

	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.capacity]
	}
	return result
}

// QueryParams filters Query results.
type QueryParams struct {
	Source string    // "app", "relay", "pusher"; empty matches all
	Search string    // case-insensitive substring of the message
	Since  time.Time // only entries after this time
	Limit  int       // newest N entries (0 = all)
}

// Query returns entries matching the filter, oldest first.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	all := b.GetAll()
	search := strings.ToLower(params.Search)

	var filtered []LogEntry
	for _, entry := range all {
		if params.Source != "" && entry.Source != params.Source {
			continue
		}
		if !params.Since.IsZero() && entry.Timestamp.Before(params.Since) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(entry.Message), search) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[len(filtered)-params.Limit:]
	}
	return filtered
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Writer wraps the buffer to implement io.Writer for zerolog JSON output.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer that captures logs to the buffer.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (n int, err error) {
	var rawEntry map[string]interface{}
	if err := json.Unmarshal(p, &rawEntry); err == nil {
		entry := LogEntry{
			Timestamp: time.Now(),
			Source:    "app",
			Fields:    make(map[string]interface{}),
		}

		if lvl, ok := rawEntry["level"].(string); ok {
			entry.Level = lvl
			delete(rawEntry, "level")
		}
		if msg, ok := rawEntry["message"].(string); ok {
			entry.Message = msg
			delete(rawEntry, "message")
		}
		if comp, ok := rawEntry["component"].(string); ok {
			entry.Component = comp
			delete(rawEntry, "component")
		}
		delete(rawEntry, "time")

		for k, v := range rawEntry {
			entry.Fields[k] = v
		}

		w.buffer.Add(entry)
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

// LineWriter splits raw process output into lines tagged with source and
// mirrors every byte to an optional passthrough writer.
type LineWriter struct {
	buffer      *Buffer
	source      string
	passthrough io.Writer

	mu      sync.Mutex
	partial []byte
}

// NewLineWriter creates a LineWriter. buffer may be nil, in which case the
// writer only forwards to passthrough.
func NewLineWriter(buffer *Buffer, source string, passthrough io.Writer) *LineWriter {
	return &LineWriter{buffer: buffer, source: source, passthrough: passthrough}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	if w.passthrough != nil {
		if _, err := w.passthrough.Write(p); err != nil {
			return 0, err
		}
	}
	if w.buffer == nil {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		// ffmpeg rewrites its status line with \r
		idx := bytes.IndexAny(w.partial, "\r\n")
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:idx]))
		w.partial = w.partial[idx+1:]
		if line == "" {
			continue
		}
		w.buffer.Add(LogEntry{Timestamp: time.Now(), Source: w.source, Message: line})
	}
	return len(p), nil
}
