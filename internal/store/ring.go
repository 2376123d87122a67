package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one operational log line as served by GET /api/logs.
type LogEntry struct {
	TS    int64          `json:"ts"` // epoch ms
	Level string         `json:"level"`
	Msg   string         `json:"msg"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// LogRing keeps the newest N log entries in memory. Volatile.
type LogRing struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogRing returns a ring holding up to size entries.
func NewLogRing(size int) *LogRing {
	if size <= 0 {
		size = 500
	}
	return &LogRing{entries: make([]LogEntry, size)}
}

// Append adds an entry, evicting the oldest once the ring is full.
func (r *LogRing) Append(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// List returns the entries oldest first.
func (r *LogRing) List() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]LogEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// RingHandler wraps an slog.Handler and copies each record into a LogRing so
// the hub's own logging shows up under GET /api/logs.
type RingHandler struct {
	inner slog.Handler
	ring  *LogRing
	attrs []slog.Attr
	group string
}

// NewRingHandler returns a handler that writes to inner and also to ring.
func NewRingHandler(inner slog.Handler, ring *LogRing) *RingHandler {
	return &RingHandler{inner: inner, ring: ring}
}

// Enabled delegates to the inner handler.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle copies the record into the ring and delegates to the inner handler.
func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]any)
	if h.group != "" {
		meta["group"] = h.group
	}
	for _, a := range h.attrs {
		meta[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		meta[a.Key] = a.Value.Any()
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.ring.Append(LogEntry{
		TS:    ts.UnixMilli(),
		Level: r.Level.String(),
		Msg:   r.Message,
		Meta:  meta,
	})

	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingHandler{
		inner: h.inner.WithAttrs(attrs),
		ring:  h.ring,
		attrs: append(h.attrs, attrs...),
		group: h.group,
	}
}

// WithGroup returns a new handler with the given group.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &RingHandler{
		inner: h.inner.WithGroup(name),
		ring:  h.ring,
		attrs: h.attrs,
		group: newGroup,
	}
}
