package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log record as served by the log API.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Token         string            `json:"token,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

const defaultHubCapacity = 512

// StreamHub keeps the most recent events in a ring and wakes long-polling
// readers when new ones arrive.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	head    int // index of the oldest event
	size    int
	lastSeq uint64
	changed chan struct{}
}

// NewStreamHub returns a hub retaining up to capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = defaultHubCapacity
	}
	return &StreamHub{ring: make([]LogEvent, capacity), changed: make(chan struct{})}
}

// Publish stamps evt with the next sequence and stores it, evicting the
// oldest event when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.head+h.size)%capacity] = evt
		h.size++
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % capacity
	}
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to limit events newer than since plus the cursor to pass
// next time. With wait set it blocks until an event arrives or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	for {
		h.mu.Lock()
		events := h.after(since, limit)
		next, changed := h.lastSeq, h.changed
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, next, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the newest limit events and the current cursor.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.clamp(limit)
	return h.slice(h.size-n, n), h.lastSeq
}

// FirstSequence is the oldest sequence still retained. Readers holding an
// older cursor have missed events.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return h.lastSeq
	}
	return h.ring[h.head].Sequence
}

func (h *StreamHub) clamp(limit int) int {
	if limit <= 0 || limit > h.size {
		return h.size
	}
	return limit
}

// after must be called with mu held.
func (h *StreamHub) after(since uint64, limit int) []LogEvent {
	if h.size == 0 || since >= h.lastSeq {
		return nil
	}
	oldest := h.ring[h.head].Sequence
	skip := 0
	if since >= oldest {
		skip = int(since - oldest + 1)
	}
	n := h.size - skip
	if limit > 0 && limit < n {
		n = limit
	}
	return h.slice(skip, n)
}

func (h *StreamHub) slice(offset, n int) []LogEvent {
	out := make([]LogEvent, n)
	for i := range n {
		out[i] = h.ring[(h.head+offset+i)%len(h.ring)]
	}
	return out
}

// streamHandler publishes every handled record to a hub before passing it on.
type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	attrs  []slog.Attr
	prefix string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	for _, attr := range h.attrs {
		evt.set(attr.Key, attr.Value)
	}
	// call-site attrs win over logger-scoped ones
	record.Attrs(func(attr slog.Attr) bool {
		evt.set(h.prefix+attr.Key, attr.Value)
		return true
	})
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.prefix + attr.Key
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (evt *LogEvent) set(key string, value slog.Value) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	text := plainValue(value)
	switch key {
	case FieldToken:
		evt.Token = text
	case FieldStage:
		evt.Stage = text
	case FieldJobID:
		evt.JobID = text
	case FieldCorrelationID:
		evt.CorrelationID = text
	case FieldComponent:
		evt.Component = text
	default:
		if evt.Fields == nil {
			evt.Fields = make(map[string]string)
		}
		evt.Fields[key] = text
	}
}
