package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// logEntry is one record as sent to /ws/logs clients.
type logEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Type    string         `json:"type"` // "info", "success", "warning" or "error"
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogHub fans slog records out to WebSocket clients. Its Handler is meant
// to be combined with the process's normal handler.
type LogHub struct {
	level slog.Leveler

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewLogHub creates a hub that forwards records at or above level.
func NewLogHub(level slog.Leveler) *LogHub {
	return &LogHub{
		level:   level,
		clients: make(map[chan []byte]struct{}),
	}
}

// Handler returns the slog.Handler that feeds the hub.
func (h *LogHub) Handler() slog.Handler {
	return &hubHandler{hub: h}
}

// subscribe registers a client queue. The returned func removes and closes it.
func (h *LogHub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Clients returns the number of connected log clients.
func (h *LogHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LogHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// broadcast never blocks; a client that cannot keep up misses records.
func (h *LogHub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

type hubHandler struct {
	hub    *LogHub
	attrs  []slog.Attr
	groups []string
}

func (h *hubHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.hub.level.Level()
}

func (h *hubHandler) Handle(_ context.Context, r slog.Record) error {
	if h.hub.Clients() == 0 {
		return nil
	}

	entry := logEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Type:    logType(r.Level, r.Message),
		Message: r.Message,
	}
	if n := len(h.attrs) + r.NumAttrs(); n > 0 {
		entry.Attrs = make(map[string]any, n)
		prefix := strings.Join(h.groups, ".")
		for _, a := range h.attrs {
			addAttr(entry.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(entry.Attrs, prefix, a)
			return true
		})
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.hub.broadcast(data)
	return nil
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	out := &hubHandler{hub: h.hub, groups: h.groups}
	out.attrs = append(out.attrs, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		out.attrs = append(out.attrs, a)
	}
	return out
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &hubHandler{
		hub:    h.hub,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func addAttr(m map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(m, key, ga)
		}
		return
	}
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			m[key] = err.Error()
			return
		}
		m[key] = v.Any()
	case slog.KindDuration:
		m[key] = v.Duration().String()
	default:
		m[key] = v.Any()
	}
}

// logType buckets a record for the web UI.
func logType(level slog.Level, msg string) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warning"
	case strings.Contains(strings.ToLower(msg), "success") || strings.Contains(strings.ToLower(msg), "complete"):
		return "success"
	default:
		return "info"
	}
}
