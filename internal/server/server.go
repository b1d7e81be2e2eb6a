// Package server exposes Furby sessions over a REST and WebSocket API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/cache"
	"github.com/chaz8081/gofluff/internal/dlc"
)

// Options configures request handling.
type Options struct {
	// ConnectTimeout and ConnectRetries apply when a connect request omits them.
	ConnectTimeout time.Duration
	ConnectRetries int
	// ScanTimeout is the default discovery window.
	ScanTimeout time.Duration
	// Flourish greets every new session with the antenna flash.
	Flourish bool
	// DefaultSlot is the upload slot when the request names none.
	DefaultSlot uint8
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.ConnectRetries <= 0 {
		o.ConnectRetries = 3
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 10 * time.Second
	}
	return o
}

// Server routes HTTP requests to registered sessions.
type Server struct {
	registry *Registry
	cache    *cache.Cache
	logs     *LogHub
	opts     Options
}

// New creates a server. logs may be nil to disable /ws/logs.
func New(registry *Registry, c *cache.Cache, logs *LogHub, opts Options) *Server {
	return &Server{
		registry: registry,
		cache:    c,
		logs:     logs,
		opts:     opts.withDefaults(),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /discover", s.handleDiscover)

	mux.HandleFunc("POST /sessions", s.handleConnect)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDisconnect)

	mux.HandleFunc("POST /sessions/{id}/antenna", s.handleAntenna)
	mux.HandleFunc("POST /sessions/{id}/action", s.handleAction)
	mux.HandleFunc("POST /sessions/{id}/actions/sequence", s.handleSequence)
	mux.HandleFunc("POST /sessions/{id}/lcd/{state}", s.handleLCD)
	mux.HandleFunc("POST /sessions/{id}/debug", s.handleDebug)
	mux.HandleFunc("POST /sessions/{id}/name/{nameID}", s.handleName)
	mux.HandleFunc("POST /sessions/{id}/mood", s.handleMood)
	mux.HandleFunc("GET /sessions/{id}/info", s.handleInfo)

	mux.HandleFunc("POST /sessions/{id}/dlc", s.handleUpload)
	mux.HandleFunc("POST /sessions/{id}/dlc/{slot}/load", s.handleLoadDLC)
	mux.HandleFunc("POST /sessions/{id}/dlc/activate", s.handleActivateDLC)
	mux.HandleFunc("POST /sessions/{id}/dlc/{slot}/deactivate", s.handleDeactivateDLC)
	mux.HandleFunc("DELETE /sessions/{id}/dlc/{slot}", s.handleDeleteDLC)

	mux.HandleFunc("GET /known-furbies", s.handleKnownList)
	mux.HandleFunc("DELETE /known-furbies", s.handleKnownClear)
	mux.HandleFunc("DELETE /known-furbies/{address}", s.handleKnownRemove)

	mux.HandleFunc("GET /ws/sessions/{id}/sensors", s.handleSensorStream)
	mux.HandleFunc("GET /ws/logs", s.handleLogStream)

	return corsMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and disconnects every session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[Server] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.registry.Close()
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.registry.Close()
	if s.logs != nil {
		s.logs.Close()
	}
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// response is the envelope of every JSON reply.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: message, Data: data})
}

// badRequestError marks a request the client must fix.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func errNotConnected(e *Entry) error {
	return fmt.Errorf("session %s: %w", e.ID, ble.ErrNotConnected)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad), errors.Is(err, dlc.ErrInvalidUpload), errors.Is(err, ble.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ble.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ble.ErrConnectionFailed), errors.Is(err, ble.ErrNoDevice), errors.Is(err, dlc.ErrUploadRejected):
		return http.StatusBadGateway
	case errors.Is(err, dlc.ErrUploadNotAcknowledged), errors.Is(err, dlc.ErrUploadTimeout),
		errors.Is(err, ble.ErrNoFirmwareReply), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("[Server] request failed", "status", status, "error", err)
	}
	writeJSON(w, status, response{Success: false, Message: err.Error()})
}
