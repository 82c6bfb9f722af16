package api

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"airmap/pkg/logging"
	"airmap/pkg/version"
)

// NewServer creates and configures the HTTP server.
// snaps and stream may be nil when snapshots or live updates are disabled.
func NewServer(addr string, m *MapHandler, stats *StatsHandler, snaps *SnapshotHandler, stream *StreamHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and meta
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/recent", handleRecentLog)
	mux.Handle("GET /api/stats", stats)

	// 2. Map state
	mux.HandleFunc("GET /api/state", m.HandleState)
	mux.HandleFunc("GET /api/aircraft", m.HandleAircraft)
	mux.HandleFunc("GET /api/aircraft/features", m.HandleFeatures)
	mux.HandleFunc("GET /api/aircraft/density", m.HandleDensity)
	mux.HandleFunc("GET /api/airspace", m.HandleAirspace)

	// 3. Actions
	mux.HandleFunc("POST /api/layers/{id}/toggle", m.HandleToggle)
	mux.HandleFunc("POST /api/refresh", m.HandleRefresh)

	// 4. History and live updates
	if snaps != nil {
		mux.Handle("GET /api/snapshots", snaps)
	}
	if stream != nil {
		mux.Handle("GET /api/stream", stream)
	}

	// 5. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      logRequests(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack passes websocket upgrades through to the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.RequestLogger.Info("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": %q}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
