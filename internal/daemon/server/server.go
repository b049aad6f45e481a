// Package server provides the HTTP server for the trail daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/internal/daemon/hub"
	"github.com/grovetools/trail/internal/daemon/intake"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger        *logrus.Entry
	mu            sync.Mutex
	server        *http.Server
	closed        bool
	intake        *intake.Intake
	hub           *hub.Hub
	runningConfig *models.RunningConfig
	startedAt     time.Time
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger:    logger,
		startedAt: time.Now(),
	}
}

// SetIntake sets the command intake the server forwards requests to.
func (s *Server) SetIntake(in *intake.Intake) {
	s.intake = in
}

// SetHub sets the event hub streamed to clients.
func (s *Server) SetHub(h *hub.Hub) {
	s.hub = h
}

// SetRunningConfig sets the running configuration served on /api/config.
func (s *Server) SetRunningConfig(cfg *models.RunningConfig) {
	s.runningConfig = cfg
	if cfg != nil && !cfg.StartedAt.IsZero() {
		s.startedAt = cfg.StartedAt
	}
}

// Handler returns the daemon's HTTP API, with h2c support.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/watched", s.handleWatched)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.HandleFunc("/api/config", s.handleGetConfig)

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return s.Serve(listener)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.WithField("addr", l.Addr().String()).Info("Daemon listening")
	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  "ok",
		Version: version.Version,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.hub != nil {
		if ev, ok := s.hub.Latest(models.EventUpdateWatched); ok {
			var paths []string
			if err := ev.Decode(&paths); err == nil {
				health.Watched = len(paths)
			}
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// handleWatched handles GET/POST for the watch set.
// POST replaces the desired set, GET asks the engine for the current one.
func (s *Server) handleWatched(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req models.WatchList
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.Protocol(fmt.Sprintf("invalid request body: %v", err)))
			return
		}
		if req.Paths == nil {
			req.Paths = []string{}
		}
		paths, err := s.intake.SetWatched(req.Paths)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.logger.WithField("count", len(paths)).Debug("Watch set posted")
		writeJSON(w, http.StatusAccepted, models.WatchList{Paths: paths})

	case http.MethodGet:
		paths, err := s.intake.WatchedFiles(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.WatchList{Paths: paths})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHistory returns the recent changes of ?path= as JSON.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	history, err := s.intake.SelectFile(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleStream provides Server-Sent Events (SSE) for every emitted event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	// Ensure the connection supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	// Send initial ping to confirm connection
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	// Send the current watch set immediately so the client has data right away
	if ev, ok := s.hub.Latest(models.EventUpdateWatched); ok {
		writeSSE(w, ev)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runningConfig)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeProtocol, errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case errors.ErrCodeDaemonUnavailable:
		status = http.StatusServiceUnavailable
	case "":
		code = errors.ErrCodeInternal
	}

	msg := err.Error()
	if te, ok := err.(*errors.TrailError); ok {
		msg = te.Message
	}
	s.logger.WithError(err).WithField("status", status).Debug("Request failed")
	writeJSON(w, status, models.ErrorPayload{Code: string(code), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// SSE format: "event: name\ndata: {json}\n\n"
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
}
