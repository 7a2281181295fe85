// Package server exposes the scoring engine over HTTP: event ingest,
// session inspection, block reset, and the operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pagelock/riskd/internal/engine"
	"github.com/pagelock/riskd/internal/policy"
	"github.com/pagelock/riskd/internal/score"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Server is the HTTP front of the engine.
type Server struct {
	cfg        policy.ServerPolicy
	engine     *engine.Engine
	logger     *slog.Logger
	tracing    bool
	ln         net.Listener
	httpServer *http.Server
}

// New creates a server over the given engine.
func New(cfg policy.ServerPolicy, eng *engine.Engine, tracing bool, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, engine: eng, tracing: tracing, logger: logger}
}

// Start binds the listener and serves until Shutdown. Blocks.
func (s *Server) Start() error {
	bind := s.cfg.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}

	ln, actualPort, err := listenAutoPort(bind, s.cfg.Port, s.logger)
	if err != nil {
		return fmt.Errorf("binding server port: %w", err)
	}
	s.ln = ln
	s.cfg.Port = actualPort

	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info("server starting", "addr", s.ln.Addr().String())
	if err := s.httpServer.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleRecord)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /v1/sessions/{id}/terminate", s.handleTerminate)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": Version,
		})
	})

	var handler http.Handler = mux
	if s.tracing {
		handler = otelhttp.NewHandler(mux, "riskd")
	}
	return handler
}

// Port returns the actual port the server is bound to.
func (s *Server) Port() int {
	return s.cfg.Port
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// RecordRequest is the ingest payload.
type RecordRequest struct {
	SessionID     string            `json:"session_id"`
	Kind          string            `json:"kind"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	IdentityToken string            `json:"identity_token,omitempty"`
}

// RecordResponse is the committed outcome returned to the producer.
type RecordResponse struct {
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	Level     string `json:"level"`
	Discarded bool   `json:"discarded"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "session_id and kind are required")
		return
	}

	res, err := s.engine.Record(r.Context(), req.SessionID, req.Kind, req.Metadata, req.Attributes, req.IdentityToken)
	if err != nil {
		if errors.Is(err, score.ErrSessionEvicted) {
			writeError(w, http.StatusGone, "session evicted, recreate")
			return
		}
		s.logger.Error("record failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session could not be resolved")
		return
	}

	writeJSON(w, http.StatusOK, RecordResponse{
		SessionID: res.SessionID,
		Score:     res.Score,
		Level:     res.Level.String(),
		Discarded: res.Discarded,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.engine.Sessions()
	if snaps == nil {
		snaps = []score.Snap{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.engine.ResetBlock(id)
	switch {
	case errors.Is(err, score.ErrSessionNotFound), errors.Is(err, score.ErrSessionEvicted):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, score.ErrNotBlocked):
		writeError(w, http.StatusConflict, "session is not blocked")
		return
	case err != nil:
		s.logger.Error("reset failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{
		SessionID: res.SessionID,
		Score:     res.Score,
		Level:     res.Level.String(),
	})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Terminate(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated", "session_id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// listenAutoPort tries the configured port; if busy, scans up to 10 higher ports.
func listenAutoPort(bind string, port int, logger *slog.Logger) (net.Listener, int, error) {
	addr := fmt.Sprintf("%s:%d", bind, port)
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		actual := ln.Addr().(*net.TCPAddr).Port
		return ln, actual, nil
	}

	if !isAddrInUse(err) {
		return nil, 0, err
	}

	logger.Warn("port in use, searching for available port", "port", port)
	for offset := 1; offset <= 10; offset++ {
		tryPort := port + offset
		addr = fmt.Sprintf("%s:%d", bind, tryPort)
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			logger.Info("using alternative port", "original", port, "actual", tryPort)
			return ln, tryPort, nil
		}
	}
	return nil, 0, fmt.Errorf("port %d and next 10 ports are all in use", port)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.EADDRINUSE)
	}
	return false
}
