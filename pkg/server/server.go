// Package server exposes a read-only diagnostics HTTP API for the optimiser.
// It is intended for loopback use only and carries no authentication.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/engine"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
	"github.com/levenlabs/go-lflag"
)

// Server serves diagnostics about the running engine: the latest safety
// report, decision, plan and risk-ledger state.
type Server struct {
	engine  *engine.Engine
	storage storage.Database

	listenAddr string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(e *engine.Engine, s storage.Database) *Server {
	srv := &Server{
		engine:  e,
		storage: s,
	}

	listenAddr := lflag.String("http-listen", "127.0.0.1:8099", "diagnostics HTTP listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

// New creates a Server with explicit dependencies. This is primarily used
// for testing.
func New(e *engine.Engine, s storage.Database, listenAddr string) *Server {
	return &Server{
		engine:     e,
		storage:    s,
		listenAddr: listenAddr,
	}
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/safety", s.handleSafety)
	mux.HandleFunc("GET /api/plan", s.handlePlan)
	mux.HandleFunc("GET /api/drawdown", s.handleDrawdown)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return gziphandler.GzipHandler(mux)
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting diagnostics server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down diagnostics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Status(r.Context()))
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSONError(w, "invalid n parameter", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	writeJSON(w, struct {
		Stats   any `json:"stats"`
		History any `json:"history"`
	}{
		Stats:   s.engine.Monitor().Stats(),
		History: s.engine.Monitor().History(n),
	})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSONError(w, "invalid date parameter, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}
	plan, err := s.storage.GetPlan(r.Context(), date)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, "no plan for date", http.StatusNotFound)
		return
	} else if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load plan", slog.Any("err", err))
		writeJSONError(w, "failed to load plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, plan)
}

func (s *Server) handleDrawdown(w http.ResponseWriter, r *http.Request) {
	dd, err := s.storage.GetDailyDrawdown(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load drawdown", slog.Any("err", err))
		writeJSONError(w, "failed to load drawdown", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Days      any     `json:"days"`
		UsedToday float64 `json:"usedToday"`
	}{
		Days:      dd,
		UsedToday: s.engine.Ledger().UsedToday(r.Context()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	end := time.Now()
	start := end.AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSONError(w, "invalid start parameter, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = parsed
	}
	sessions, err := s.storage.GetCompletedSessions(r.Context(), start, end)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load sessions", slog.Any("err", err))
		writeJSONError(w, "failed to load sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, version, err := s.storage.GetSettings(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to load settings", slog.Any("err", err))
		writeJSONError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Version  int `json:"version"`
		Settings any `json:"settings"`
	}{
		Version:  version,
		Settings: settings,
	})
}
