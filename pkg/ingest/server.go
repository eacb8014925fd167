package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/balaan/admindash/pkg/types"
)

// Server timeouts.
const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	serverIdleTimeout  = 120 * time.Second
	shutdownTimeout    = 5 * time.Second
	maxRequestBytes    = 1 << 20
)

// Router returns the HTTP surface of the ingestion service.
func (j *Job) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/test-crash", j.handleTestCrash).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/realtime", j.handleRealtime).Methods(http.MethodPost)
	r.HandleFunc("/healthz", j.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte("Crash sync service\nHealth endpoint: /healthz\n")); err != nil {
			slog.Error("Failed to write response", "component", "ingest", "error", err)
		}
	})
	return r
}

// Serve runs the HTTP surface on addr until ctx is done.
func (j *Job) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      j.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "component", "ingest", "addr", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down HTTP server", "component", "ingest")
		return server.Shutdown(shutdownCtx)
	}
}

type testCrashResponse struct {
	Message string `json:"message"`
	CrashID string `json:"crash_id"`
	Success bool   `json:"success"`
}

type realtimeResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (j *Job) handleTestCrash(w http.ResponseWriter, r *http.Request) {
	crashID, err := j.CreateTestCrash(r.Context())
	if err != nil {
		slog.Error("Test crash failed", "component", "ingest", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, testCrashResponse{
		Success: true,
		Message: "Test crash created",
		CrashID: crashID,
	})
}

func (j *Job) handleRealtime(w http.ResponseWriter, r *http.Request) {
	var c types.Crash
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid crash payload"})
		return
	}
	if c.ErrorType == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "error_type is required"})
		return
	}

	id, err := j.HandleRealtime(r.Context(), c)
	if err != nil {
		slog.Error("Realtime crash failed", "component", "ingest", "crash_id", c.CrashlyticsID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, realtimeResponse{Success: true, ID: id})
}

type healthResponse struct {
	Status
	State string `json:"status"`
}

func (j *Job) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: j.Status(), State: "ok"}
	code := http.StatusOK
	if j.Stale() {
		resp.State = "stale"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "component", "ingest", "error", err)
	}
}
