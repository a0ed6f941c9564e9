package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"modbusmgr/internal/domain"
	"modbusmgr/internal/service"
)

// Scheduler is the part of the scan scheduler the API exposes
type Scheduler interface {
	Status() service.Status
	Trigger() bool
}

// StatusHandler serves the status API
type StatusHandler struct {
	sched  Scheduler
	events http.Handler
	logger zerolog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(sched Scheduler, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{sched: sched, logger: logger}
}

// SetEventStream sets the SSE handler served at /api/events
func (h *StatusHandler) SetEventStream(events http.Handler) {
	h.events = events
}

// Register adds the API routes to mux
func (h *StatusHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /api/status", h.GetStatus)
	mux.HandleFunc("GET /api/peripherals", h.ListPeripherals)
	mux.HandleFunc("POST /api/scan", h.TriggerScan)
	if h.events != nil {
		mux.Handle("GET /api/events", h.events)
	}
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScanResponse is returned by TriggerScan
type ScanResponse struct {
	Queued  bool   `json:"queued"`
	Details string `json:"details,omitempty"`
}

// PeripheralsResponse is returned by ListPeripherals
type PeripheralsResponse struct {
	Count       int                      `json:"count"`
	Peripherals []domain.KnownPeripheral `json:"peripherals"`
}

// Health reports liveness
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// GetStatus returns the scheduler state
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.sched.Status(), http.StatusOK)
}

// ListPeripherals returns the known-peripheral table. With ?registered=true
// entries whose create is still unconfirmed are left out.
func (h *StatusHandler) ListPeripherals(w http.ResponseWriter, r *http.Request) {
	registeredOnly := false
	if v := r.URL.Query().Get("registered"); v != "" {
		switch v {
		case "true", "1":
			registeredOnly = true
		case "false", "0":
		default:
			h.writeError(w, "Invalid query parameter", "registered must be true or false", http.StatusBadRequest)
			return
		}
	}

	peripherals := make([]domain.KnownPeripheral, 0)
	for _, p := range h.sched.Status().Peripherals {
		if registeredOnly && !p.Registered() {
			continue
		}
		peripherals = append(peripherals, p)
	}

	h.writeJSON(w, PeripheralsResponse{Count: len(peripherals), Peripherals: peripherals}, http.StatusOK)
}

// TriggerScan queues an immediate scan cycle
func (h *StatusHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if !h.sched.Trigger() {
		h.writeJSON(w, ScanResponse{Queued: false, Details: "a scan is already queued"}, http.StatusAccepted)
		return
	}
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("Scan requested via API")
	h.writeJSON(w, ScanResponse{Queued: true}, http.StatusAccepted)
}

// Helper methods

func (h *StatusHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON")
	}
}

func (h *StatusHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middleware so the first one listed is outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a handler panic into a 500 reply
func Recover(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger logs every request with its status and duration
func Logger(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
