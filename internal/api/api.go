// Package api exposes the engine over HTTP.
//
// Routes:
//
//	GET  /v1/state            engine status and current emotional state
//	GET  /v1/history?limit=N  retained samples, oldest first
//	POST /v1/analysis/start   acquire the device and start sampling
//	POST /v1/analysis/stop    stop sampling
//	GET  /v1/stream           WebSocket feed of notifications
//
// Every response body is JSON. Stream messages use the relay envelope so
// WebSocket clients and broker subscribers decode the same shape.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/internal/engine"
	"github.com/MrWong99/mindscope/internal/history"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/types"
)

// startTimeout bounds device acquisition triggered over HTTP.
const startTimeout = 10 * time.Second

// Engine is the part of [engine.Engine] the API drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Status() engine.Status
	History() *history.Buffer
	Bus() *bus.Bus
}

var _ Engine = (*engine.Engine)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithStreamBuffer sets how many envelopes may queue per stream client
// before newer ones are dropped for that client.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.streamBuffer = n
		}
	}
}

// WithSessionID sets the source of the session ID stamped on stream
// envelopes. Defaults to the engine's status.
func WithSessionID(fn func() string) Option {
	return func(s *Server) {
		s.sessionID = fn
	}
}

// Server serves the engine API.
type Server struct {
	engine       Engine
	metrics      *observe.Metrics
	streamBuffer int
	sessionID    func() string
	now          func() time.Time
}

// New creates a [Server] for eng.
func New(eng Engine, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		streamBuffer: 64,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.sessionID == nil {
		s.sessionID = func() string { return eng.Status().SessionID }
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("POST /v1/analysis/start", s.handleStart)
	mux.HandleFunc("POST /v1/analysis/stop", s.handleStop)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
}

// StateResponse is the body of GET /v1/state and of the start/stop routes.
type StateResponse struct {
	State     string     `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	Device    string     `json:"device,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Retained  int        `json:"retained"`

	// Current is the current emotional state, absent when no recent sample
	// is confident enough.
	Current *CurrentState `json:"current,omitempty"`
}

// CurrentState is the current emotion with its circumplex coordinates.
type CurrentState struct {
	Emotion types.Emotion `json:"emotion"`
	Valence float64       `json:"valence"`
	Arousal float64       `json:"arousal"`
}

// HistoryResponse is the body of GET /v1/history.
type HistoryResponse struct {
	Samples []types.Sample `json:"samples"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) state() StateResponse {
	st := s.engine.Status()
	resp := StateResponse{
		State:     st.State.String(),
		SessionID: st.SessionID,
		Device:    st.Device,
		Retained:  st.Retained,
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt.UTC()
		resp.StartedAt = &t
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	if st.HasCurrent {
		resp.Current = &CurrentState{
			Emotion: st.Current,
			Valence: st.Current.Valence(),
			Arousal: st.Current.Arousal(),
		}
	}
	return resp
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	samples := s.engine.History().Snapshot()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		if limit < len(samples) {
			samples = samples[len(samples)-limit:]
		}
	}
	if samples == nil {
		samples = []types.Sample{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Samples: samples})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()

	err := s.engine.Start(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.state())
	case errors.Is(err, engine.ErrAlreadyAcquired):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), State: s.engine.Status().State.String()})
	case errors.Is(err, engine.ErrDeviceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), State: s.engine.Status().State.String()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), State: s.engine.Status().State.String()})
	default:
		// Cancelled by a concurrent stop or by the client going away.
		observe.Logger(r.Context()).Warn("api: start aborted", "err", err)
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), State: s.engine.Status().State.String()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.state())
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
