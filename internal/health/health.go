// Package health provides HTTP liveness and readiness handlers.
//
// /healthz always answers 200 while the process can serve HTTP. /readyz
// evaluates every registered [Checker] concurrently and answers:
//
//	all pass                       200 {"status":"ok"}
//	only optional checkers fail    200 {"status":"degraded"}
//	any required checker fails     503 {"status":"fail"}
//
// The "checks" map carries one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the response, e.g. "engine" or "relay:nats".
	Name string

	// Check returns nil when healthy. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional checks degrade the response instead of failing it. Use it
	// for dependencies the service keeps running without, such as relays.
	Optional bool
}

// Result is the JSON body served by both endpoints.
type Result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Result{Status: StatusOK})
}

// Readyz is the readiness endpoint. Checkers run concurrently, each with a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs every checker and folds the outcomes into a [Result].
func (h *Handler) Evaluate(ctx context.Context) Result {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case c.Optional:
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			default:
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
