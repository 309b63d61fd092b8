package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mindscope/internal/health"
	"github.com/MrWong99/mindscope/internal/observe"
)

// Handler returns the complete HTTP surface: the API routes, the health
// endpoints from h and the Prometheus scrape endpoint for g, all wrapped in
// the observability middleware. A nil g serves [prometheus.DefaultGatherer].
func (s *Server) Handler(h *health.Handler, g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	s.Register(mux)
	if h != nil {
		h.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return observe.Middleware(s.metrics)(mux)
}
