// Package admin serves the operational HTTP interface: Prometheus metrics,
// a health check, a JSON view of the store and worker pools and, when
// enabled, a runtime trace snapshot.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/catmosaic/catmosaic/internal/metrics"
	"github.com/catmosaic/catmosaic/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// PoolStatus is implemented by worker.Group.
type PoolStatus interface {
	metrics.HealthReporter
	Healthy() bool
	States() map[string][]worker.WorkerState
}

// TraceSource is implemented by *tracing.Recorder.
type TraceSource interface {
	Running() bool
	Snapshot(w io.Writer) error
}

// Sources provides the state exposed by the admin server.
type Sources struct {
	Store metrics.StoreStats
	Pools PoolStatus
	Trace TraceSource // optional
}

// AdminServer provides the operational HTTP interface.
type AdminServer struct {
	src      Sources
	router   chi.Router
	server   *http.Server
	listener net.Listener
}

// NewAdminServer creates a new admin server.
func NewAdminServer(src Sources) *AdminServer {
	s := &AdminServer{src: src}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthHandler)
	r.Get("/stats", s.statsHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if src.Trace != nil {
		r.Get("/debug/trace", s.traceHandler)
	}
	s.router = r

	return s
}

// Handler returns the router, for tests and embedding.
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *AdminServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("admin server failed")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *AdminServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the admin server.
func (s *AdminServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string               `json:"status"`
	Pools  []metrics.PoolHealth `json:"pools"`
}

// healthHandler answers 200 when every pool has a healthy worker, 503 otherwise.
func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Pools: []metrics.PoolHealth{}}
	code := http.StatusOK
	if s.src.Pools != nil {
		resp.Pools = s.src.Pools.PoolHealth()
		if !s.src.Pools.Healthy() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

type storeStats struct {
	Images   int `json:"images"`
	InFlight int `json:"in_flight"`
}

type statsResponse struct {
	Store storeStats                      `json:"store"`
	Pools map[string][]worker.WorkerState `json:"pools"`
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.src.Store != nil {
		st := s.src.Store.Stats()
		resp.Store = storeStats{Images: st.Size, InFlight: st.InFlight}
	}
	if s.src.Pools != nil {
		resp.Pools = s.src.Pools.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

// traceHandler streams the flight recorder buffer for `go tool trace`.
func (s *AdminServer) traceHandler(w http.ResponseWriter, r *http.Request) {
	if !s.src.Trace.Running() {
		http.Error(w, "trace recorder not running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="catmosaic.trace"`)
	if err := s.src.Trace.Snapshot(w); err != nil {
		log.Warn().Err(err).Msg("trace snapshot failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write admin response")
	}
}
