// Package dataplane implements Percas's key-value HTTP surface: a
// catch-all GET/PUT/DELETE on the raw key path, fronted by a two-tier
// semaphore that sheds load before it reaches the cache engine, and a
// cluster-routing step that redirects requests for keys owned by another
// node instead of serving them locally.
package dataplane

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/scopedb/percas/internal/cache"
	"github.com/scopedb/percas/internal/metrics"
	"github.com/scopedb/percas/internal/router"
)

// Server is the data-plane HTTP server: one listener serving GET/PUT/DELETE
// on /{key}.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// Config configures a data-plane Server.
type Config struct {
	ListenAddr string
	Engine     *cache.Engine
	Router     *router.Router
	Metrics    *metrics.Registry
	Log        zerolog.Logger
}

// runPermitMultiplier and waitPermitMultiplier derive the rate limiter's two
// semaphores from the number of available cores: run_permit bounds how many
// requests execute concurrently, wait_permit (5x larger) bounds how many
// more may queue before the server starts shedding load with 429s.
const (
	runPermitMultiplier  = 100
	waitPermitMultiplier = 5
)

// New builds a data-plane Server bound to cfg.ListenAddr. The server isn't
// listening until Serve is called.
func New(cfg Config) *Server {
	cores := int64(runtime.GOMAXPROCS(0))
	if cores < 1 {
		cores = 1
	}
	runPermit := semaphore.NewWeighted(cores * runPermitMultiplier)
	waitPermit := semaphore.NewWeighted(cores * runPermitMultiplier * waitPermitMultiplier)

	h := &handler{
		engine:  cfg.Engine,
		router:  cfg.Router,
		metrics: cfg.Metrics,
		log:     cfg.Log.With().Str("component", "dataplane").Logger(),
	}

	r := chi.NewRouter()
	r.Use(loggerMiddleware(h.log))
	r.Use(rateLimitMiddleware(runPermit, waitPermit))
	r.Get("/*", h.get)
	r.Put("/*", h.put)
	r.Delete("/*", h.delete)

	return &Server{
		httpServer: &http.Server{Addr: cfg.ListenAddr, Handler: r},
		log:        h.log,
	}
}

// Serve listens and serves until the listener fails or Shutdown is called.
// It returns http.ErrServerClosed on a clean shutdown, matching net/http's
// own convention.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("data plane listening")
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests for up to 30 seconds before closing
// remaining connections, matching the reference server's graceful-shutdown
// window.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	engine  *cache.Engine
	router  *router.Router
	metrics *metrics.Registry
	log     zerolog.Logger
}

func keyFromRequest(r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "*")
	if raw == "" {
		return "", false
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	return decoded, true
}

func (h *handler) route(w http.ResponseWriter, r *http.Request, key string, operation string) (local bool) {
	dest := h.router.Route([]byte(key))
	if dest.Local {
		return true
	}

	h.metrics.RecordOperation(operation, metrics.StatusRedirect, 0, 0)
	location := dest.RemoteURL + r.URL.Path
	http.Redirect(w, r, location, http.StatusTemporaryRedirect)
	return false
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := keyFromRequest(r)
	if !ok {
		h.metrics.RecordOperation(metrics.OperationGet, metrics.StatusFailure, 0, time.Since(start))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !h.route(w, r, key, metrics.OperationGet) {
		return
	}

	value, err := h.engine.Get(key)
	if errors.Is(err, cache.ErrNotFound) {
		h.metrics.RecordOperation(metrics.OperationGet, metrics.StatusNotFound, 0, time.Since(start))
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.metrics.RecordOperation(metrics.OperationGet, metrics.StatusFailure, 0, time.Since(start))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordOperation(metrics.OperationGet, metrics.StatusSuccess, len(value), time.Since(start))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := keyFromRequest(r)
	if !ok {
		h.metrics.RecordOperation(metrics.OperationPut, metrics.StatusFailure, 0, time.Since(start))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !h.route(w, r, key, metrics.OperationPut) {
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.metrics.RecordOperation(metrics.OperationPut, metrics.StatusFailure, 0, time.Since(start))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.engine.Put(key, body)

	h.metrics.RecordOperation(metrics.OperationPut, metrics.StatusSuccess, len(body), time.Since(start))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte("Created"))
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, ok := keyFromRequest(r)
	if !ok {
		h.metrics.RecordOperation(metrics.OperationDelete, metrics.StatusFailure, 0, time.Since(start))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !h.route(w, r, key, metrics.OperationDelete) {
		return
	}

	h.engine.Delete(key)

	h.metrics.RecordOperation(metrics.OperationDelete, metrics.StatusSuccess, 0, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}
