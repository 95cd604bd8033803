package dataplane

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxBodyBytes bounds how much of a PUT body this server will read. The
// reference server has no hard cap either, but an unbounded io.ReadAll on a
// shared process is its own denial-of-service vector.
const maxBodyBytes = 512 << 20 // 512 MiB

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
}

func loggerMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// rateLimitMiddleware implements Percas's two-tier admission control: a
// request first tries to reserve a slot in the larger wait queue without
// blocking (failure means the server is already saturated and the request
// is shed with 429), then blocks for a run slot, which bounds how many
// requests actually execute against the cache engine concurrently.
func rateLimitMiddleware(runPermit, waitPermit *semaphore.Weighted) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !waitPermit.TryAcquire(1) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			defer waitPermit.Release(1)

			if err := runPermit.Acquire(r.Context(), 1); err != nil {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			defer runPermit.Release(1)

			next.ServeHTTP(w, r)
		})
	}
}
