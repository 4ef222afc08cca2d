package gateway

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cortexgw/cortex/internal/config"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer so SSE streaming keeps working
// through the middleware chain.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer so the WebSocket upgrade works
// through the middleware chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), elapsed.Seconds())
		}
		if s.logger != nil && s.cfg.Debug {
			s.logger.Debug(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
	})
}

// routeLabel collapses parameterized paths so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	const pathwaysPrefix = "/v1/pathways/"
	if len(path) > len(pathwaysPrefix) && path[:len(pathwaysPrefix)] == pathwaysPrefix {
		return pathwaysPrefix + ":name"
	}
	return path
}

// clientLimiter enforces a per-client-address token bucket. Idle buckets
// are evicted lazily.
type clientLimiter struct {
	cfg  config.RateLimitConfig
	next http.Handler

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(cfg config.RateLimitConfig, next http.Handler) *clientLimiter {
	return &clientLimiter{
		cfg:     cfg,
		next:    next,
		clients: make(map[string]*clientBucket),
	}
}

func (cl *clientLimiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !cl.allow(host) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
			"too many requests, slow down")
		return
	}
	cl.next.ServeHTTP(w, r)
}

func (cl *clientLimiter) allow(host string) bool {
	now := time.Now()
	cl.mu.Lock()
	defer cl.mu.Unlock()

	b, ok := cl.clients[host]
	if !ok {
		burst := cl.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(cl.cfg.RequestsPerSecond), burst)}
		cl.clients[host] = b
	}
	b.lastSeen = now

	if len(cl.clients) > 1024 {
		for addr, bucket := range cl.clients {
			if now.Sub(bucket.lastSeen) > 10*time.Minute {
				delete(cl.clients, addr)
			}
		}
	}
	return b.limiter.Allow()
}
