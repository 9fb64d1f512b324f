package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/complianceai/certpipe/pkg/queue"
)

// KeyFunc derives the bucket key for a request; the default keys by client
// IP, preferring the API key header when present.
type KeyFunc func(r *http.Request) string

// DefaultKey keys by API key when supplied, else by remote IP.
func DefaultKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects over-budget requests with 429. Limiter errors fail
// open: an unreachable Redis must not take the API down with it.
func Middleware(store Store, policy Policy, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := store.Allow(r.Context(), keyFn(r), policy, 1)
			if err != nil {
				logger.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const cleanupIdle = 10 * time.Minute

// CleanupHandler returns the rate-limit-cleanup queue handler. Redis keys
// expire on their own; only the in-memory store needs sweeping.
func CleanupHandler(store Store, logger *slog.Logger) queue.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *queue.Job) error {
		mem, ok := store.(*MemoryStore)
		if !ok {
			return nil
		}
		if removed := mem.Prune(cleanupIdle); removed > 0 {
			logger.Debug("pruned idle rate-limit buckets", "removed", removed)
		}
		return nil
	}
}
