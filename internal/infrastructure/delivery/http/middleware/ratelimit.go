package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"downloadflow/internal/consts"
	"downloadflow/internal/infrastructure/delivery/http/response"
	"downloadflow/internal/observability"

	"golang.org/x/time/rate"
)

// visitorIdle is how long an idle client keeps its limiter.
const visitorIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *observability.Metrics

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter allows requestsPerMinute per client IP with the given burst.
// Idle clients are forgotten until ctx is done. It returns nil when requestsPerMinute is not positive.
func NewRateLimiter(ctx context.Context, requestsPerMinute, burst int, metrics *observability.Metrics) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}

	rl := &RateLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / time.Minute.Seconds()),
		burst:    max(burst, 1),
		metrics:  metrics,
		visitors: make(map[string]*visitor),
	}

	go rl.cleanupLoop(ctx)

	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}

	v.lastSeen = time.Now()

	return v.limiter.Allow()
}

// VisitorCount returns the number of tracked clients.
func (rl *RateLimiter) VisitorCount() int {
	if rl == nil {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.visitors)
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(visitorIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdle {
			delete(rl.visitors, ip)
		}
	}
}

// RateLimit rejects requests over the limit with 429. A nil limiter lets everything through.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}

		// seconds until the next token
		retryAfter := strconv.Itoa(int(math.Ceil(1 / float64(rl.limit))))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !rl.Allow(ip) {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path))

				rl.metrics.RecordRateLimited()

				w.Header().Set("Retry-After", retryAfter)
				response.TooManyRequests(w, consts.RespRateLimited)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr, which RealIP has already rewritten.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
