package httpx

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/splax/feed/pkg/config"
)

// RateLimiter counts hits against a key within fixed windows.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit config.RateLimit) (rateDecision, error)
	Close()
}

type rateDecision struct {
	allowed bool
	count   int
	resetAt time.Time
}

// rateScope names what a budget is counted against.
type rateScope string

const (
	// scopeClient counts per remote address.
	scopeClient rateScope = "ip"
	// scopeCaller counts per user when authenticated and per address otherwise.
	scopeCaller rateScope = "user"
)

// ratePolicy binds a budget to a route.
type ratePolicy struct {
	route string
	limit config.RateLimit
	scope rateScope
}

func (p ratePolicy) key(req *http.Request) (string, rateScope) {
	if p.scope == scopeCaller {
		if verdict := verdictFromContext(req.Context()); verdict.Authenticated && verdict.UserID != "" {
			return string(scopeCaller) + ":" + verdict.UserID, scopeCaller
		}
	}
	return string(scopeClient) + ":" + remoteHost(req), scopeClient
}

// limit enforces policy before next. Limiter failures let the request through.
func (r *Router) limit(policy ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	if policy.limit.Limit <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		key, scope := policy.key(req)
		decision, err := r.limiter.Take(req.Context(), key, policy.limit)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", "route", policy.route, "error", err)
			next(w, req)
			return
		}
		r.applyRateHeaders(w, policy.limit.Limit, decision)
		if !decision.allowed {
			r.metrics.recordRateLimitHit(policy.route, string(scope))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// authedWrite is the hard gate followed by the caller-scoped write budget.
func (r *Router) authedWrite(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.limit(ratePolicy{route: route, limit: r.rates.Write, scope: scopeCaller}, next))
}

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// memoryRateLimiter keeps windows in process. Expired windows are dropped
// lazily, at most once per sweepEvery.
type memoryRateLimiter struct {
	mu         sync.Mutex
	windows    map[string]*fixedWindow
	sweepEvery time.Duration
	nextSweep  time.Time
	now        func() time.Time
}

type fixedWindow struct {
	hits    int
	resetAt time.Time
}

// NewMemoryRateLimiter returns a process-local limiter.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(time.Now)
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		windows:    make(map[string]*fixedWindow),
		sweepEvery: 5 * time.Minute,
		now:        now,
	}
}

func (rl *memoryRateLimiter) Take(_ context.Context, key string, limit config.RateLimit) (rateDecision, error) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(now)

	win, ok := rl.windows[key]
	if !ok || !now.Before(win.resetAt) {
		win = &fixedWindow{resetAt: now.Add(limit.Window)}
		rl.windows[key] = win
	}
	if win.hits >= limit.Limit {
		return rateDecision{count: win.hits, resetAt: win.resetAt}, nil
	}
	win.hits++
	return rateDecision{allowed: true, count: win.hits, resetAt: win.resetAt}, nil
}

func (rl *memoryRateLimiter) sweep(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	rl.nextSweep = now.Add(rl.sweepEvery)
	for key, win := range rl.windows {
		if !now.Before(win.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}
