package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/splax/feed/internal/domain"
	"github.com/splax/feed/pkg/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryRateLimiterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := newMemoryRateLimiter(clock.Now)
	ctx := context.Background()
	budget := config.RateLimit{Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		d, err := rl.Take(ctx, "ip:1.2.3.4", budget)
		if err != nil || !d.allowed || d.count != i {
			t.Fatalf("request %d: %+v %v", i, d, err)
		}
		if !d.resetAt.Equal(clock.now.Add(time.Minute)) {
			t.Fatalf("resetAt = %s", d.resetAt)
		}
	}
	if d, _ := rl.Take(ctx, "ip:1.2.3.4", budget); d.allowed {
		t.Fatalf("fourth request should be limited")
	}
	if d, _ := rl.Take(ctx, "ip:5.6.7.8", budget); !d.allowed {
		t.Fatalf("other keys must not share the window")
	}

	clock.now = clock.now.Add(time.Minute)
	if d, _ := rl.Take(ctx, "ip:1.2.3.4", budget); !d.allowed || d.count != 1 {
		t.Fatalf("window should have reset, got %+v", d)
	}
}

func TestMemoryRateLimiterSweepsExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl := newMemoryRateLimiter(clock.Now)
	ctx := context.Background()
	budget := config.RateLimit{Limit: 1, Window: time.Second}

	_, _ = rl.Take(ctx, "ip:a", budget)
	_, _ = rl.Take(ctx, "ip:b", budget)
	clock.now = clock.now.Add(rl.sweepEvery)
	_, _ = rl.Take(ctx, "ip:c", budget)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.windows) != 1 {
		t.Fatalf("expected only the fresh window, got %d", len(rl.windows))
	}
}

func TestRatePolicyKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/feed/posts", nil)
	req.RemoteAddr = "10.0.0.7:5123"

	caller := ratePolicy{scope: scopeCaller}
	if key, scope := caller.key(req); key != "ip:10.0.0.7" || scope != scopeClient {
		t.Fatalf("anonymous caller key = %q %q", key, scope)
	}

	authed := req.WithContext(context.WithValue(req.Context(), contextKeyVerdict, domain.Verdict{Authenticated: true, UserID: "u1"}))
	if key, scope := caller.key(authed); key != "user:u1" || scope != scopeCaller {
		t.Fatalf("authenticated caller key = %q %q", key, scope)
	}

	client := ratePolicy{scope: scopeClient}
	if key, _ := client.key(authed); key != "ip:10.0.0.7" {
		t.Fatalf("client scope must ignore the verdict, got %q", key)
	}
}

type failingLimiter struct{}

func (failingLimiter) Take(context.Context, string, config.RateLimit) (rateDecision, error) {
	return rateDecision{}, errors.New("redis down")
}

func (failingLimiter) Close() {}

func TestLimitFailsOpen(t *testing.T) {
	r := &Router{limiter: failingLimiter{}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	policy := ratePolicy{route: "/x", limit: config.RateLimit{Limit: 1, Window: time.Minute}, scope: scopeClient}
	called := 0
	h := r.limit(policy, func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	if called != 3 {
		t.Fatalf("handler called %d times", called)
	}
}

func TestLimitSetsHeadersAndRejects(t *testing.T) {
	r := &Router{limiter: NewMemoryRateLimiter(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	policy := ratePolicy{route: "/x", limit: config.RateLimit{Limit: 2, Window: time.Minute}, scope: scopeClient}
	h := r.limit(policy, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		if i == 1 && rec.Header().Get("X-RateLimit-Remaining") != "0" {
			t.Fatalf("remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
		}
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" || rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("missing rate headers: %v", rec.Header())
	}
}

func TestConfiguredRateLimitsApply(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(env.router.logger, env.router.auth, env.posts, env.hub, env.images, Options{
		RateLimits: config.RateLimits{Read: config.RateLimit{Limit: 1, Window: time.Minute}},
	})
	defer router.Close()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed/posts", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("read budget not applied: %v", codes)
	}

	signups := config.DefaultRateLimits().Signup.Limit + 1
	for i := 0; i < signups; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/auth/signup", nil))
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("signup %d limited although its budget is unset", i+1)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if tok, err := bearerToken("Bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("bearer: %q %v", tok, err)
	}
	if tok, err := bearerToken("bearer   xyz"); err != nil || tok != "xyz" {
		t.Fatalf("case-insensitive bearer: %q %v", tok, err)
	}
	for _, header := range []string{"", "   ", "Basic abc", "Bearer", "Bearer a b"} {
		if _, err := bearerToken(header); err == nil {
			t.Fatalf("header %q should be rejected", header)
		}
	}
}
