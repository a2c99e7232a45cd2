package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/feed/internal/service/auth"
	"github.com/splax/feed/internal/service/post"
	"github.com/splax/feed/internal/storage"
	"github.com/splax/feed/internal/ws"
	"github.com/splax/feed/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	auth           auth.Service
	posts          *post.Service
	hub            *ws.Hub
	images         *storage.Local
	upgrader       websocket.Upgrader
	limiter        RateLimiter
	rates          config.RateLimits
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	dbHealth       func(context.Context) error
	corsOrigin     string
	requestTimeout time.Duration
}

// Options carries the optional collaborators of a Router. Zero RateLimits
// selects config.DefaultRateLimits.
type Options struct {
	Limiter        RateLimiter
	RateLimits     config.RateLimits
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
	DBHealth       func(context.Context) error
	CORSOrigin     string
	RequestTimeout time.Duration
}

const healthCheckTimeout = 2 * time.Second

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, postSvc *post.Service, hub *ws.Hub, images *storage.Local, opts Options) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         logger,
		auth:           authSvc,
		posts:          postSvc,
		hub:            hub,
		images:         images,
		limiter:        opts.Limiter,
		rates:          opts.RateLimits,
		metrics:        opts.Metrics,
		gatherer:       opts.Gatherer,
		dbHealth:       opts.DBHealth,
		corsOrigin:     strings.TrimSpace(opts.CORSOrigin),
		requestTimeout: opts.RequestTimeout,
	}
	if r.corsOrigin == "" {
		r.corsOrigin = "*"
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.rates == (config.RateLimits{}) {
		r.rates = config.DefaultRateLimits()
	}
	r.register()
	return r
}

// ServeHTTP applies CORS headers and delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", r.corsOrigin)
	headers.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
	headers.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	signup := ratePolicy{route: "/auth/signup", limit: r.rates.Signup, scope: scopeClient}
	login := ratePolicy{route: "/auth/login", limit: r.rates.Login, scope: scopeClient}
	feed := ratePolicy{route: "/feed/posts", limit: r.rates.Read, scope: scopeCaller}
	wsPosts := ratePolicy{route: "/ws/posts", limit: r.rates.Realtime, scope: scopeCaller}
	ssePosts := ratePolicy{route: "/events/posts", limit: r.rates.Realtime, scope: scopeCaller}

	r.mux.HandleFunc("/auth/signup", r.audit(signup.route, r.withTimeout(r.limit(signup, r.handleSignup))))
	r.mux.HandleFunc("/auth/login", r.audit(login.route, r.withTimeout(r.limit(login, r.handleLogin))))
	r.mux.HandleFunc("/auth/status", r.audit("/auth/status", r.withTimeout(r.authedWrite("/auth/status", r.handleStatus))))
	r.mux.HandleFunc("/feed/posts", r.audit(feed.route, r.withTimeout(r.softAuth(r.limit(feed, r.handleListPosts)))))
	r.mux.HandleFunc("/feed/post", r.audit("/feed/post", r.withTimeout(r.authedWrite("/feed/post", r.handleCreatePost))))
	r.mux.HandleFunc("/feed/post/", r.audit("/feed/post/{id}", r.withTimeout(r.handlePost)))
	r.mux.HandleFunc("/ws/posts", r.audit(wsPosts.route, r.softAuth(r.limit(wsPosts, r.handlePostsWS))))
	r.mux.HandleFunc("/events/posts", r.audit(ssePosts.route, r.softAuth(r.limit(ssePosts, r.handlePostsSSE))))
	if r.images != nil {
		r.mux.Handle("/images/", r.audit("/images", r.handleImages(http.StripPrefix("/images/", http.FileServer(http.Dir(r.images.Root()))))))
	}
	if r.gatherer != nil {
		r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}
}

// withTimeout bounds the request context. Streaming routes are not wrapped.
func (r *Router) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	if r.requestTimeout <= 0 {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), r.requestTimeout)
		defer cancel()
		next(w, req.WithContext(ctx))
	}
}

func (r *Router) handleImages(files http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			r.methodNotAllowed(w)
			return
		}
		if strings.HasSuffix(req.URL.Path, "/") {
			r.notFound(w)
			return
		}
		files.ServeHTTP(w, req)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["subscribers"] = r.hub.Len()
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if verdict := verdictFromContext(ctx); verdict.Authenticated {
			actor = "user"
			fields = append(fields, "user_id", verdict.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if r.corsOrigin == "*" {
		return true
	}
	origin := req.Header.Get("Origin")
	return origin == "" || origin == r.corsOrigin
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.resetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.resetAt.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
