package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/splax/feed/db"
	"github.com/splax/feed/internal/app/migrate"
	httpx "github.com/splax/feed/internal/http"
	"github.com/splax/feed/internal/repository/postgres"
	"github.com/splax/feed/internal/service/auth"
	"github.com/splax/feed/internal/service/post"
	"github.com/splax/feed/internal/storage"
	"github.com/splax/feed/internal/ws"
	"github.com/splax/feed/pkg/config"
	"github.com/splax/feed/pkg/crypto"
	jwtpkg "github.com/splax/feed/pkg/jwt"
	"github.com/splax/feed/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrationsDir := cfg.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = db.EmbeddedDir
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, db.Source(migrationsDir), migrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	signer, err := jwtpkg.NewSigner(cfg.SigningSecret(), cfg.TokenTTL)
	if err != nil {
		log.Error("failed to configure token signer", "error", err)
		os.Exit(1)
	}
	if cfg.IsDevelopment() && strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Warn("JWT_SECRET not set, using development signing secret")
	}

	images, err := storage.NewLocal(cfg.ImagesDir)
	if err != nil {
		log.Error("failed to prepare image storage", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub(log, cfg.EventsBuffer)
	if err := hub.Instrument(registry); err != nil {
		log.Error("failed to register hub metrics", "error", err)
		os.Exit(1)
	}
	var publisher post.Publisher = hub
	if addr := strings.TrimSpace(cfg.EventsRedisAddr); addr != "" {
		relay, err := ws.NewRedisRelay(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, cfg.EventsRedisChannel, hub, log)
		if err != nil {
			log.Warn("redis event relay unavailable, broadcasting locally", "error", err)
		} else {
			defer relay.Close()
			publisher = relay
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Error("redis event relay stopped", "error", err)
				}
			}()
		}
	}

	authSvc := auth.New(repo, crypto.NewHasher(cfg.BcryptCost), signer, log)
	postSvc := post.New(repo, repo, images, publisher, log, cfg.PostsPageSize)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	metrics, err := httpx.NewMetrics(registry)
	if err != nil {
		log.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	router := httpx.NewRouter(log, authSvc, postSvc, hub, images, httpx.Options{
		Limiter:        limiter,
		RateLimits:     cfg.RateLimits,
		Metrics:        metrics,
		Gatherer:       registry,
		DBHealth:       repo.Ping,
		CORSOrigin:     cfg.CORSAllowedOrigin,
		RequestTimeout: cfg.RequestTimeout,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// SSE handlers return only once their subscription is closed.
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		postSvc.Wait()
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			hub.Close()
			os.Exit(1)
		}
	}
}
