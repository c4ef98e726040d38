package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/auth"
	"github.com/af-corp/antigravity-gateway/internal/config"
	"github.com/af-corp/antigravity-gateway/internal/gateway"
	"github.com/af-corp/antigravity-gateway/internal/mapper"
	"github.com/af-corp/antigravity-gateway/internal/ratelimit"
	"github.com/af-corp/antigravity-gateway/internal/router"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
	"github.com/af-corp/antigravity-gateway/internal/vault"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	ctx := context.Background()
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	var dbPool *pgxpool.Pool
	if cfg.Accounts.Store == "postgres" || cfg.Auth.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (accounts and keys will fail to load)", "error", err)
		} else {
			logger.Info("database connected")
		}
		dbPool = pool
	}

	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (key cache and rate limiting disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Upstream endpoints and model routing reload with the config.
	cb := cfg.Upstream.CircuitBreaker
	endpoints := router.NewEndpoints(cfg.Upstream.Endpoints, router.NewHealthTracker(cb.FailureThreshold, cb.RecoveryProbeInterval))
	models := router.NewModels(loader.Models())
	loader.OnReload(func() {
		models.Update(loader.Models())
		endpoints.Update(loader.Config().Upstream.Endpoints)
		logger.Info("model routing and upstream endpoints reloaded")
	})

	client := upstream.NewClient(cfg.Upstream, endpoints, metrics)
	cipher := vault.NewDefault(cfg.Vault.Service, cfg.Vault.Dir)

	var store accounts.Store
	switch cfg.Accounts.Store {
	case "memory":
		logger.Warn("using in-memory account store, accounts are not persisted")
		store = accounts.NewMemoryStore()
	default:
		store = accounts.NewPgStore(dbPool, cipher, metrics)
	}
	oauth := cfg.Accounts.OAuth
	manager := accounts.NewManager(store,
		accounts.NewOAuthRefresher(oauth.ClientID, oauth.ClientSecret, oauth.TokenURL),
		accounts.WithRefreshWindow(cfg.Accounts.RefreshWindow),
		accounts.WithCooldown(cfg.Accounts.Cooldown),
		accounts.WithProjectResolver(upstream.NewCodeAssist(client)),
		accounts.WithMetrics(metrics),
	)
	if n, err := manager.LoadAccounts(ctx); err != nil {
		logger.Warn("initial account load failed, retrying on first request", "error", err)
	} else if n == 0 {
		logger.Warn("no accounts with credentials loaded")
	}

	signatures := mapper.NewSignatureStore()
	retry := gateway.DefaultRetryPolicy()
	if cfg.Upstream.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Upstream.MaxAttempts
	}
	svc := gateway.NewService(manager, client, mapper.NewRequestMapper(models, signatures), signatures, retry)
	handler := gateway.NewHandler(svc, models, metrics,
		gateway.WithVersion(version),
		gateway.WithStatus(manager, endpoints, func() string { return string(cipher.Source()) }),
	)

	routes := gateway.RouterConfig{
		Metrics:        metrics,
		MetricsHandler: promhttp.Handler(),
		DefaultRPM:     cfg.RateLimit.DefaultRPM,
	}
	if cfg.Auth.Enabled {
		chain := auth.ChainKeyStore{auth.NewStaticKeyStore(cfg.Auth.StaticKeyHashes)}
		if dbPool != nil {
			chain = append(chain, auth.NewCachedKeyStore(dbPool, rdb))
		}
		routes.KeyStore = chain
	} else {
		logger.Warn("API key authentication disabled")
	}
	if cfg.RateLimit.Enabled && rdb != nil {
		routes.Limiter = ratelimit.NewLimiter(rdb)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      gateway.NewRouter(handler, routes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version, "accounts", manager.AccountCount())
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
