package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/authgate/internal/admin"
	"github.com/l0p7/authgate/internal/config"
	"github.com/l0p7/authgate/internal/gate"
	"github.com/l0p7/authgate/internal/logging"
	"github.com/l0p7/authgate/internal/metrics"
	"github.com/l0p7/authgate/internal/provider"
	"github.com/l0p7/authgate/internal/server"
	"github.com/l0p7/authgate/internal/session"
	"github.com/l0p7/authgate/internal/session/cache"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "AUTHGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	configProvider, err := buildProvider(ctx, logger, cfg.Provider)
	if err != nil {
		logger.Error("configuration provider setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := configProvider.Close(shutdownCtx); err != nil {
			logger.Error("provider shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	sessionCache := buildSessionCache(logger.With(slog.String("agent", "cache_factory")), cfg.Cache)
	resolver := session.NewResolver(logger, session.ResolverOptions{
		Cache:          sessionCache,
		CacheEnabled:   cfg.Cache.Enabled,
		Timeout:        time.Duration(cfg.Session.TimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.Session.ConnectTimeoutSeconds) * time.Second,
		Metrics:        metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := resolver.Close(shutdownCtx); err != nil {
			logger.Error("session cache shutdown failed", slog.Any("error", err))
		}
	}()

	gateHandler := gate.NewHandler(logger, configProvider, resolver,
		time.Duration(cfg.Server.Gate.TimeoutSeconds)*time.Second, metricsRecorder)

	_, isPostgres := configProvider.(*provider.Postgres)
	adminHandler := admin.NewHandler(logger, configProvider, cfg.Admin, resolver,
		isPostgres && cfg.Admin.Enabled)

	router := server.NewRouter(server.RouterOptions{
		GatePath: cfg.Server.Gate.Path,
		Gate:     gateHandler,
		Admin:    adminHandler,
		Metrics:  metricsRecorder.Handler(),
	})

	srv, err := server.New(cfg, logger, router)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildProvider constructs the configured backend. The initial snapshot
// load happens inside the constructors; a failure there aborts startup.
func buildProvider(ctx context.Context, logger *slog.Logger, cfg config.ProviderConfig) (provider.Provider, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "json":
		fileProvider, err := provider.NewFile(logger, cfg.File)
		if err != nil {
			return nil, err
		}
		if err := fileProvider.Watch(ctx); err != nil {
			_ = fileProvider.Close(ctx)
			return nil, err
		}
		logger.Info("using file configuration provider", slog.String("path", cfg.File))
		return fileProvider, nil
	case "postgres":
		pgProvider, err := provider.NewPostgres(ctx, logger, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres configuration provider")
		return pgProvider, nil
	default:
		return nil, fmt.Errorf("unsupported provider backend: %s", cfg.Backend)
	}
}

// buildSessionCache constructs the session cache. A redis setup failure
// degrades to the in-process cache so the gate stays available.
func buildSessionCache(logger *slog.Logger, cfg config.CacheConfig) session.Cache {
	if !cfg.Enabled {
		return nil
	}
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory session cache")
		return cache.NewMemory()
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			URL:      cfg.Redis.URL,
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis session cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory session cache")
			return cache.NewMemory()
		}
		logger.Info("using redis session cache")
		return redisCache
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}
