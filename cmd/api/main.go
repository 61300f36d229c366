package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/api"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/cache"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/config"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/events"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/notification"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/storage"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/infrastructure/telemetry"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/metrics"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/auditor"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/coordination"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/orchestrator"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/regulatory"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/service/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting compliance coordination service",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	registry, err := metrics.NewRegistry("taxpoynt.compliance")
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	bus := events.NewRedisBus(redisClient, logger)
	cacheStore := cache.NewRedisCacheFromClient(redisClient, logger)
	notifier := notification.NewDispatcher(notification.Config{
		WebhookURL:     cfg.Notification.WebhookURL,
		RequestTimeout: cfg.Notification.RequestTimeout,
		RateLimit:      cfg.Notification.RateLimit,
		RateBurst:      cfg.Notification.RateBurst,
	}, logger)

	var (
		auditStore     storage.AuditStore
		executionStore storage.ExecutionStore
		grants         regulatory.GrantRepository
		kpis           regulatory.KPICalculator
	)
	if cfg.Database.URL != "" {
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		auditStore = storage.NewAuditRepository(pool)
		executionStore = storage.NewExecutionRepository(pool)
		grantRepo := storage.NewGrantRepository(pool)
		grants = grantRepo
		kpis = grantRepo
	} else {
		// No database configured: single-node development run with
		// in-memory persistence and no KPI feed.
		logger.Warn("no database configured, using in-memory stores")
		auditStore = storage.NewMemoryAuditStore()
		executionStore = storage.NewMemoryExecutionStore()
		grants = regulatory.NewMemoryGrantRepository()
		kpis = regulatory.KPICalculatorFunc(func(context.Context, string) (map[string]float64, error) {
			return map[string]float64{}, nil
		})
	}

	engine := regulation.NewEngine(logger, bus, notifier,
		regulation.WithHistoryCapacity(cfg.Compliance.HistoryCapacity),
		regulation.WithResolvedCapacity(cfg.Compliance.ResolvedCapacity),
		regulation.WithMetrics(registry))

	validator := validation.NewValidator(logger, bus, notifier,
		validation.WithHistoryCapacity(cfg.Compliance.HistoryCapacity),
		validation.WithMetrics(registry))
	validator.RegisterDefaultRules()

	orch := orchestrator.NewOrchestrator(logger, bus, engine, validator, executionStore,
		orchestrator.WithHistoryCapacity(cfg.Compliance.HistoryCapacity),
		orchestrator.WithMetrics(registry))

	aud := auditor.NewCoordinator(logger, bus, notifier, auditStore,
		auditor.WithMetrics(registry))

	tracker := regulatory.NewTracker(logger, bus, notifier, cacheStore, kpis, grants,
		regulatory.WithEligibilityTTL(cfg.Compliance.EligibilityCacheTTL),
		regulatory.WithProgressNotifyDelta(cfg.Compliance.MilestoneProgressNotify),
		regulatory.WithMetrics(registry))

	svc := coordination.NewService(logger, orch, validator, aud, tracker)
	handler := api.NewHandler(logger, svc, tracker, cfg.Version)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}
