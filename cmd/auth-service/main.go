package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/patient-track/internal/api/http"
	"github.com/spec-kit/patient-track/internal/api/http/handlers"
	"github.com/spec-kit/patient-track/internal/cache"
	"github.com/spec-kit/patient-track/internal/client"
	"github.com/spec-kit/patient-track/internal/config"
	"github.com/spec-kit/patient-track/internal/events"
	"github.com/spec-kit/patient-track/internal/observability"
	"github.com/spec-kit/patient-track/internal/persistence"
	"github.com/spec-kit/patient-track/internal/repository"
	"github.com/spec-kit/patient-track/internal/service"
	"github.com/spec-kit/patient-track/internal/worker"
)

func main() {
	cfg, err := config.Load(config.WithDefaultPort("8081"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, "auth-service")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var checks []handlers.DependencyCheck
	var tokenRepo repository.TokenRepository
	if pg.Configured() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		tokenRepo = repository.NewTokenRepository(pg.PoolHandle())
		checks = append(checks, handlers.DependencyCheck{Name: "postgres", Ping: pg.Ping})
	} else {
		logger.Warn("token store is in-memory; tokens will not survive a restart")
		tokenRepo = repository.NewMemoryTokenRepository()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	tokenCache := cache.NewNoopTokenCache()
	if redis.Configured() {
		tokenCache = cache.NewRedisTokenCache(redis.Client, cfg.Redis.Prefix, logger)
		checks = append(checks, handlers.DependencyCheck{Name: "redis", Ping: redis.Ping})
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	tokenService := service.NewTokenService(cfg.Auth, service.TokenServiceDependencies{
		Tokens:      tokenRepo,
		Credentials: client.NewUserDataClient(cfg.Services.UserDataURL, cfg.Services.CallTimeout()),
		Cache:       tokenCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	go worker.NewTokenSweeper(tokenService, cfg.Auth.SweepInterval(), logger).Run(ctx)

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterAuthRoutes(app, httptransport.AuthRouteConfig{
		Health: handlers.NewHealthHandler("auth-service", cfg.App.Version, metrics, checks...),
		Auth:   handlers.NewAuthHandler(tokenService, cfg.Auth.AccessTTL()),
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
