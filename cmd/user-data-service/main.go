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
	"github.com/spec-kit/patient-track/internal/auth"
	"github.com/spec-kit/patient-track/internal/client"
	"github.com/spec-kit/patient-track/internal/config"
	"github.com/spec-kit/patient-track/internal/observability"
	"github.com/spec-kit/patient-track/internal/persistence"
	"github.com/spec-kit/patient-track/internal/repository"
	"github.com/spec-kit/patient-track/internal/service"
)

func main() {
	cfg, err := config.Load(config.WithDefaultPort("8082"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, "user-data-service")
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
	if !pg.Configured() {
		logger.Fatal("POSTGRES_DSN is required for the user-data service")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	userService := service.NewUserService(repository.NewUserRepository(pg.PoolHandle()), cfg.Auth.BcryptCost)

	metrics := observability.NewMetrics()
	decoder := auth.NewClaimsDecoder(auth.FallbackMode(cfg.Filter.FallbackMode), cfg.Filter.SigningKey)
	filter := auth.NewTokenFilter(
		client.NewAuthClient(cfg.Services.AuthURL, cfg.Services.CallTimeout()),
		decoder,
		auth.FilterOptions{
			PublicPaths: append(append([]string{}, cfg.Filter.PublicPaths...), httptransport.UserDataPublicPaths...),
			Timeout:     cfg.Services.CallTimeout(),
		},
		logger,
		metrics,
	)
	if decoder.Mode() == auth.FallbackUnverified {
		logger.Warn("token filter falls back to unverified claims when the auth service is unreachable")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterUserDataRoutes(app, httptransport.UserDataRouteConfig{
		Health: handlers.NewHealthHandler("user-data-service", cfg.App.Version, metrics,
			handlers.DependencyCheck{Name: "postgres", Ping: pg.Ping}),
		Users:  handlers.NewUsersHandler(userService),
		Filter: filter,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
