package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/queue-service/internal/api/http"
	"github.com/spec-kit/queue-service/internal/api/http/handlers"
	"github.com/spec-kit/queue-service/internal/auth"
	"github.com/spec-kit/queue-service/internal/bootstrap"
	"github.com/spec-kit/queue-service/internal/config"
	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/observability"
	"github.com/spec-kit/queue-service/internal/persistence"
	"github.com/spec-kit/queue-service/internal/service"
	"github.com/spec-kit/queue-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg, logger, cfg.Postgres.RunMigrations)
	if err != nil {
		logger.Fatal("failed to open ticket store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer store.Close()

	dir, err := bootstrap.LoadDirectory(cfg.Queue)
	if err != nil {
		logger.Fatal("failed to load departments", zap.Error(err))
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, redis, cfg.Redis)
	notificationWorker := worker.NewNotificationWorker(notificationService, logger, worker.DefaultBufferSize)
	notificationWorker.Start(ctx, dispatcher)

	dispatchService := service.NewDispatchService(service.DispatchDependencies{
		Store:                 store.Tickets,
		Directory:             dir,
		Dispatcher:            dispatcher,
		Metrics:               metrics,
		Logger:                logger,
		DefaultCapacity:       cfg.Queue.DefaultCapacity,
		OneLiveTicketPerOwner: cfg.Queue.OneLiveTicketPerOwner,
	})
	queryService := service.NewQueryService(store.Tickets, dir, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:     cfg.App.RequestTimeout(),
		CORSOrigins: cfg.App.CORSOrigins,
	})

	pollInterval := cfg.Queue.PollInterval()
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics,
			handlers.Dependency{Name: store.Driver, Pinger: store},
			handlers.Dependency{Name: "redis", Pinger: redis},
		),
		Tickets:        handlers.NewTicketsHandler(dispatchService, queryService, pollInterval),
		StaffTickets:   handlers.NewStaffTicketsHandler(dispatchService),
		Departments:    handlers.NewDepartmentsHandler(queryService, pollInterval),
		AuthMiddleware: authMiddleware,
	})

	logger.Info("queue service starting",
		zap.String("addr", cfg.App.Addr()),
		zap.String("store", store.Driver),
		zap.Int("departments", len(dir.All())))

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	notificationWorker.Stop()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
