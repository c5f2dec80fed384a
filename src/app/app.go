package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethaccount/useropkit/erc4337"
	"github.com/ethaccount/useropkit/src/handler"
	"github.com/ethaccount/useropkit/src/metrics"
	"github.com/ethaccount/useropkit/src/repository"
	"github.com/ethaccount/useropkit/src/service"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const cacheKeyPrefix = "userop"

type Application struct {
	config     AppConfig
	stack      *ClientStack
	database   *gorm.DB
	redis      *redis.Client
	metrics    *metrics.OperationMetrics
	Operations *service.OperationService
	Reconciler *service.ReconcileWorker
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	app := &Application{config: config}

	stack, err := NewClientStack(ctx, config.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to build client stack: %w", err)
	}
	app.stack = stack

	var (
		store service.OperationStore
		cache service.StatusCache
	)

	if config.RedisURL != nil && *config.RedisURL != "" {
		redisOpts, err := redis.ParseURL(*config.RedisURL)
		if err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		app.redis = redis.NewClient(redisOpts)

		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to redis failed: %w", err)
		}
		cache = repository.NewOperationCache(app.redis, cacheKeyPrefix, repository.DefaultCacheTTL)
		logger.Info().Msg("Redis connection established")
	} else {
		logger.Warn().Msg("REDIS_URL not set, status cache disabled")
	}

	if config.DSN != nil && *config.DSN != "" {
		if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
			app.Shutdown(ctx)
			return nil, err
		}

		database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to database failed: %w", err)
		}
		app.database = database

		db, err := database.DB()
		if err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to database failed: %w", err)
		}
		store = repository.NewOperationRepository(database)
		logger.Info().Msg("Database connection established")
	} else {
		logger.Warn().Msg("DB_URL not set, operation journal disabled")
	}

	app.metrics = metrics.NewOperationMetrics(erc4337.ActiveReceiptPolls)

	operations, err := service.NewOperationService(ctx, service.OperationServiceConfig{
		Bundler:     stack.Bundler,
		Account:     stack.Account,
		Fees:        stack.Fees,
		Sponsorship: stack.Sponsorship,
		Store:       store,
		Cache:       cache,
		Metrics:     app.metrics,
		WaitOptions: erc4337.WaitOptions{
			PollingInterval: config.Client.PollingInterval,
			Timeout:         config.Client.ReceiptTimeout,
		},
	})
	if err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("creation of operation service failed: %w", err)
	}
	app.Operations = operations

	if store != nil {
		app.Reconciler = service.NewReconcileWorker(operations, service.ReconcileConfig{
			PollingInterval: time.Duration(*config.ReconcileInterval) * time.Second,
			MaxPendingAge:   *config.PendingMaxAge,
		})
	}

	return app, nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		} else {
			logger.Info().Msg("Database connection closed")
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}

	if app.stack != nil {
		app.stack.Close()
		logger.Info().Msg("RPC connections closed")
	}
}

// healthChecks checks every configured dependency.
func (app *Application) healthChecks() []handler.HealthCheck {
	checks := []handler.HealthCheck{{
		Name: "bundler",
		Check: func(ctx context.Context) error {
			_, err := app.stack.Bundler.ChainID(ctx)
			return err
		},
	}}
	if app.redis != nil {
		checks = append(checks, handler.HealthCheck{
			Name:  "cache",
			Check: func(ctx context.Context) error { return app.redis.Ping(ctx).Err() },
		})
	}
	if app.database != nil {
		checks = append(checks, handler.HealthCheck{
			Name: "journal",
			Check: func(ctx context.Context) error {
				db, err := app.database.DB()
				if err != nil {
					return err
				}
				return db.PingContext(ctx)
			},
		})
	}
	return checks
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.Default()

	handler.RegisterRoutes(ctx, ginRouter, handler.RouterConfig{
		Operations:   app.Operations,
		Health:       app.healthChecks(),
		Metrics:      app.metrics.Handler(),
		AllowOrigins: *app.config.AllowOrigins,
		APISecret:    *app.config.APISecret,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	go func() {
		logger.Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunPollingWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunPollingWorker").Logger()
	if app.Reconciler == nil {
		logger.Info().Msg("Operation journal disabled, reconcile worker not started")
		return
	}

	logger.Info().Msg("Starting polling worker")
	_ = app.Reconciler.Start(ctx)
	logger.Info().Msg("Polling worker stopped")
}
