package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/propfeed/listings/config"
	expressionrepo "github.com/propfeed/listings/internal/repositories/expression"
	jobrepo "github.com/propfeed/listings/internal/repositories/job"
	listingrepo "github.com/propfeed/listings/internal/repositories/listing"
	"github.com/propfeed/listings/internal/services/jobs"
	"github.com/propfeed/listings/internal/services/refresh"
	"github.com/propfeed/listings/internal/services/versions"
	"github.com/propfeed/listings/pkg/database"
	"github.com/propfeed/listings/pkg/events"
	"github.com/propfeed/listings/pkg/kafka"
	"github.com/propfeed/listings/pkg/middleware"
	expressionroute "github.com/propfeed/listings/pkg/routes/expression"
	"github.com/propfeed/listings/pkg/routes/health"
	listingroute "github.com/propfeed/listings/pkg/routes/listing"
	updateroute "github.com/propfeed/listings/pkg/routes/update"
	"github.com/propfeed/listings/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx := context.Background()

	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)
	defer tracerProvider.Shutdown(ctx)
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		Name:            cfg.DatabaseName,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		DatabaseName:        cfg.DatabaseName,
	})
	if err := migrations.Migrate(db.DB); err != nil {
		logger.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer, logger)

	listingRepository := listingrepo.NewRepository(db, logger)
	expressionRepository := expressionrepo.NewRepository(db, logger)
	jobRepository := jobrepo.NewRepository(db, logger)

	versionsService := versions.NewService(db, listingRepository, expressionRepository, emitter, logger)
	fetcher := refresh.NewFetcher(refresh.FetcherConfig{
		BaseURL: cfg.ListingsEndpoint,
		Path:    cfg.ListingsPath,
		Timeout: cfg.ListingsFetchTimeout,
	}, logger)
	refreshService := refresh.NewService(fetcher, versionsService, jobRepository, logger)
	jobsService := jobs.NewService(jobRepository, refreshService, cfg.RefreshFreshnessWindow, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(otelecho.Middleware(cfg.AppName))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	listingsGroup := e.Group("/listings")
	listingroute.NewHandler(versionsService).RegisterRoutes(listingsGroup)
	expressionroute.NewHandler(versionsService).RegisterRoutes(listingsGroup)

	updatesGroup := e.Group("/updates")
	updateroute.NewHandler(jobsService).RegisterRoutes(updatesGroup)

	health.NewChecker(db, cfg.Version).RegisterRoutes(e)

	logger.WithFields(map[string]any{"app": cfg.AppName, "port": cfg.Port}).Info("Starting server")
	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Server stopped")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	if cfg.PrettyLogs {
		zapLogger, _ = zap.NewDevelopment()
	} else {
		zapLogger, _ = zap.NewProduction()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}
