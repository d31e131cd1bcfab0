package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/opencurate/releasehub/internal/config"
	"github.com/opencurate/releasehub/internal/infra/database"
	"github.com/opencurate/releasehub/internal/infra/gateway"
	"github.com/opencurate/releasehub/internal/infra/repository"
	"github.com/opencurate/releasehub/internal/present/rest"
	"github.com/opencurate/releasehub/internal/present/rest/middleware"
	"github.com/opencurate/releasehub/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error(
			"Failed to load configuration",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error(
				"Failed to set up trace provider",
				slog.String("error", err.Error()),
				slog.String("module", "main"),
			)
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error(
			"Failed to connect database",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}
	if err := database.MigratePostgres(db); err != nil {
		slog.Error(
			"Failed to migrate database",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisDB)
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	releaseRepo := repository.NewReleaseRepository(db)
	selectionRepo := repository.NewSelectionRepository(db)
	manifestRepo := repository.NewManifestRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditLease := gateway.NewRedisAuditLease(rdb)
	manifestCache := gateway.NewMemcachedManifestCache(mc, conf.Release.ManifestCacheSeconds)

	store, err := gateway.NewS3Store(ctx, conf.Sharers.ObjectSigning.AwsRegion)
	if err != nil {
		slog.Error(
			"Failed to initialize object store",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	r2, err := gateway.NewR2Presigner(
		ctx,
		conf.Sharers.ObjectSigning.R2Endpoint,
		conf.Sharers.ObjectSigning.R2AccessKeyID,
		conf.Sharers.ObjectSigning.R2SecretAccessKey,
	)
	if err != nil {
		slog.Error(
			"Failed to initialize r2 presigner",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	auditService := usecase.NewAuditService(auditRepo, auditLease)
	releaseUC := usecase.NewReleaseUsecase(releaseRepo, auditService, conf.Release.KeyPrefix)
	selectionUC := usecase.NewSelectionUsecase(releaseRepo, selectionRepo, auditService)
	manifestUC := usecase.NewManifestUsecase(releaseRepo, manifestRepo, manifestCache)
	datasetUC := usecase.NewDatasetUsecase(datasetRepo)

	sharingUC, err := usecase.NewSharingUsecase(
		releaseRepo,
		manifestUC,
		store,
		auditService,
		conf.Sharers.ObjectSigning,
		conf.Sharers.Htsget,
		gateway.NewS3Presigner(store),
		r2,
		gateway.NewGSPresigner(conf.Sharers.ObjectSigning.GcpEnabled),
	)
	if err != nil {
		slog.Error(
			"Failed to initialize sharing",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}
	manifestUC.SetSigner(sharingUC)

	auth := middleware.NewAuthMiddleware(conf.Server.JwtAudience, conf.Server.JwtSecret)
	handler := rest.NewHandler(releaseUC, selectionUC, manifestUC, sharingUC, datasetUC, auditService)

	e := echo.New()
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("releasehub"))
	}

	handler.RegisterRoutes(e, auth)

	e.Logger.Fatal(e.Start(conf.Server.Listen))
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("releasehub"),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Error(
				"Failed to shut down trace provider",
				slog.String("error", err.Error()),
				slog.String("module", "main"),
			)
		}
	}, nil
}
