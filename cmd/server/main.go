package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xammer/billops/internal/application/billimport"
	"github.com/xammer/billops/internal/application/cost"
	appinvoice "github.com/xammer/billops/internal/application/invoice"
	"github.com/xammer/billops/internal/application/warmup"
	"github.com/xammer/billops/internal/domain/invoice"
	"github.com/xammer/billops/internal/infrastructure/billparser"
	"github.com/xammer/billops/internal/infrastructure/cache"
	"github.com/xammer/billops/internal/infrastructure/config"
	"github.com/xammer/billops/internal/infrastructure/event"
	"github.com/xammer/billops/internal/infrastructure/logger"
	"github.com/xammer/billops/internal/infrastructure/persistence"
	"github.com/xammer/billops/internal/infrastructure/scheduler"
	"github.com/xammer/billops/internal/infrastructure/storage"
	"github.com/xammer/billops/internal/infrastructure/telemetry"
	"github.com/xammer/billops/internal/interfaces/http/handler"
	"github.com/xammer/billops/internal/interfaces/http/middleware"
	"github.com/xammer/billops/internal/interfaces/http/router"
)

const (
	shutdownTimeout   = 30 * time.Second
	processedEventTTL = 7 * 24 * time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Log)
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting billing service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()
	log, shutdown := initTelemetry(ctx, cfg, log)
	defer shutdown()

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing.DBName = cfg.Database.DBName
	if err := telemetry.NewDBTracing(dbTracing, log).Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Cache
	store, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.Cache.AllowInMemory),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
	).CreateStore()
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing cache", zap.Error(err))
		}
	}()
	coordinator := cache.NewCoordinator(store,
		cache.WithCoordinatorLogger(log),
		cache.WithWarmConcurrency(cfg.Cache.WarmConcurrency),
	)

	// Repositories
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	usageRepo := persistence.NewGormUsageRepository(db.DB)

	// Application services
	aggregator := cost.NewAggregator(persistence.NewUsageCostProvider(db.DB),
		cost.WithLogger(log),
		cost.WithPoolSize(cfg.Cost.WorkerPoolSize),
		cost.WithHistoryMonths(cfg.Cost.HistoryMonths),
		cost.WithCache(coordinator, cfg.Cache.DashboardTTL, cfg.Cache.DefaultTTL),
	)
	invoiceService := appinvoice.NewService(invoiceRepo, aggregator, coordinator, log, appinvoice.ServiceConfig{
		InvoiceTTL: cfg.Cache.InvoiceTTL,
		ListTTL:    cfg.Cache.InvoiceListTTL,
	})

	// Event bus: finalized invoices notify the billing team once.
	eventBus := event.NewInMemoryEventBus(log)
	mailHandler := event.NewInvoiceFinalizedMailHandler(event.NewLogMailer(log.Named("mail")), cfg.Mail.From, cfg.Mail.BillsTo)
	eventBus.Subscribe(event.NewDedupHandler(mailHandler, store, processedEventTTL, log), invoice.EventTypeInvoiceFinalized)
	invoiceService.SetEventPublisher(eventBus)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eventBus.Stop(stopCtx); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Bill import
	blobs, err := newBlobStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize bill storage", zap.Error(err))
	}
	parser := billparser.New(
		billparser.WithLogger(log),
		billparser.WithTextExtractor(billparser.NewPDFTextExtractor(billparser.WithPDFLogger(log))),
	)
	importService := billimport.NewService(blobs, parser, usageRepo, invoiceService, coordinator, log)

	// Warm-up scheduler
	var trigger handler.SlotTrigger
	if cfg.Scheduler.Enabled {
		warmupTrigger, stop := startWarmup(ctx, cfg, log, usageRepo, aggregator, invoiceService, coordinator)
		defer stop()
		trigger = warmupTrigger
	}

	var cacheProbe handler.CacheProbe
	if p, ok := store.(handler.CacheProbe); ok {
		cacheProbe = p
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Env:            cfg.App.Env,
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        cfg.Telemetry.Enabled,
		Profiling:      cfg.Profiling.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		HSTS:           cfg.HTTP.HSTS,
		RateLimit:      cfg.HTTP.RateLimit,
		RateWindow:     cfg.HTTP.RateWindow,
		Auth: middleware.AuthConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
		},
	}, log,
		handler.NewInvoiceHandler(invoiceService),
		handler.NewCostHandler(aggregator),
		handler.NewBillHandler(importService),
		handler.NewSystemHandler(db, cacheProbe, trigger),
	)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}
	if cfg.JWT.Secret == "" {
		log.Warn("JWT secret is empty, authentication is disabled")
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// initTelemetry starts tracing, metrics, log export and profiling as
// configured. When log export is on, the returned logger also writes to the
// collector. The returned func flushes everything.
func initTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*zap.Logger, func()) {
	tc := cfg.Telemetry
	var stops []func(context.Context) error

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	stops = append(stops, tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled && tc.MetricsEnabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    tc.MetricsInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	stops = append(stops, mp.Shutdown)

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled && tc.LogsEnabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	if lp.IsEnabled() {
		log = logger.Tee(log, lp.Core(tc.ServiceName, logger.ParseLevel(cfg.Log.Level)))
	}
	stops = append(stops, lp.Shutdown)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Profiling.Enabled,
		ServerAddress:   cfg.Profiling.ServerAddress,
		ApplicationName: tc.ServiceName,
	}, log)
	if err != nil {
		log.Warn("Profiler disabled", zap.Error(err))
	} else if profiler.IsEnabled() {
		tp.EnableSpanProfiles()
		stops = append(stops, func(context.Context) error { return profiler.Stop() })
	}

	return log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				log.Error("Telemetry shutdown failed", zap.Error(err))
			}
		}
	}
}

// newBlobStore returns the S3 store when a bucket is configured and an
// in-process store otherwise.
func newBlobStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.BlobStore, error) {
	if cfg.Storage.Bucket == "" {
		log.Warn("No bill bucket configured, uploads are kept in memory")
		return storage.NewMemoryBlobStore(), nil
	}
	s3, err := storage.NewS3BlobStore(&cfg.Storage,
		storage.WithLogger(log),
		storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
	)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

// startWarmup starts the job scheduler and the nightly slot trigger.
func startWarmup(
	ctx context.Context,
	cfg *config.Config,
	log *zap.Logger,
	accounts warmup.AccountSource,
	costs warmup.CostWarmer,
	invoices warmup.InvoiceWarmer,
	warmer warmup.Warmer,
) (*scheduler.WarmupTrigger, func()) {
	warmupService := warmup.NewService(accounts, costs, invoices, warmer, log)
	slots, err := warmupService.Slots(cfg.Scheduler)
	if err != nil {
		log.Fatal("Invalid warm-up schedule", zap.Error(err))
	}

	sched := scheduler.NewScheduler(cfg.Scheduler, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	trigger := scheduler.NewWarmupTrigger(sched, slots, log, scheduler.WithRetries(cfg.Scheduler.RetryAttempts))
	if err := trigger.Start(ctx); err != nil {
		log.Fatal("Failed to start warm-up trigger", zap.Error(err))
	}
	log.Info("Warm-up scheduler started", zap.Strings("slots", trigger.SlotNames()))

	return trigger, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := trigger.Stop(stopCtx); err != nil {
			log.Error("Error stopping warm-up trigger", zap.Error(err))
		}
		if err := sched.Stop(stopCtx); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}
}
