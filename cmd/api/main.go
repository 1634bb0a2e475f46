package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"staybook/internal/api"
	"staybook/internal/catalog"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/identity"
	"staybook/internal/logging"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/notify"
	"staybook/internal/payment"
	"staybook/internal/repository"
	"staybook/internal/scheduler"
	"staybook/internal/service"
	"staybook/internal/upstream"
	"staybook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var lifecycleEvents = []string{
	models.EventReservationCreated,
	models.EventReservationConfirmed,
	models.EventReservationCompleted,
	models.EventReservationCancelled,
	models.EventReservationLatePayment,
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout, logging.Component(logger, "store"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	goBackground := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	coordination := initCoordination(redisClient, logger)

	listings, err := initCatalog(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	notifier := worker.NewNotificationWorker(
		db,
		initSender(cfg, logger),
		coordination,
		worker.RetryPolicy{MaxRetries: cfg.Notify.MaxRetries},
		parseDuration(cfg.Notify.PollInterval, 2*time.Second),
		logging.Component(logger, "notifications"),
	)
	goBackground(func() { notifier.Start(ctx) })

	bus := events.NewEventBus(logging.Component(logger, "events"))
	if cfg.Kafka.PublishingEnabled && len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ReservationTopic, logging.Component(logger, "kafka-publisher"))
		publisher.Attach(bus, lifecycleEvents...)
		defer func() { _ = publisher.Close() }()
	}

	lifecycle := service.NewReservationService(service.Dependencies{
		Store:     db,
		Locker:    repository.NewCalendarLock(coordination, cfg.LockTTL(), cfg.LockWait(), logging.Component(logger, "calendar-lock")),
		Catalog:   listings,
		Directory: identity.NewDirectory(cfg.Identity),
		Notifier:  notifier,
		Events:    bus,
	}, cfg.Booking.MaxAdvanceDays, logging.Component(logger, "lifecycle"))

	expirations := scheduler.New(db, lifecycle, cfg.SweepInterval(), logging.Component(logger, "scheduler"))
	lifecycle.SetScheduler(expirations)
	goBackground(func() { expirations.Start(ctx) })

	reconciler := initPayments(ctx, cfg, lifecycle, coordination, logger, goBackground)

	backups := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	goBackground(func() { backups.Start(ctx) })

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Handlers{
		Reservations: lifecycle,
		Payments:     reconciler,
		Sweeper:      expirations,
		Ready:        db.Ping,
	}, logging.Component(logger, "http"))

	err = startServers(ctx, httpServer, cfg, logger)
	stop()
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, baseLogger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, calendar locks are process-local")
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		// failover-репозиторий сам вернётся к redis, когда тот поднимется
		logger.Warn().Err(err).Msg("redis connection failed, starting on memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initCoordination(client *redis.Client, logger *zerolog.Logger) domain.CoordinationRepository {
	memory := repository.NewMemoryCoordinationRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverCoordinationRepository(
		repository.NewRedisCoordinationRepository(client, "staybook"),
		memory,
		logging.Component(logger, "coordination"),
	)
}

func initCatalog(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (domain.Catalog, error) {
	if cfg.Catalog.BaseURL != "" {
		client := upstream.New(upstream.Config{
			Name:    "catalog",
			BaseURL: cfg.Catalog.BaseURL,
			Timeout: time.Duration(cfg.Catalog.TimeoutSeconds) * time.Second,
		}, logging.Component(logger, "catalog"))
		remote := catalog.NewHTTPCatalog(client)
		if redisClient == nil || cfg.Catalog.CacheTTL == "" {
			return remote, nil
		}
		return catalog.NewCachedCatalog(remote, redisClient, parseDuration(cfg.Catalog.CacheTTL, time.Minute),
			logging.Component(logger, "catalog-cache")), nil
	}

	static, err := catalog.LoadFile(cfg.Catalog.ListingsPath)
	if err != nil {
		logger.Error().Err(err).Str("listings_path", cfg.Catalog.ListingsPath).Msg("load listings")
		return nil, err
	}
	logger.Info().Int("listings", len(static.Listings())).Msg("static catalog loaded")
	return static, nil
}

func initSender(cfg *config.Config, logger *zerolog.Logger) domain.NotificationSender {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewLogSender(logging.Component(logger, "notify"))
	}
	client := upstream.New(upstream.Config{
		Name:    "notifications",
		BaseURL: cfg.Notify.WebhookURL,
		Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	}, logging.Component(logger, "notify"))
	return notify.NewWebhookSender(client)
}

// initPayments returns nil when no payment processor is configured; the
// callback endpoint then answers 501.
func initPayments(
	ctx context.Context,
	cfg *config.Config,
	lifecycle *service.ReservationService,
	coordination domain.CoordinationRepository,
	logger *zerolog.Logger,
	goBackground func(func()),
) domain.PaymentReconciler {
	if cfg.Payment.BaseURL == "" {
		logger.Warn().Msg("payment processor not configured, reconciliation disabled")
		return nil
	}

	client := upstream.New(upstream.Config{
		Name:    "payments",
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: time.Duration(cfg.Payment.TimeoutSeconds) * time.Second,
	}, logging.Component(logger, "payments"))

	reconciler := payment.NewReconciler(lifecycle, payment.NewHTTPSessionResolver(client), coordination,
		logging.Component(logger, "reconciler"))

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := payment.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.GroupID,
			reconciler, logging.Component(logger, "payment-consumer"))
		goBackground(func() {
			defer consumer.Close()
			consumer.Run(ctx)
		})
	}
	return reconciler
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			logger.Warn().Msg("HTTP API is disabled in config, running background workers only")
			return
		}
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("reservation engine started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("reservation engine stopped")
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
