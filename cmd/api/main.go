package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tovis/internal/api"
	"tovis/internal/auth"
	"tovis/internal/config"
	"tovis/internal/database"
	"tovis/internal/database/postgres"
	"tovis/internal/domain"
	"tovis/internal/events"
	"tovis/internal/google"
	"tovis/internal/logging"
	"tovis/internal/metrics"
	"tovis/internal/notify"
	"tovis/internal/repository"
	"tovis/internal/service"
	"tovis/internal/stream"
	"tovis/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	issueFor := flag.Int64("issue-token", 0, "print an access token for the given user id and exit")
	flag.Parse()

	if err := run(*issueFor); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(issueFor int64) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqlite, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	users := service.NewUserService(store, logging.Component(logger, "users"))
	tokens := auth.NewAuthenticator(cfg.API.Auth.JWTSecret, cfg.API.Auth.JWTIssuer, cfg.API.Auth.TokenTTL)
	if issueFor > 0 {
		return printToken(ctx, users, tokens, issueFor)
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	cache := initCache(redisClient, logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	bus := events.NewEventBus()
	subscribeEventLog(bus, logging.Component(logger, "events"))

	var queue domain.OutboxEnqueuer
	if cfg.Worker.Enabled {
		sinks, closeSinks := initSinks(ctx, cfg, store, logger)
		defer closeSinks()
		outbox := worker.NewOutboxWorker(store, sinks, redisClient, cfg.Worker, logging.Component(logger, "outbox"))
		queue = outbox
		go outbox.Start(ctx)
	}

	svc, err := buildServices(ctx, cfg, store, cache, bus, queue, users, logger)
	if err != nil {
		return err
	}

	if cfg.Backup.Enabled && sqlite != nil {
		go database.NewBackupService(sqlite, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}

	authn := api.NewAuthenticator(cfg.API.Auth, tokens, users)
	err = startServers(ctx, cfg, svc, authn, store, logger)
	stop()
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
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// initStore opens the configured backend. The SQLite handle is returned
// separately because only that backend supports backups.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.Database.Postgres, logging.Component(logger, "postgres"))
		if err != nil {
			logger.Error().Err(err).Msg("init postgres")
			return nil, nil, err
		}
		store.SetOperationTimeout(cfg.Database.OperationTimeout)
		return store, nil, nil
	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "sqlite"))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		db.SetOperationTimeout(cfg.Database.OperationTimeout)
		return db, db, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, cache falls back to memory")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

func initCache(client *redis.Client, logger *zerolog.Logger) domain.CacheRepository {
	memory := repository.NewMemoryCacheRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverCacheRepository(
		repository.NewRedisCacheRepository(client), memory, logging.Component(logger, "cache"))
}

// initSinks builds the delivery targets that are configured. A sink that
// fails to initialize is skipped so the others keep working.
func initSinks(ctx context.Context, cfg *config.Config, store domain.Store, logger *zerolog.Logger) ([]domain.EventSink, func()) {
	var (
		sinks   []domain.EventSink
		closers []func()
	)

	if cfg.Telegram.BotToken != "" {
		bot, err := notify.NewBotSender(cfg.Telegram.BotToken, cfg.Telegram.Debug)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, notifications disabled")
		} else {
			sinks = append(sinks, notify.NewTelegramSink(bot, store, logging.Component(logger, "telegram")))
		}
	}

	if cfg.Google.CredentialsFile != "" && cfg.Google.ScheduleSpreadsheetID != "" {
		sheets, err := initSheets(ctx, cfg.Google, logging.Component(logger, "sheets"))
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, schedule sync disabled")
		} else {
			sinks = append(sinks, sheets)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := stream.NewKafkaSink(stream.NewWriter(cfg.Kafka.Brokers), cfg.Kafka.Topic, logging.Component(logger, "kafka"))
		sinks = append(sinks, kafkaSink)
		closers = append(closers, func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka writer")
			}
		})
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.Info().Strs("sinks", names).Msg("outbox sinks configured")

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func initSheets(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) (*google.SheetsSink, error) {
	sheets, err := google.NewSheetsSink(ctx, cfg.CredentialsFile, cfg.ScheduleSpreadsheetID, logger)
	if err != nil {
		return nil, err
	}
	if err := sheets.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("sheets connection test: %w", err)
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		return nil, fmt.Errorf("sheets header: %w", err)
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("sheets row cache warm-up failed")
	}
	logger.Info().Msg("Google Sheets sink initialized")
	return sheets, nil
}

func buildServices(
	ctx context.Context,
	cfg *config.Config,
	store domain.Store,
	cache domain.CacheRepository,
	bus *events.EventBus,
	queue domain.OutboxEnqueuer,
	users *service.UserService,
	logger *zerolog.Logger,
) (api.Services, error) {
	opts := service.OptionsFromConfig(cfg.Booking)
	clock := domain.RealClock{}
	recorder := service.NewEventRecorder(bus, queue, logging.Component(logger, "recorder"))
	catalog := service.NewCatalogService(store, logging.Component(logger, "catalog"))

	if cfg.Catalog.Path != "" {
		entries, err := service.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			logger.Error().Err(err).Str("catalog_path", cfg.Catalog.Path).Msg("read services catalog")
			return api.Services{}, err
		}
		if err := catalog.Seed(ctx, entries); err != nil {
			logger.Error().Err(err).Msg("seed services catalog")
			return api.Services{}, err
		}
	}

	return api.Services{
		Bookings:     service.NewBookingService(store, cache, recorder, clock, opts, logging.Component(logger, "bookings")),
		Availability: service.NewAvailabilityService(store, cache, clock, opts, logging.Component(logger, "availability")),
		Blocks:       service.NewBlockService(store, cache, recorder, logging.Component(logger, "blocks")),
		Sessions:     service.NewSessionService(store, clock, opts),
		Schedule:     service.NewScheduleService(store, cache, logging.Component(logger, "schedule")),
		Catalog:      catalog,
		Users:        users,
		Export:       service.NewExportService(store, logging.Component(logger, "export")),
	}, nil
}

// subscribeEventLog mirrors every recorded event into the log.
func subscribeEventLog(bus *events.EventBus, logger *zerolog.Logger) {
	types := append([]string{events.EventBlockCreated, events.EventBlockDeleted}, events.BookingEvents...)
	bus.SubscribeAll(types, func(ev *events.Event) error {
		logger.Debug().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("event recorded")
		return nil
	})
}

func printToken(ctx context.Context, users *service.UserService, tokens *auth.Authenticator, userID int64) error {
	actor, err := users.CurrentUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	token, err := tokens.Issue(actor.UserID, actor.Role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	svc api.Services,
	authn *api.Authenticator,
	ready api.Pinger,
	logger *zerolog.Logger,
) error {
	if !cfg.API.HTTP.Enabled && !cfg.API.GRPC.Enabled {
		return errors.New("neither api.http nor api.grpc is enabled")
	}

	var (
		httpServer *api.HTTPServer
		grpcServer *api.GRPCServer
		errCh      = make(chan error, 2)
	)

	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, svc, authn, ready, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, svc, authn, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	logger.Info().
		Bool("http", cfg.API.HTTP.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc", cfg.API.GRPC.Enabled).
		Int("grpc_port", cfg.API.GRPC.Port).
		Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}

	logger.Info().Msg("API server stopped")
	return runErr
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
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
