package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"eldhos/internal/api"
	"eldhos/internal/auth"
	"eldhos/internal/config"
	"eldhos/internal/eld"
	"eldhos/internal/lock"
	"eldhos/internal/logging"
	"eldhos/internal/routing"
	"eldhos/internal/store"
	"eldhos/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "eld-hos-api")
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		locker lock.Locker = lock.NewKeyedMutex()
		broker api.EventBroker
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLease(rdb, cfg.LockTTL, logger.Named("lock"))
		broker = api.NewRedisBroker(rdb, logger.Named("broker"))
		logger.Info("using redis for locks and events")
	} else {
		broker = api.NewBroker()
	}

	estimator := routing.NewEstimator(cfg.ELD.AverageSpeedMPH, 0)
	var router eld.Router = estimator
	if cfg.RoutingBaseURL != "" {
		router = &routing.Fallback{
			Primary:   routing.NewClient(cfg.RoutingBaseURL, cfg.RoutingAPIKey, cfg.RoutingTimeout, logger.Named("routing")),
			Secondary: estimator,
			Logger:    logger.Named("routing"),
		}
	}

	hooks := webhooks.NewPublisher(st, logger.Named("webhooks"))
	svc := eld.NewService(st,
		eld.WithLocker(locker),
		eld.WithRouter(router),
		eld.WithPublisher(eld.MultiPublisher{api.BrokerPublisher{Broker: broker}, hooks}),
		eld.WithLogger(logger.Named("eld")),
		eld.WithPolicy(eld.Policy{
			RequiredDocumentTypes: cfg.ELD.RequiredDocumentTypes,
			AverageSpeedMPH:       cfg.ELD.AverageSpeedMPH,
			FuelIntervalMiles:     cfg.ELD.FuelIntervalMiles,
		}),
	)

	srv := api.NewServer(api.Deps{
		Service:   svc,
		Broker:    broker,
		Auth:      auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret),
		Logger:    logger.Named("http"),
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
		Settings: map[string]any{
			"PORT":                 cfg.Port,
			"AUTH_MODE":            cfg.AuthMode,
			"RATE_RPS":             cfg.RateRPS,
			"RATE_BURST":           cfg.RateBurst,
			"WEBHOOK_MAX_ATTEMPTS": cfg.WebhookMaxAttempts,
			"HAS_DATABASE_URL":     cfg.DatabaseURL != "",
			"HAS_REDIS_URL":        cfg.RedisURL != "",
			"HAS_ROUTING_BASE_URL": cfg.RoutingBaseURL != "",
		},
	})

	worker := webhooks.NewWorker(st, cfg.WebhookMaxAttempts, logger.Named("webhooks"))
	go worker.Run(ctx)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openStore connects to Postgres when DATABASE_URL is set, otherwise uses
// the in-memory store.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}
	return pg, func() { _ = pg.Close() }, nil
}
