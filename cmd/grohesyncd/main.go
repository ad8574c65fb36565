package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grohe-sync-backend/config"
	"grohe-sync-backend/internal/api"
	"grohe-sync-backend/internal/coordinator"
	"grohe-sync-backend/internal/grohe"
	"grohe-sync-backend/internal/logging"
	"grohe-sync-backend/internal/mqtt"
	"grohe-sync-backend/internal/notification"
	"grohe-sync-backend/internal/store"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, level, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "grohe-sync")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("configuration loaded", zap.String("path", configPath), zap.Int("devices", len(cfg.Devices)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, &level); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, level *zap.AtomicLevel) error {
	client, err := grohe.New(context.WithoutCancel(ctx), grohe.Config{
		BaseURL:           cfg.Grohe.BaseURL,
		TokenURL:          cfg.Grohe.TokenURL,
		ClientID:          cfg.Grohe.ClientID,
		RefreshToken:      cfg.Grohe.RefreshToken,
		Timeout:           cfg.Grohe.Timeout,
		RequestsPerSecond: cfg.Grohe.RequestsPerSecond,
		HTTPProxy:         cfg.Grohe.HTTPProxy,
	}, logger)
	if err != nil {
		return err
	}

	handlers, cleanup, err := notificationHandlers(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, logger, handlers...)
	pool.Start(poolCtx)

	metrics := coordinator.NewMetrics(prometheus.DefaultRegisterer)
	appStore := store.NewMemoryStore()

	for _, d := range cfg.Devices {
		id, err := d.Identity()
		if err != nil {
			return err
		}
		profile, err := coordinator.ProfileFor(id, coordinator.ProfileOptions{
			Interval:                      d.PollingInterval,
			MinPressureMeasurementVersion: cfg.MinPressureMeasurementVersion,
		})
		if err != nil {
			return err
		}

		coord := coordinator.New(client, id, profile, coordinator.Options{
			Logger:         logger,
			Metrics:        metrics,
			Location:       cfg.Grohe.Location,
			VerboseLogging: cfg.Logging.VerboseResponses,
		})
		coord.AddListener(pool.Listener())
		if err := appStore.Register(coord); err != nil {
			return err
		}
	}
	logger.Info("coordinators registered", zap.Int("count", len(appStore.List())))

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" {
		webpushOptions = pushOptions(cfg.Push)
	}

	router := api.NewRouter(appStore, api.RouterOptions{
		Webpush:         webpushOptions,
		Level:           level,
		Gatherer:        prometheus.DefaultGatherer,
		Logger:          logger,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		CacheTTL:        cfg.Server.CacheTTL,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	for _, coord := range appStore.List() {
		coord := coord
		g.Go(func() error {
			// A failed first fetch is not fatal; the schedule retries.
			if _, err := coord.InitialValue(gctx); err != nil {
				logger.Warn("initial fetch failed",
					zap.String("appliance_id", coord.Device().ApplianceID),
					zap.Error(err),
				)
			}
			return coord.Run(gctx)
		})
	}

	err = g.Wait()

	// Refresh cycles cannot be cancelled; give them a bounded time to finish.
	waitForCycles(appStore.List(), 45*time.Second, logger)
	stopPool()
	pool.Wait()
	return err
}

func notificationHandlers(cfg *config.Config, logger *zap.Logger) ([]notification.Handler, func(), error) {
	var handlers []notification.Handler
	cleanup := func() {}

	if cfg.MQTT.Enabled {
		mqttClient := mqtt.NewClient(mqtt.Options{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TopicRoot: cfg.MQTT.TopicRoot,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			return nil, cleanup, fmt.Errorf("mqtt: %w", err)
		}
		cleanup = mqttClient.Disconnect
		handlers = append(handlers, notification.NewStatePublisher(mqttClient))
	}

	if cfg.Push.Enabled() {
		subs := make([]*webpush.Subscription, 0, len(cfg.Push.Subscriptions))
		for _, s := range cfg.Push.Subscriptions {
			subs = append(subs, &webpush.Subscription{
				Endpoint: s.Endpoint,
				Keys:     webpush.Keys{P256dh: s.P256DH, Auth: s.Auth},
			})
		}
		handlers = append(handlers, notification.NewStatusAlerter(pushOptions(cfg.Push), subs, cfg.Push.WatchStatus, logger))
	}

	return handlers, cleanup, nil
}

func pushOptions(p config.PushConfig) *webpush.Options {
	return &webpush.Options{
		VAPIDPublicKey:  p.PublicKey,
		VAPIDPrivateKey: p.PrivateKey,
		Subscriber:      p.Subject,
		TTL:             p.TTL,
	}
}

func waitForCycles(coords []*coordinator.Coordinator, timeout time.Duration, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		for _, c := range coords {
			c.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("refresh cycles still running at shutdown", zap.Duration("waited", timeout))
	}
}
