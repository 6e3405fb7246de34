package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"usage-telemetry-agent/config"
	"usage-telemetry-agent/internal/api"
	"usage-telemetry-agent/internal/collector"
	"usage-telemetry-agent/internal/db"
	"usage-telemetry-agent/internal/notification"
	"usage-telemetry-agent/internal/observer"
	"usage-telemetry-agent/internal/store"
	"usage-telemetry-agent/internal/syncer"
	"usage-telemetry-agent/internal/tracker"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Web push is optional; without VAPID keys the agent runs headless.
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn().Msg("VAPID keys not configured, push notifications disabled")
	}

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
	pool.Start(ctx)

	client := collector.NewHTTPClient(collector.Config{
		BaseURL:   cfg.Sync.BaseURL,
		Timeout:   cfg.Sync.Timeout,
		HTTPProxy: cfg.Sync.HTTPProxy,
	}, logger)

	mapper := syncer.Mapper{DeviceID: cfg.DeviceID}
	coord := syncer.New(appStore, client, mapper, cfg.Sync, logger)
	if webpushOptions != nil {
		coord.OnResult(func(r syncer.Result) {
			event := notification.Event{Kind: notification.EventSyncComplete, Records: r.Accepted, At: r.At}
			if r.Err != nil {
				event = notification.Event{Kind: notification.EventSyncFailed, Detail: r.Err.Error(), At: r.At}
			}
			pool.Dispatch(event)
		})
	}

	var obs observer.ForegroundObserver
	if len(cfg.Tracker.ObserverCommand) > 0 {
		obs, err = observer.NewExecObserver(cfg.Tracker.ObserverCommand)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid observer command")
		}
	} else {
		logger.Warn().Msg("no observer command configured, tracking disabled")
	}

	trk := tracker.New(tracker.Config{
		Interval:          cfg.Tracker.Interval,
		Window:            cfg.Tracker.Window,
		Backoff:           cfg.Tracker.Backoff,
		BackoffThreshold:  cfg.Tracker.BackoffThreshold,
		MinDurationMillis: cfg.Tracker.MinDurationMillis,
		SelfPackage:       cfg.Tracker.SelfPackage,
		LauncherPatterns:  cfg.Tracker.LauncherPatterns,
		OrphanPolicy:      cfg.Tracker.OrphanPolicy,
	}, appStore, obs, observer.StaticSnapshot(observer.Snapshot{}), logger)

	if cfg.Tracker.Enabled && obs != nil {
		if err := trk.StartTracking(ctx, cfg.Tracker.UserID); err != nil {
			logger.Fatal().Err(err).Msg("failed to start tracking")
		}
		logger.Info().Dur("interval", cfg.Tracker.Interval).Msg("session tracking started")
	}

	auto := syncer.NewAutoRunner(coord, cfg.Sync.Auto, logger)
	go auto.Run(ctx, cfg.Tracker.UserID)

	router := api.NewRouter(cfg.Server, appStore, trk, coord, webpushOptions, cfg.Tracker.UserID)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Closes every open session so nothing is left active on disk.
	trk.StopTracking(shutdownCtx)
	cancel()

	logger.Info().Msg("agent stopped")
}
