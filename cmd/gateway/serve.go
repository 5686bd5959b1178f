package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"iot-telemetry-gateway/internal/alerting"
	"iot-telemetry-gateway/internal/anomaly"
	"iot-telemetry-gateway/internal/api"
	"iot-telemetry-gateway/internal/auth"
	"iot-telemetry-gateway/internal/cache"
	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/engine"
	"iot-telemetry-gateway/internal/ingest"
	"iot-telemetry-gateway/internal/logging"
	"iot-telemetry-gateway/internal/metrics"
	"iot-telemetry-gateway/internal/simulator"
	"iot-telemetry-gateway/internal/storage"
	"iot-telemetry-gateway/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion and dashboard servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	storage.SetStrictInvariants(cfg.Engine.StrictInvariants)
	data.SetMaxMagnitude(cfg.Engine.MaxMagnitude)
	logger.Info().
		Str("environment", cfg.Environment).
		Bool("strict_invariants", cfg.Engine.StrictInvariants).
		Msg("Starting telemetry gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

	// --- Core ---
	alerter := alerting.NewAlerter(logger, recorder)
	eng := engine.New(
		engine.OptionsFromConfig(cfg.Engine, cfg.Anomaly),
		anomaly.NewDetector(cfg.Anomaly),
		engine.WithLogger(logger),
		engine.WithRecorder(recorder),
		engine.WithAlertSink(alerter),
	)

	// --- Observers ---
	hub := websocket.NewHub(logger, recorder, eng)
	alerter.AddSink(hub)

	var publisher *cache.Publisher
	if cfg.Redis.Enabled {
		publisher, err = cache.NewPublisher(cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Redis publisher, continuing without it")
		} else {
			alerter.AddSink(publisher)
			defer publisher.Close()
		}
	}

	// --- Producers ---
	pipeline := ingest.NewPipeline(eng, recorder, logger, hub)
	handler := api.NewAPIHandler(eng, pipeline, hub, auth.NewAuthManager(cfg.Auth, logger), recorder, logger)

	dataServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler:           api.SetupDataRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	uiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.UIPort),
		Handler:           api.SetupUIRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return alerter.Run(ctx) })
	serveHTTP(ctx, g, dataServer, "data", cfg.Server.ShutdownTimeout, logger)
	serveHTTP(ctx, g, uiServer, "ui", cfg.Server.ShutdownTimeout, logger)

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewKafkaConsumer(cfg.Kafka, pipeline, logger)
		if err != nil {
			return errors.Wrap(err, "failed to create Kafka consumer")
		}
		g.Go(func() error { return consumer.Run(ctx) })
	}

	scheduler, err := newScheduler(ctx, cfg, eng, hub, publisher, pipeline, logger)
	if err != nil {
		return err
	}
	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Gateway error")
		return err
	}
	logger.Info().Msg("Gateway stopped gracefully")
	return nil
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down within
// timeout.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, name string, timeout time.Duration, logger zerolog.Logger) {
	g.Go(func() error {
		logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "%s server", name)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrapf(err, "%s server shutdown", name)
		}
		return nil
	})
}

// newScheduler registers the periodic snapshot broadcast and, when enabled,
// the simulator tick.
func newScheduler(ctx context.Context, cfg config.Config, eng *engine.Engine, hub *websocket.Hub, publisher *cache.Publisher, pipeline *ingest.Pipeline, logger zerolog.Logger) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Broadcast.Interval),
		gocron.NewTask(func() {
			snap := eng.Snapshot()
			hub.BroadcastSnapshot(snap)
			if publisher == nil {
				return
			}
			storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := publisher.StoreSnapshot(storeCtx, snap); err != nil {
				logger.Warn().Err(err).Msg("Failed to store snapshot in Redis")
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to schedule snapshot broadcast")
	}

	if cfg.Simulator.Enabled {
		sim := simulator.New(cfg.Simulator)
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Simulator.Interval),
			gocron.NewTask(func() {
				for _, r := range sim.Tick() {
					// Rejections are logged and counted by the pipeline.
					_, _ = pipeline.Ingest(ingest.SourceSimulator, r)
				}
			}),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to schedule simulator")
		}
		logger.Info().Int("devices", len(cfg.Simulator.Devices)).Dur("interval", cfg.Simulator.Interval).Msg("Simulator enabled")
	}

	return scheduler, nil
}
