package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"icecold/config"
	"icecold/log"
	"icecold/server"
	"icecold/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []io.Closer

	source, err := newSensorSource(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sensor source", zap.String("source", cfg.SensorSource), zap.Error(err))
	}
	closers = append(closers, source)

	// Telemetry sinks
	sink := services.NewMultiSink(services.NewPrometheusSink())
	var events []services.EventPublisher
	var batchWriter *services.BatchWriter
	var csvStore *services.CSVStore

	if cfg.CSVDataDir != "" {
		csvStore, err = services.NewCSVStore(cfg.CSVDataDir)
		if err != nil {
			logger.Fatal("Failed to initialize CSV store", zap.Error(err))
		}
		sink.Add(csvStore)
		closers = append(closers, csvStore)
		logger.Info("CSV reading log enabled", zap.String("dir", csvStore.Dir()))
	}

	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		firebaseStore, err := services.NewFirebaseStore(cfg, logger.With(zap.String("sink", "firebase")))
		if err != nil {
			logger.Fatal("Failed to initialize Firebase store", zap.Error(err))
		}
		closers = append(closers, firebaseStore)

		batchWriter = services.NewBatchWriter("firebase", firebaseStore,
			cfg.FirebaseBatchSize,
			time.Duration(cfg.FirebaseBatchTimeout)*time.Second,
			logger.With(zap.String("sink", "firebase")))
		go batchWriter.Start(ctx)
		sink.Add(batchWriter)
	}

	if cfg.RabbitMQURL != "" {
		rabbitMQService, err := services.NewRabbitMQService(cfg, logger.With(zap.String("sink", "rabbitmq")))
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		sink.Add(rabbitMQService)
		events = append(events, rabbitMQService)
		closers = append(closers, rabbitMQService)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := services.NewKafkaSink(cfg, logger.With(zap.String("sink", "kafka")))
		if err != nil {
			logger.Fatal("Failed to initialize Kafka sink", zap.Error(err))
		}
		sink.Add(kafkaSink)
		events = append(events, kafkaSink)
		closers = append(closers, kafkaSink)
	}

	channel, err := services.NewNotificationChannel(cfg, log.WithComponent("notifications"))
	if err != nil {
		logger.Fatal("Failed to initialize notification channel", zap.String("channel", cfg.NotificationChannel), zap.Error(err))
	}

	poller, err := services.NewPoller(services.PollerConfig{
		Sensors:       cfg.Sensors,
		Interval:      cfg.PollInterval,
		SampleTimeout: cfg.SampleTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		SinkTimeout:   cfg.SinkTimeout,
		Destination:   cfg.NotificationDestination,
		Source:        source,
		Sink:          sink,
		Channel:       channel,
		Formatter:     services.NewAlertFormatter(cfg.Recipients),
		Events:        events,
		Health:        services.NewSourceHealthMonitor(cfg.SourceOfflineAfter, log.WithComponent("source_health")),
		Logger:        log.WithComponent("poller"),
	})
	if err != nil {
		logger.Fatal("Failed to initialize poller", zap.Error(err))
	}

	var httpServer *server.Server
	if cfg.HTTPAddr != "" {
		var readings server.ReadingStore
		if csvStore != nil {
			readings = csvStore
		}
		httpServer = server.New(cfg.HTTPAddr, cfg.ConfigFile, poller, readings, log.WithComponent("http"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server stopped", zap.Error(err))
			}
		}()
	}

	// Send startup notification
	if err := poller.SendStartupMessage(ctx); err != nil {
		logger.Warn("Failed to send startup message", zap.Error(err))
	}

	sensorNames := make([]string, 0, len(cfg.Sensors))
	for _, spec := range cfg.Sensors {
		sensorNames = append(sensorNames, spec.Name)
	}
	logger.Info("icecold monitoring service started",
		zap.Strings("sensors", sensorNames),
		zap.String("source", cfg.SensorSource),
		zap.String("channel", channel.Name()),
		zap.Int("sinks", sink.Len()),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		cancel()
	}()

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Poller stopped unexpectedly", zap.Error(err))
	}

	// Perform cleanup
	logger.Info("Starting cleanup")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", zap.Error(err))
		}
		shutdownCancel()
	}

	if batchWriter != nil {
		if batchWriter.WaitForShutdown(15 * time.Second) {
			logger.Info("Batch writer flushed")
		} else {
			logger.Warn("Batch writer shutdown timeout, pending measurements may be lost")
		}
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Error("Error during cleanup", zap.Error(err))
		}
	}

	logger.Info("icecold monitoring service stopped")
}

func newSensorSource(cfg *config.Config, logger *zap.Logger) (services.SensorSource, error) {
	switch cfg.SensorSource {
	case config.SourceMQTT:
		return services.NewMQTTSource(cfg, log.WithComponent("mqtt_source"))
	case config.SourceSimulated:
		logger.Warn("Using simulated sensor readings")
		generator := services.NewReadingGenerator(time.Now().UnixNano(), 0.1, 0.02)
		return services.NewSimulatedSource(generator), nil
	default:
		return services.NewBME280Source(log.WithComponent("bme280"))
	}
}
