package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fuelflow/config"
	"fuelflow/internal/api"
	"fuelflow/internal/channel"
	"fuelflow/internal/metrics"
	"fuelflow/internal/session"
	"fuelflow/logger"
	"fuelflow/processor"
	"fuelflow/reader"
	"fuelflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	devicesPath := flag.String("devices", config.DefaultDevicesPath, "Path to device list file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Fuelflow.Name,
		"version":     cfg.Fuelflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting fuelflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatchNamespace != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.CloudWatchNamespace, cfg.Logging.DashboardName)
	}
	metrics.Configure(cfg.Metrics)
	metrics.Init()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	db, err := reader.OpenPostgres(cfg.Storage.Postgres)
	if err != nil {
		log.WithEnv("DATABASE_URL").WithError(err).Error("failed to connect to telemetry database")
		os.Exit(1)
	}
	store := reader.NewPostgresStore(db, cfg.Analysis)

	devices, err := config.LoadDevices(*devicesPath)
	if err != nil {
		log.WithError(err).Error("failed to load device list")
		os.Exit(1)
	}
	terminals := devices.Terminals()
	if len(terminals) == 0 {
		terminals, err = store.DeviceIDs(ctx)
		if err != nil {
			log.WithError(err).Error("failed to list devices")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"devices": len(terminals)}).Info("device list empty; polling every terminal in the database")
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.ResultBuffer)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)
	metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	sinks := make([]writer.Sink, 0, 2)
	if cfg.Storage.S3.Enabled && cfg.Writer.Formats.Parquet.Enabled {
		sink, err := writer.NewParquetSink(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create parquet sink")
			os.Exit(1)
		}
		sinks = append(sinks, sink)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping parquet sink")
	}
	if cfg.Storage.Kafka.Enabled {
		sink, err := writer.NewKafkaSink(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create kafka sink")
			os.Exit(1)
		}
		sinks = append(sinks, sink)
	}

	poller := reader.NewPoller(cfg, store, channels, terminals)
	analyzer := processor.NewAnalyzer(cfg, channels)
	dispatcher := writer.NewDispatcher(cfg, channels, sinks...)

	var sessions session.Store
	if cfg.Storage.Redis.Enabled {
		client, err := session.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			log.WithEnv("REDIS_ADDR").WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer client.Close()
		sessions = session.NewRedisStore(client, cfg.Storage.Redis.TTL)
	}

	apiServer, err := api.NewServer(cfg, store, sessions, log)
	if err != nil {
		log.WithError(err).Error("failed to create api server")
		os.Exit(1)
	}

	if err := dispatcher.Start(ctx); err != nil {
		log.WithError(err).Error("dispatcher failed to start")
		os.Exit(1)
	}
	if err := analyzer.Start(ctx); err != nil {
		log.WithError(err).Error("analyzer failed to start")
		os.Exit(1)
	}
	if err := poller.Start(ctx); err != nil {
		log.WithError(err).Error("poller failed to start")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Error("api server stopped")
			}
		}()
	} else if cfg.Metrics.PrometheusAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.PrometheusAddress); err != nil {
				log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"devices": len(terminals),
		"sinks":   len(sinks),
		"api":     apiServer.Address(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		log.Info("stopping poller")
		poller.Stop()
		log.Info("stopping analyzer")
		analyzer.Stop()
		log.Info("stopping dispatcher")
		dispatcher.Stop()
		wg.Wait()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("fuelflow stopped")
}
