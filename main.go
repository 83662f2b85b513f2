package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"quantstore/config"
	qhttp "quantstore/http"
	"quantstore/logging"
	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/scheduler"
	"quantstore/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Store
	st, err := store.New(cfg.Store.Root, store.Options{
		Exchanges:         cfg.Exchanges(),
		RegistryCacheSize: cfg.Registry.CacheSize,
		Adjust:            market.AdjustOptions{ForwardFillFactor: cfg.Adjust.ForwardFillFactor},
	}, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	logger.Info("store opened", zap.String("root", cfg.Store.Root))

	if cfg.Registry.Watch {
		go func() {
			if err := st.Registry().Watch(ctx); err != nil {
				logger.Error("registry watch stopped", zap.Error(err))
			}
		}()
	}

	// 4. Ingestion
	var source pipeline.KDataSource
	if cfg.Ingestion.ImportDir != "" {
		source = pipeline.DirSource{Dir: cfg.Ingestion.ImportDir}
	}
	ingester := pipeline.NewIngester(pipeline.IngestionConfig{
		Concurrency: cfg.Ingestion.Concurrency,
	}, st, source, logger.Named("ingestion"))

	var sched *scheduler.Scheduler
	if cfg.Ingestion.Schedule != "" {
		if source == nil {
			logger.Fatal("ingestion.schedule requires ingestion.import_dir")
		}
		sched = scheduler.NewScheduler(ctx, st, ingester, cfg.Ingestion.Securities, logger.Named("scheduler"))
		if err := sched.Register(cfg.Ingestion.Schedule); err != nil {
			logger.Fatal("failed to register schedule", zap.Error(err))
		}
		sched.Start()
	}

	// 5. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:    cfg.Http.Port,
		Timeout: cfg.Http.Timeout,
	}, qhttp.NewHandler(st, ingester, logger.Named("http")), logger.Named("http"))
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	// 6. Handle graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}

	logger.Info("exiting")
}
