package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tagsift-lab/tagsift/internal/consumer"
	corecfg "github.com/tagsift-lab/tagsift/internal/core/config"
	"github.com/tagsift-lab/tagsift/internal/core/storage/postgres"
	"github.com/tagsift-lab/tagsift/internal/ingestion"
	"github.com/tagsift-lab/tagsift/internal/migrations"
	"github.com/tagsift-lab/tagsift/internal/query"
	"github.com/tagsift-lab/tagsift/internal/retention"
	"github.com/tagsift-lab/tagsift/internal/server"
)

func main() {
	configPath := flag.String("config", "tagsift.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	wmLogger := watermill.NewSlogLogger(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// Durations were validated at load; parse failures here are impossible.
	retryBase, _ := cfg.Consumer.RetryBaseDuration()
	window, _ := cfg.Retention.WindowDuration()
	sweepInterval, _ := cfg.Retention.SweepIntervalDuration()
	budget, _ := cfg.Query.BudgetDuration()

	// 2. Initialize Storage (PostgreSQL)
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	profiles := postgres.NewProfileAdapter(db)
	aggregates := postgres.NewAggregateAdapter(db)
	watermark := postgres.NewWatermarkAdapter(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Ingestion (HTTP -> queue)
	publisher, err := ingestion.NewPublisher(cfg.Queue, wmLogger)
	if err != nil {
		slog.Error("Failed to initialize publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	ingestionSvc := ingestion.NewService(publisher, cfg.Server.MaxBodySizeMB)

	// 4. Initialize Query API
	querySvc := query.NewService(profiles, aggregates, budget, cfg.Query.ScanConcurrency)

	// 5. Initialize Aggregation Engine (queue -> stores)
	if cfg.Consumer.Enabled {
		subscriber, err := consumer.NewSubscriber(cfg.Queue, cfg.Consumer, wmLogger)
		if err != nil {
			slog.Error("Failed to initialize subscriber", "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()

		engine := consumer.NewEngine(profiles, aggregates, watermark, cfg.Consumer.MaxRetries, retryBase)
		consumerSvc := consumer.NewService(subscriber, engine, cfg.Queue.Topic)

		go func() {
			if err := consumerSvc.Run(ctx); err != nil {
				// A halted consumer means the store stayed down past the
				// retry budget. Take the process down so the orchestrator
				// restarts it and JetStream redelivers from the last ack.
				slog.Error("Consumer halted", "error", err)
				cancel()
			}
		}()
	} else {
		slog.Info("Consumer disabled by config")
	}

	// 6. Start Retention Sweeper
	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(sweepInterval, window, aggregates, watermark)
		go func() {
			if err := sweeper.Start(ctx); err != nil {
				slog.Error("Sweeper stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Retention sweeper disabled by config")
	}

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	querySvc.RegisterRoutes(srv.Engine)

	// Signal handler -> triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
