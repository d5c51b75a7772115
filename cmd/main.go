package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"energy-service/internal/aggregation"
	"energy-service/internal/analytics"
	"energy-service/internal/api"
	"energy-service/internal/cache"
	"energy-service/internal/config"
	"energy-service/internal/ingest"
	"energy-service/internal/logging"
	"energy-service/internal/store"
)

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Background workers stop with the server, including when it fails to start.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.MaxConns, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var (
		journal ingest.Journal
		recent  api.RecentReader
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cache.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			RecentSize: cfg.Redis.RecentSize,
			TTL:        cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		journal, recent = redisClient, redisClient
		logger.Info("measurement journal enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	importer := ingest.NewImporter(st, journal, logger.Named("ingest"))

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := ingest.NewKafkaConsumer(ingest.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, importer, logger.Named("kafka"))
		if err != nil {
			return fmt.Errorf("failed to start kafka ingest: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}

	server := api.NewServer(api.Deps{
		Store:      st,
		Aggregator: aggregation.NewAggregator(st, logger.Named("aggregation")),
		Analyzer:   analytics.NewAnalyzer(st, logger.Named("analytics")),
		Importer:   importer,
		Recent:     recent,
		Logger:     logger.Named("api"),
	})

	err = server.Run(ctx, cfg.Server)
	cancel()
	wg.Wait()
	return err
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}
