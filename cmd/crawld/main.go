// Package main wires together the crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/contentvault/crawld/internal/api"
	"github.com/contentvault/crawld/internal/clock/system"
	"github.com/contentvault/crawld/internal/config"
	"github.com/contentvault/crawld/internal/crawler"
	"github.com/contentvault/crawld/internal/dedup"
	"github.com/contentvault/crawld/internal/enrich"
	"github.com/contentvault/crawld/internal/fetcher"
	collyfetcher "github.com/contentvault/crawld/internal/fetcher/colly"
	headlessfetcher "github.com/contentvault/crawld/internal/fetcher/headless"
	"github.com/contentvault/crawld/internal/hash/sha256"
	"github.com/contentvault/crawld/internal/id/uuid"
	"github.com/contentvault/crawld/internal/logging"
	"github.com/contentvault/crawld/internal/manager"
	"github.com/contentvault/crawld/internal/ratelimit"
	memorystorage "github.com/contentvault/crawld/internal/storage/memory"
	postgresstorage "github.com/contentvault/crawld/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	jobs, content, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	limiter := ratelimit.New(ratelimit.Rule{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Cooldown:          cfg.DefaultCooldown(),
	}, clock, logger.Named("ratelimit"))

	deduplicator := dedup.New(content, hasher, dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		RecentLimit:         cfg.Dedup.RecentLimit,
	}, logger.Named("dedup"))

	standard := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Fetcher.UserAgent,
		GlobalRPS:   cfg.Fetcher.GlobalRPS,
		GlobalBurst: cfg.Fetcher.GlobalBurst,
	}, limiter, hasher)

	var headless crawler.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel: cfg.Headless.MaxParallel,
			UserAgent:   cfg.Fetcher.UserAgent,
		}, limiter, hasher)
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headlessFetcher.Close()
			headless = headlessFetcher
		}
	}

	enrichers, closeEnrich, err := buildEnrichers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEnrich()

	mgr := manager.New(
		jobs,
		content,
		fetcher.NewSelector(standard, headless),
		deduplicator,
		enrichers,
		idGen,
		clock,
		manager.Config{MaxConcurrentJobs: cfg.Jobs.MaxConcurrent},
		logger.Named("manager"),
	)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start job manager: %w", err)
	}

	apiServer := api.NewServer(mgr, deduplicator, limiter, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	mgr.Stop()
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.JobStore, crawler.ContentStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, using in-memory stores")
		return memorystorage.NewJobStore(), memorystorage.NewContentStore(), func() {}, nil
	}

	pool, err := postgresstorage.NewPool(ctx, postgresstorage.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	jobs, err := postgresstorage.NewJobStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	content, err := postgresstorage.NewContentStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return jobs, content, pool.Close, nil
}

func buildEnrichers(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]crawler.Enricher, func(), error) {
	var (
		enrichers []crawler.Enricher
		closers   []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.PubSub.EmbeddingTopic != "" || cfg.PubSub.GraphTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		if cfg.PubSub.EmbeddingTopic != "" {
			topic := client.Topic(cfg.PubSub.EmbeddingTopic)
			closers = append(closers, topic.Stop)
			enrichers = append(enrichers, enrich.NewEmbeddingEnricher(
				enrich.NewTopicPublisher(topic),
				logger.Named("embedding"),
			))
		}
		if cfg.PubSub.GraphTopic != "" {
			topic := client.Topic(cfg.PubSub.GraphTopic)
			closers = append(closers, topic.Stop)
			enrichers = append(enrichers, enrich.NewGraphEnricher(
				enrich.NewTopicPublisher(topic),
				logger.Named("graph"),
			))
		}
	}

	if cfg.Archive.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("storage client close failed", zap.Error(err))
			}
		})
		blobs, err := enrich.NewGCSBlobWriter(client, cfg.Archive.GCSBucket)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		enrichers = append(enrichers, enrich.NewArchiver(blobs, cfg.Archive.Prefix, logger.Named("archive")))
	}

	return enrichers, closeAll, nil
}
