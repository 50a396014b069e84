package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/presenteio/priceworker/config"
	"github.com/presenteio/priceworker/internal/discovery"
	"github.com/presenteio/priceworker/internal/queue"
	"github.com/presenteio/priceworker/logger"
	"github.com/presenteio/priceworker/services/cache"
	"github.com/presenteio/priceworker/services/publisher"
	"github.com/presenteio/priceworker/services/store"
	"github.com/presenteio/priceworker/services/worker"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger.Init()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Default.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore := buildStore(ctx, cfg)

	var cacheSvc cache.CacheService
	if cfg.MemcacheAddr != "" {
		cacheSvc = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Default.Info().Str("addr", cfg.MemcacheAddr).Msg("Memcache enabled for fetch blocks")
	}

	var pub publisher.Publisher
	if cfg.RedisAddr != "" {
		redisPub := publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLength)
		defer redisPub.Close()
		pub = redisPub
		logger.Default.Info().Str("addr", cfg.RedisAddr).Str("stream", cfg.RedisStream).Msg("Redis result stream enabled")
	}

	fetcher := discovery.NewFetcher(cacheSvc, cfg.FetchTimeout, cfg.FetchBlockTime)
	w := worker.New(jobStore, discovery.NewService(fetcher), pub, 0)

	if cfg.ForceEnqueueAll {
		result, err := jobStore.EnqueueAll(ctx)
		if err != nil {
			logger.Default.Fatal().Err(err).Msg("Forced bulk enqueue failed")
		}
		logger.Default.Info().Int("enqueued", result.Enqueued).Msg("Forced bulk enqueue finished")
	}

	runPass(ctx, jobStore, w, cfg)
	if cfg.RunInterval <= 0 {
		return
	}

	logger.Default.Info().Dur("interval", cfg.RunInterval).Msg("Running continuously")
	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Default.Info().Msg("Shutting down")
			return
		case <-ticker.C:
			runPass(ctx, jobStore, w, cfg)
		}
	}
}

// runPass fires the scheduled enqueue check and drains the queue. Errors are
// logged, not fatal: the next pass retries against a recovered store.
func runPass(ctx context.Context, jobStore queue.Store, w *worker.Worker, cfg config.Config) {
	if _, err := jobStore.EnqueueDueScheduled(ctx); err != nil {
		logger.Default.Error().Err(err).Msg("Scheduled enqueue check failed")
	}

	if _, err := w.Drain(ctx, cfg.BatchSize, cfg.MaxBatches); err != nil {
		logger.Default.Error().Err(err).Msg("Queue drain failed")
	}
}

// buildStore selects the backend: a direct Postgres connection when
// DATABASE_URL is set, the hosted PostgREST surface otherwise.
func buildStore(ctx context.Context, cfg config.Config) queue.Store {
	if !cfg.UsesRemoteStore() {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Default.Fatal().Err(err).Msg("Failed to connect to database")
		}
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(); err != nil {
			logger.Default.Fatal().Err(err).Msg("Failed to run migrations")
		}
		logger.Default.Info().Msg("Using direct Postgres store")
		return pg
	}

	rest := store.NewRESTStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.FetchTimeout)

	// JWT keys expose their role locally and were checked during config
	// validation. Opaque key formats are verified against the store instead.
	if config.DetectKeyFormat(cfg.SupabaseServiceKey) != config.KeyFormatJWT {
		admin, err := rest.IsAdmin(ctx)
		if err != nil {
			logger.Default.Fatal().Err(err).Msg("Failed to verify store credential")
		}
		if !admin {
			logger.Default.Fatal().Msg("Store credential lacks admin privileges")
		}
	}

	logger.Default.Info().Str("url", cfg.SupabaseURL).Msg("Using PostgREST store")
	return rest
}
