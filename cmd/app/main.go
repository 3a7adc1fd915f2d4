// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"receipt-ocr/internal/config"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/domain/ports/repository"
	ocrAdapters "receipt-ocr/internal/infra/adapters/ocr"
	pg "receipt-ocr/internal/infra/db/postgres"
	"receipt-ocr/internal/infra/db/sqlite"
	"receipt-ocr/internal/infra/logging"
	"receipt-ocr/internal/infra/memstore"
	"receipt-ocr/internal/infra/metrics"
	"receipt-ocr/internal/infra/ratelimit"
	red "receipt-ocr/internal/infra/redis"
	"receipt-ocr/internal/infra/sched"
	"receipt-ocr/internal/infra/scheduler"
	"receipt-ocr/internal/infra/storage"
	"receipt-ocr/internal/infra/web"
	"receipt-ocr/internal/infra/worker"
	"receipt-ocr/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, debug level)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("receipt-ocr stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	var sweepers []*scheduler.Scheduler

	// ---- Receipt store ----
	var receipts repository.ReceiptRepository
	switch cfg.Database.Driver {
	case "sqlite":
		repo, err := sqlite.NewReceiptRepo(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer repo.Close()
		receipts = repo
		logger.Info().Str("path", cfg.Database.URL).Msg("using sqlite receipt store")
	default:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		receipts = pg.NewReceiptRepo(pool)
		sweepers = append(sweepers, scheduler.NewScheduler("db_pool_stats", 15*time.Second, poolStats(pool), logger, scheduler.WithRunOnStart()))
		logger.Info().Msg("using postgres receipt store")
	}

	// ---- Redis (optional) ----
	var (
		limiter adapter.RateLimiter
		locker  adapter.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient, cfg.Queue.RateLimit, cfg.Queue.RateWindow)
		locker = red.NewLocker(redisClient)
		receipts = red.NewReceiptRepoCacheDecorator(receipts, redisClient, cfg.Redis.TTL, logger)
		logger.Info().Str("addr", cfg.Redis.URL).Msg("redis enabled: shared rate limit, sweeper lock, result cache")
	} else {
		limiter = ratelimit.NewLocal(cfg.Queue.RateLimit, cfg.Queue.RateWindow)
	}

	// ---- File storage ----
	files, err := storage.NewLocalFileStore(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// ---- OCR engine ----
	var engine adapter.OCRClient
	if cfg.OCR.BaseURL == "stub" {
		engine = ocrAdapters.NewStubEngine()
		logger.Warn().Msg("ocr.base_url=stub: using the in-process stub engine")
	} else {
		c, err := ocrAdapters.NewHTTPClient(cfg.OCR.BaseURL, cfg.OCR.Timeout)
		if err != nil {
			return fmt.Errorf("ocr client: %w", err)
		}
		engine = c
	}
	engine = ocrAdapters.NewLimitedOCR(engine, cfg.OCR.MaxConcurrent)

	// ---- Worker pool ----
	pool := worker.NewPool(cfg.Orchestrator.MaxInFlight, cfg.Orchestrator.Backlog, logger)
	pool.Start(ctx)

	// ---- Use cases ----
	jobs := memstore.NewOCRJobStore()
	ocrUC := usecase.NewOCRJobUseCase(jobs, receipts, files, engine, pool, usecase.OCRJobConfig{
		PollInterval:     cfg.Orchestrator.PollInterval,
		PollAttempts:     cfg.Orchestrator.PollAttempts,
		MaxBatchSize:     cfg.Orchestrator.MaxBatchSize,
		ReviewConfidence: cfg.OCR.ReviewConfidence,
	}, logger)
	staleUC := usecase.NewStaleReceiptUseCase(receipts, jobs, logger)

	// ---- Queue ----
	queue := worker.NewOCRQueue(ocrUC, receipts, limiter, worker.OCRQueueConfig{
		IdleInterval: cfg.Queue.IdleInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	}, logger)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(ctx)
	}()

	// ---- Sweepers ----
	reconciler := sched.NewStaleReceiptReconciler(staleUC, locker, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize, cfg.Reconciler.Interval, logger)
	janitor := sched.NewJobJanitor(ocrUC, queue, cfg.Orchestrator.Retention, cfg.Queue.Retention, logger)
	sweepers = append(sweepers,
		scheduler.NewScheduler("stale_receipts", cfg.Reconciler.Interval, reconciler, logger, scheduler.WithRunOnStart()),
		scheduler.NewScheduler("job_janitor", cfg.Janitor.Interval, janitor, logger),
	)
	for _, s := range sweepers {
		s.Start(ctx)
	}

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.TokenTTL)
	server := web.NewServer(ocrUC, queue, auth, logger)
	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Start(fmt.Sprintf(":%d", cfg.HTTP.Port)) }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	for _, s := range sweepers {
		s.Stop()
	}
	<-queueDone
	pool.Stop()
	logger.Info().Msg("bye")
	return errors.Join(errs...)
}

func poolStats(pool *pgxpool.Pool) scheduler.Sweeper {
	return scheduler.SweeperFunc(func(ctx context.Context) (int, error) {
		st := pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		return 0, nil
	})
}
