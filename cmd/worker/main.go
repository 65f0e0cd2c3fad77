package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-journeys/internal/config"
	"github.com/ignite/campaign-journeys/internal/pkg/distlock"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository/postgres"
	"github.com/ignite/campaign-journeys/internal/service/maintenance"
	"github.com/ignite/campaign-journeys/internal/worker"
)

// The worker binary runs path cleanup outside the API process. Run it with
// --once from cron, or without it as a long-lived ticker loop.
func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single cleanup cycle and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)
	logger.Info("starting path cleanup worker")

	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is required", nil)
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		fatal("database ping failed", err)
	}
	logger.Info("database connected")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		if opts, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			redisClient = redis.NewClient(opts)
		} else {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		}
		defer redisClient.Close()
	}

	cleaner := worker.NewPathCleanupWorker(maintenance.NewService(postgres.NewStore(db)), worker.PathCleanupConfig{
		Interval:          cfg.Cleanup.Interval(),
		CustomerRetention: cfg.Cleanup.CustomerRetention(),
		PendingRetention:  cfg.Cleanup.PendingRetention(),
		IgnoredDomains:    cfg.Cleanup.IgnoredDomains,
	})
	// Shares the API server's lock key so only one process cleans at a time.
	cleaner.SetLock(distlock.New(redisClient, db, "path-cleanup", cfg.Cleanup.Interval()))

	if *once {
		cleaner.RunOnce(ctx)
		logger.Info("cleanup cycle finished")
		return
	}

	go cleaner.Start(ctx)
	logger.Info("worker running", "interval", cfg.Cleanup.Interval())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	// Give the in-flight cycle a moment to observe cancellation.
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func fatal(msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
