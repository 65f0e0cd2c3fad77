package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-journeys/internal/api"
	"github.com/ignite/campaign-journeys/internal/cache"
	"github.com/ignite/campaign-journeys/internal/config"
	"github.com/ignite/campaign-journeys/internal/pkg/distlock"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository"
	"github.com/ignite/campaign-journeys/internal/repository/memory"
	"github.com/ignite/campaign-journeys/internal/repository/postgres"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
	"github.com/ignite/campaign-journeys/internal/service/classify"
	"github.com/ignite/campaign-journeys/internal/service/graph"
	"github.com/ignite/campaign-journeys/internal/service/maintenance"
	"github.com/ignite/campaign-journeys/internal/service/paths"
	"github.com/ignite/campaign-journeys/internal/storage"
	"github.com/ignite/campaign-journeys/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file (empty for defaults)")
	inMemory := flag.Bool("memory", false, "Use the in-memory store instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply the database schema on startup")
	flag.Parse()

	if _, err := os.Stat(*configPath); err != nil {
		*configPath = ""
	}
	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var (
		store repository.Store
		db    *sql.DB
	)
	switch {
	case *inMemory:
		store = memory.New()
		logger.Warn("using in-memory store; data is lost on exit")
	case cfg.Database.URL == "":
		fatal("DATABASE_URL is required (or run with --memory)", nil)
	default:
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			fatal("failed to open database", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(30 * time.Second)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			fatal("database ping failed", err)
		}
		pg := postgres.NewStore(db)
		if *migrate {
			if err := pg.Migrate(ctx); err != nil {
				fatal("schema migration failed", err)
			}
			logger.Info("database schema applied")
		}
		store = pg
		logger.Info("database connected")
	}

	// Redis: results cache and the cross-replica analysis lock
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis connection failed, results cache disabled", "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("redis connected")
		}
		pingCancel()
	} else {
		logger.Info("redis not configured, results cache disabled")
	}

	// Services
	tracker := paths.NewService(store)
	graphSvc := graph.NewService(store, graph.BranchOptions{
		MinPathLength:     cfg.Analysis.MinPathLength,
		MainPathThreshold: cfg.Analysis.MainPathThreshold,
	})
	classifySvc := classify.NewService(store, classify.DetectionConfig{
		Keywords:           cfg.RootDetection.Keywords,
		FirstPositionRatio: cfg.RootDetection.FirstPositionRatio,
		MinRecipients:      cfg.RootDetection.MinRecipients,
	})
	maintenanceSvc := maintenance.NewService(store)

	var resultCache analysis.ResultCache
	if redisClient != nil {
		resultCache = cache.NewRedisCache(redisClient, "journeys:", cfg.Redis.ResultTTL())
	}
	projects := analysis.NewProjectService(store, resultCache)

	orch := analysis.NewOrchestrator(store, tracker)
	if resultCache != nil {
		orch.SetCache(resultCache)
	}

	var archive *storage.Archive
	if cfg.Archive.Enabled {
		archive, err = storage.New(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("analysis archive disabled", "error", err)
			archive = nil
		} else {
			orch.SetArchiver(archive)
			logger.Info("analysis archive enabled", "type", cfg.Archive.Type)
		}
	}

	// Analysis queue
	queue := analysis.NewQueue(orch, cfg.Analysis.JobTimeout())
	if redisClient != nil || db != nil {
		queue.SetLock(distlock.New(redisClient, db, "analysis-queue", cfg.Analysis.LockTTL()), 0)
	}
	go queue.Start(ctx)

	// Cleanup worker
	if cfg.Cleanup.Enabled {
		cleaner := worker.NewPathCleanupWorker(maintenanceSvc, worker.PathCleanupConfig{
			Interval:          cfg.Cleanup.Interval(),
			CustomerRetention: cfg.Cleanup.CustomerRetention(),
			PendingRetention:  cfg.Cleanup.PendingRetention(),
			IgnoredDomains:    cfg.Cleanup.IgnoredDomains,
		})
		if redisClient != nil || db != nil {
			cleaner.SetLock(distlock.New(redisClient, db, "path-cleanup", cfg.Cleanup.Interval()))
		}
		go cleaner.Start(ctx)
	}

	// HTTP
	handlers := api.NewHandlers(tracker, graphSvc, classifySvc, maintenanceSvc, projects, queue)
	if archive != nil {
		handlers.SetArchive(archive)
	}
	handlers.SetHealthChecker(api.NewHealthChecker(db, redisClient, queue))
	server := api.NewServer(cfg.Server, handlers, cfg.Server.AllowedOrigins, cfg.Analysis.JobTimeout())

	if err := checkPortAvailable(server.Addr()); err != nil {
		fatal("pre-flight check failed", err)
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server error", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	// Cancel background tasks; waiting analyses fail with context canceled.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func fatal(msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
