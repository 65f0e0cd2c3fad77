package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/campaign-journeys/internal/config"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	listOnly := flag.Bool("list", false, "List journey tables and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is required", nil)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("connect", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("ping", err)
	}
	logger.Info("connected to database")

	if *listOnly {
		if err := listTables(ctx, db); err != nil {
			fatal("list tables", err)
		}
		return
	}

	if err := postgres.NewStore(db).Migrate(ctx); err != nil {
		fatal("apply schema", err)
	}
	logger.Info("schema applied")

	// Extra migrations: any *.sql in the given directories, in name order.
	var okCount, errCount int
	for _, dir := range flag.Args() {
		ok, failed, err := applyDir(ctx, db, dir)
		if err != nil {
			fatal("apply "+dir, err)
		}
		okCount += ok
		errCount += failed
	}
	logger.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}

// applyDir runs each .sql file of dir in its own transaction.
func applyDir(ctx context.Context, db *sql.DB, dir string) (ok, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return ok, failed, fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return ok, failed, fmt.Errorf("begin: %w", err)
		}
		if _, err := tx.ExecContext(ctx, content); err != nil {
			_ = tx.Rollback()
			logger.Error("migration failed", "file", f, "error", err)
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error("migration commit failed", "file", f, "error", err)
			failed++
			continue
		}
		logger.Info("migration applied", "file", f)
		ok++
	}
	return ok, failed, nil
}

func fatal(msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
