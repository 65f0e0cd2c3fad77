// Package postgres implements repository.Store against PostgreSQL using
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/ignite/campaign-journeys/internal/repository"
)

// Schema is the DDL applied by Migrate and cmd/migrate.
//
//go:embed schema.sql
var Schema string

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements repository.Queries on top of a dbtx.
type queries struct {
	db dbtx
}

// Store implements repository.Store against PostgreSQL.
type Store struct {
	*queries
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a Postgres-backed store.
func NewStore(db *sql.DB) *Store {
	return &Store{queries: &queries{db: db}, db: db}
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
