package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "analysis", time.Minute)
	b := NewRedisLock(client, "analysis", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("a.Acquire = %v, %v", ok, err)
	}
	if !mr.Exists("journeys:lock:analysis") {
		t.Error("expected lock key in redis")
	}
	ok, err = b.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("b.Acquire = %v, %v; want false while a holds it", ok, err)
	}

	if err := b.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("b.Release error = %v, want ErrNotHeld", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("a.Release: %v", err)
	}
	ok, _ = b.Acquire(ctx)
	if !ok {
		t.Error("b should acquire after a released")
	}
}

func TestRedisLock_ExpiresAndExtends(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "analysis", time.Second)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}
	if err := l.Extend(ctx, 10*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	mr.FastForward(5 * time.Second)
	if !mr.Exists("journeys:lock:analysis") {
		t.Fatal("lock expired despite Extend")
	}
	mr.FastForward(6 * time.Second)
	if err := l.Extend(ctx, time.Second); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Extend after expiry error = %v, want ErrNotHeld", err)
	}
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	l := NewPGAdvisoryLock(db, "analysis")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	if ok, _ := l.Acquire(ctx); ok {
		t.Error("second Acquire on a held lock should report false")
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("double Release error = %v, want ErrNotHeld", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGAdvisoryLock_Contended(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	l := NewPGAdvisoryLock(db, "analysis")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	if err != nil || ok {
		t.Errorf("Acquire = %v, %v; want false, nil", ok, err)
	}
}

func TestNew_PicksBackend(t *testing.T) {
	_, client := setupTestRedis(t)
	if _, ok := New(client, nil, "k", time.Second).(*RedisLock); !ok {
		t.Error("expected RedisLock when redis is configured")
	}
	db, _, _ := sqlmock.New()
	defer db.Close()
	if _, ok := New(nil, db, "k", time.Second).(*PGAdvisoryLock); !ok {
		t.Error("expected PGAdvisoryLock without redis")
	}
	if New(nil, nil, "k", time.Second) != nil {
		t.Error("expected nil without any backend")
	}
}
