package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisLockTest(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestRedisLockAcquireRelease(t *testing.T) {
	client, _, cleanup := setupRedisLockTest(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisLock(client, "import:supervisor", time.Minute)

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("Acquire = false, want true on free lock")
	}

	// A second holder must not win while the lock is held.
	other := NewRedisLock(client, "import:supervisor", time.Minute)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire (other): %v", err)
	}
	if ok {
		t.Fatal("second Acquire = true, want false while held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("Acquire = false after release, want true")
	}
}

func TestRedisLockReleaseOnlyIfOwned(t *testing.T) {
	client, mr, cleanup := setupRedisLockTest(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisLock(client, "import:supervisor", time.Minute)

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	// Simulate another process stealing the key after our TTL expired.
	mr.Set("lock:import:supervisor", "someone-else")

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// The other owner's value must survive our release attempt.
	got, err := mr.Get("lock:import:supervisor")
	if err != nil {
		t.Fatalf("key missing after release: %v", err)
	}
	if got != "someone-else" {
		t.Errorf("lock value = %q, want someone-else", got)
	}
}

func TestRedisLockExtend(t *testing.T) {
	client, mr, cleanup := setupRedisLockTest(t)
	defer cleanup()

	ctx := context.Background()
	lock := NewRedisLock(client, "import:supervisor", time.Second)

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	if err := lock.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	ttl := mr.TTL("lock:import:supervisor")
	if ttl <= time.Second {
		t.Errorf("TTL = %s after extend, want > 1s", ttl)
	}
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	lock := NewPGAdvisoryLock(db, "import:supervisor")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("Acquire = false, want true")
	}

	// Session-scoped: Extend has nothing to refresh.
	if err := lock.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewLockPicksBackend(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, ok := NewLock(nil, db, "import:supervisor", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("NewLock(nil redis) should return *PGAdvisoryLock")
	}

	client, _, cleanup := setupRedisLockTest(t)
	defer cleanup()

	if _, ok := NewLock(client, db, "import:supervisor", time.Minute).(*RedisLock); !ok {
		t.Error("NewLock(redis) should return *RedisLock")
	}
}
