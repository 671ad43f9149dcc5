package distlock

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	rdb := newRedisClient(t)
	ctx := context.Background()

	first := NewRedisLock(rdb, "reconcile", time.Minute)
	second := NewRedisLock(rdb, "reconcile", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second holder must not acquire a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Errorf("Acquire after release = %v, %v", ok, err)
	}
}

func TestRedisLock_ReleaseOnlyByOwner(t *testing.T) {
	rdb := newRedisClient(t)
	ctx := context.Background()

	owner := NewRedisLock(rdb, "reconcile", time.Minute)
	intruder := NewRedisLock(rdb, "reconcile", time.Minute)

	if ok, _ := owner.Acquire(ctx); !ok {
		t.Fatal("owner could not acquire")
	}
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("foreign Release: %v", err)
	}

	// The owner's lock must have survived the foreign release.
	if ok, _ := intruder.Acquire(ctx); ok {
		t.Error("lock was released by a non-owner")
	}
}

// Two processes building their lock through New with the same inputs must
// contend on the same backend, or the serialization guarantee is void.
func TestNew_SameInputsContend(t *testing.T) {
	rdb := newRedisClient(t)
	ctx := context.Background()

	server := New(rdb, nil, "reconcile", time.Minute)
	cron := New(rdb, nil, "reconcile", time.Minute)

	if ok, err := server.Acquire(ctx); err != nil || !ok {
		t.Fatalf("server Acquire = %v, %v", ok, err)
	}
	if ok, err := cron.Acquire(ctx); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("concurrent holders acquired independent locks")
	}
}

func TestAdvisoryLock_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	lock := NewAdvisoryLock(db, "reconcile")
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdvisoryLock_NotAcquiredSkipsUnlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	lock := NewAdvisoryLock(db, "reconcile")
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("held lock reported as acquired")
	}
	// Release without the lock must not send an unlock to the database.
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
