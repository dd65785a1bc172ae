package lease_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"PredictLedger/internal/lease"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func mustRedis(t *testing.T) *redis.Client {
	t.Helper()
	testutil.RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rdb, err := lease.Dial(ctx, lease.Options{Addr: testutil.TestRedisAddr()})
	if err != nil {
		t.Skipf("test redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func testKey(t *testing.T) string {
	return "predictledger:test:" + uuid.NewString()
}

// ============================================================================
// Test: Exclusivity
// ============================================================================

func TestLease_OneHolderAtATime(t *testing.T) {
	rdb := mustRedis(t)
	ctx := context.Background()
	key := testKey(t)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	a := lease.New(rdb, key, 5*time.Second, metrics)
	b := lease.New(rdb, key, 5*time.Second, nil)

	ok, err := a.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if prom.ToFloat64(metrics.LeaseHeld) != 1 {
		t.Errorf("lease_held gauge should be 1")
	}

	if ok, err := b.TryAcquire(ctx); err != nil || ok {
		t.Fatalf("second holder must wait: ok=%v err=%v", ok, err)
	}
	if err := b.Renew(ctx); !errors.Is(err, lease.ErrLeaseLost) {
		t.Errorf("non-holder renew: err = %v, want ErrLeaseLost", err)
	}

	// Releasing from the wrong holder leaves the key alone.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Renew(ctx); err != nil {
		t.Fatalf("holder renew after foreign release: %v", err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if prom.ToFloat64(metrics.LeaseHeld) != 0 {
		t.Errorf("lease_held gauge should be 0 after release")
	}
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Errorf("acquire after release: ok=%v err=%v", ok, err)
	}
	_ = b.Release(ctx)
}

func TestLease_KeepReportsLoss(t *testing.T) {
	rdb := mustRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := testKey(t)

	l := lease.New(rdb, key, 600*time.Millisecond, nil)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lost := l.Keep(ctx)

	// Renewals keep it alive past the TTL.
	time.Sleep(900 * time.Millisecond)
	if got, err := rdb.Get(ctx, key).Result(); err != nil || got != l.Token() {
		t.Fatalf("key = %q err=%v, want the holder's token", got, err)
	}

	// Another process steals the key.
	if err := rdb.Set(ctx, key, "intruder", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("Keep did not report the lost lease")
	}
	if l.Held() {
		t.Error("Held should be false after loss")
	}
	rdb.Del(ctx, key)
}
