// Package lease keeps a single active processor across replicas. The holder
// owns a Redis key set with SETNX and a TTL, renews it while running, and
// stops writing as soon as a renewal fails.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PredictLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLeaseLost is returned when another holder owns the key.
var ErrLeaseLost = errors.New("writer lease lost")

// Token-guarded scripts: only the holder may extend or drop the key.
const (
	renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
	releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
)

// Options holds connection parameters for the lease's Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Lease is one replica's claim on the writer key.
type Lease struct {
	rdb     redis.Cmdable
	key     string
	ttl     time.Duration
	token   string
	renew   *redis.Script
	release *redis.Script
	metrics *observability.Metrics
	log     zerolog.Logger

	mu   sync.Mutex
	held bool
}

// New prepares a lease on key. Nothing is acquired until Acquire.
func New(rdb redis.Cmdable, key string, ttl time.Duration, metrics *observability.Metrics) *Lease {
	return &Lease{
		rdb:     rdb,
		key:     key,
		ttl:     ttl,
		token:   uuid.New().String(),
		renew:   redis.NewScript(renewLua),
		release: redis.NewScript(releaseLua),
		metrics: metrics,
		log:     observability.NewLogger("lease"),
	}
}

// Token identifies this holder.
func (l *Lease) Token() string { return l.token }

// Held reports whether the last acquire or renew succeeded.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lease) setHeld(held bool) {
	l.mu.Lock()
	l.held = held
	l.mu.Unlock()
	if l.metrics != nil {
		v := 0.0
		if held {
			v = 1
		}
		l.metrics.LeaseHeld.Set(v)
	}
}

// TryAcquire makes one attempt to take the key.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.setHeld(true)
	}
	return ok, nil
}

// Acquire blocks until the key is taken or ctx ends. A standby replica
// waits here while the active one holds the lease.
func (l *Lease) Acquire(ctx context.Context) error {
	retry := l.ttl / 3
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			l.log.Warn().Err(err).Msg("lease acquire attempt failed")
		}
		if ok {
			l.log.Info().Str("key", l.key).Str("token", l.token).Msg("writer lease acquired")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Renew extends the TTL. It returns ErrLeaseLost if the key expired or
// belongs to someone else.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := l.renew.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		l.setHeld(false)
		return ErrLeaseLost
	}
	return nil
}

// Keep renews every third of the TTL. The returned channel closes when the
// lease is lost or ctx ends; the holder must stop writing at once.
// Transient Redis errors are retried until the TTL would have run out.
func (l *Lease) Keep(ctx context.Context) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		defer close(lost)

		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		lastRenew := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Renew(ctx)
				switch {
				case err == nil:
					lastRenew = time.Now()
				case errors.Is(err, ErrLeaseLost):
					l.log.Error().Str("key", l.key).Msg("writer lease lost")
					return
				case ctx.Err() != nil:
					return
				default:
					l.log.Warn().Err(err).Msg("lease renew failed")
					if time.Since(lastRenew) >= l.ttl {
						l.setHeld(false)
						l.log.Error().Str("key", l.key).Msg("writer lease expired while redis was unreachable")
						return
					}
				}
			}
		}
	}()
	return lost
}

// Release drops the key if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	defer l.setHeld(false)
	if err := l.release.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
