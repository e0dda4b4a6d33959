package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	if _, exists := f.keys[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()

	store := &fakeRedis{}
	limiter := NewRedisLimiter(store, time.Minute)
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "20241234"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := limiter.Acquire(ctx, "20241234"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	if err := limiter.Acquire(ctx, "20249999"); err != nil {
		t.Fatalf("other identity: %v", err)
	}

	for key, ttl := range store.keys {
		if ttl != time.Minute {
			t.Fatalf("key %s stored with ttl %s", key, ttl)
		}
	}
}

func TestRedisLimiter_PropagatesStoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	limiter := NewRedisLimiter(&fakeRedis{err: boom}, time.Minute)
	if err := limiter.Acquire(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestMemoryLimiter_Expires(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 17, 8, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	now = now.Add(30 * time.Second)
	if err := limiter.Acquire(ctx, "a"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	now = now.Add(30 * time.Second)
	if err := limiter.Acquire(ctx, "a"); err != nil {
		t.Fatalf("acquire after cooldown: %v", err)
	}
}

func TestMemoryLimiter_ConcurrentAcquireAdmitsOne(t *testing.T) {
	t.Parallel()

	limiter := NewMemoryLimiter(time.Hour)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Acquire(context.Background(), "same") == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
}

func TestZeroCooldownAlwaysAdmits(t *testing.T) {
	t.Parallel()

	limiters := []Limiter{NewMemoryLimiter(0), NewRedisLimiter(&fakeRedis{}, 0)}
	for _, limiter := range limiters {
		for i := 0; i < 3; i++ {
			if err := limiter.Acquire(context.Background(), "x"); err != nil {
				t.Fatalf("%T acquire %d: %v", limiter, i, err)
			}
		}
	}
}
