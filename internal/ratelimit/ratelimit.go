package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "classcal:cooldown:"

var ErrCooldown = errors.New("request within cooldown")

// Limiter admits one request per identity per cooldown window. Acquire is a
// single atomic test-and-set.
type Limiter interface {
	Acquire(ctx context.Context, identity string) error
}

type setNX interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type RedisLimiter struct {
	client   setNX
	cooldown time.Duration
}

func NewRedisLimiter(client setNX, cooldown time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, cooldown: cooldown}
}

func (l *RedisLimiter) Acquire(ctx context.Context, identity string) error {
	if l.cooldown <= 0 {
		return nil
	}
	ok, err := l.client.SetNX(ctx, cooldownKey(identity), "1", l.cooldown).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCooldown
	}
	return nil
}

type MemoryLimiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	until    map[string]time.Time
	now      func() time.Time
}

func NewMemoryLimiter(cooldown time.Duration) *MemoryLimiter {
	return &MemoryLimiter{cooldown: cooldown, until: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Acquire(_ context.Context, identity string) error {
	if l.cooldown <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := cooldownKey(identity)
	if until, ok := l.until[key]; ok && now.Before(until) {
		return ErrCooldown
	}
	l.until[key] = now.Add(l.cooldown)

	for other, until := range l.until {
		if !now.Before(until) {
			delete(l.until, other)
		}
	}
	return nil
}

func cooldownKey(identity string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(identity)))
	return keyPrefix + base64.RawURLEncoding.EncodeToString(hash[:])
}
