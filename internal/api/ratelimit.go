package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimiter décide si une clé peut encore émettre une requête dans la fenêtre courante
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryRateLimiter applique une fenêtre glissante par clé, pour une instance seule.
// Les clés sans requête dans la fenêtre sont purgées au plus une fois par fenêtre.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	valid := l.prune(l.clients[key], now)

	if len(valid) >= l.limit {
		l.clients[key] = valid
		return false, nil
	}

	l.clients[key] = append(valid, now)
	return true, nil
}

// prune garde les timestamps encore dans la fenêtre
func (l *MemoryRateLimiter) prune(timestamps []time.Time, now time.Time) []time.Time {
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < l.window {
			valid = append(valid, ts)
		}
	}
	return valid
}

func (l *MemoryRateLimiter) sweep(now time.Time) {
	for key, timestamps := range l.clients {
		if valid := l.prune(timestamps, now); len(valid) == 0 {
			delete(l.clients, key)
		} else {
			l.clients[key] = valid
		}
	}
	l.lastSweep = now
}

// RedisRateLimiter compte les requêtes par fenêtre fixe dans Redis, partagé entre instances
type RedisRateLimiter struct {
	rdb    goredis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(rdb goredis.Cmdable, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "coursegen:rate_limit",
	}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}
