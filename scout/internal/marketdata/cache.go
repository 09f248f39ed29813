package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps a verdict for a day; listings change rarely.
const DefaultTTL = 24 * time.Hour

type entry struct {
	valid   bool
	expires time.Time
}

// MemoryCache is a process-local verdict cache.
type MemoryCache struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Get returns a live verdict.
func (c *MemoryCache) Get(_ context.Context, symbol string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[symbol]
	if !ok {
		return false, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.m, symbol)
		return false, false, nil
	}
	return e.valid, true, nil
}

// Set stores a verdict.
func (c *MemoryCache) Set(_ context.Context, symbol string, valid bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[symbol] = entry{valid: valid, expires: c.now().Add(c.ttl)}
	return nil
}

// RedisCache shares verdicts between processes.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. Keys are "<prefix><symbol>".
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "scout:ticker:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// DialRedis connects and pings, closing the client when the ping fails.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Get returns a cached verdict; redis.Nil is a miss.
func (c *RedisCache) Get(ctx context.Context, symbol string) (bool, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

// Set stores a verdict with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, symbol string, valid bool) error {
	v := "0"
	if valid {
		v = "1"
	}
	return c.rdb.Set(ctx, c.prefix+symbol, v, c.ttl).Err()
}
