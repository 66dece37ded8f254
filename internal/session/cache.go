package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Keys of the artifacts cached per account.
const (
	KeyToken = "token"
	KeyRole  = "role"
)

// Cache keeps session artifacts (token, role) for reuse by other parts of
// the application. Clear drops everything cached for the account.
type Cache interface {
	Set(ctx context.Context, accountID, key, value string) error
	Get(ctx context.Context, accountID, key string) (string, bool, error)
	Clear(ctx context.Context, accountID string) error
}

// Revocations remembers signed-out tokens by their id until the token
// would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// Backend is a Cache that also keeps Revocations. MemoryCache and
// RedisCache are both.
type Backend interface {
	Cache
	Revocations
}

var (
	_ Backend = (*MemoryCache)(nil)
	_ Backend = (*RedisCache)(nil)
)

// MemoryCache is a process-local Cache and Revocations list.
type MemoryCache struct {
	mu      sync.RWMutex
	items   map[string]map[string]string
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items:   make(map[string]map[string]string),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryCache) Set(_ context.Context, accountID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items[accountID] == nil {
		c.items[accountID] = make(map[string]string)
	}
	c.items[accountID][key] = value
	return nil
}

func (c *MemoryCache) Get(_ context.Context, accountID, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[accountID][key]
	return v, ok, nil
}

func (c *MemoryCache) Clear(_ context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, accountID)
	return nil
}

// Revoke records tokenID until the given time. Expired entries are pruned
// on every call.
func (c *MemoryCache) Revoke(_ context.Context, tokenID string, until time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, exp := range c.revoked {
		if !exp.After(now) {
			delete(c.revoked, id)
		}
	}
	if until.After(now) {
		c.revoked[tokenID] = until
	}
	return nil
}

func (c *MemoryCache) Revoked(_ context.Context, tokenID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.revoked[tokenID]
	return ok && exp.After(c.now()), nil
}

// RedisCache stores each account's artifacts in one hash so Clear is a
// single DEL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies it with PING. A zero ttl
// keeps entries until the session ends.
func NewRedisCache(ctx context.Context, addr, password string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func redisKey(accountID string) string {
	return "fleet:session:" + accountID
}

func (c *RedisCache) Set(ctx context.Context, accountID, key, value string) error {
	k := redisKey(accountID)
	if err := c.client.HSet(ctx, k, key, value).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if c.ttl > 0 {
		return c.client.Expire(ctx, k, c.ttl).Err()
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, accountID, key string) (string, bool, error) {
	v, err := c.client.HGet(ctx, redisKey(accountID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisCache) Clear(ctx context.Context, accountID string) error {
	return c.client.Del(ctx, redisKey(accountID)).Err()
}

func revokedKey(tokenID string) string {
	return "fleet:revoked:" + tokenID
}

// Revoke stores a marker that Redis expires together with the token.
func (c *RedisCache) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedKey(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (c *RedisCache) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
