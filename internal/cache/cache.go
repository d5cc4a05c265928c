// Package cache provides the catalog read cache: Redis when REDIS_ADDR is set,
// otherwise an in-process map with per-entry expiry.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores serialised values under service-scoped keys with a TTL
type Cache interface {
	// Get returns ok=false on a miss or an expired entry
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	GenerateKey(operation, key string) string
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

// NewRedisCache returns a Cache backed by the Redis server at addr
func NewRedisCache(addr, serviceName string) Cache {
	return &redisCache{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
	}
}

func (r *redisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}

// Ping checks Redis connectivity; in-process caches always answer nil
func Ping(ctx context.Context, c Cache) error {
	if rc, ok := c.(*redisCache); ok {
		return rc.client.Ping(ctx).Err()
	}
	return nil
}

// sweepInterval is how often Set drops expired entries from the in-process map
const sweepInterval = time.Minute

type memoryEntry struct {
	value   string
	expires time.Time
}

type memoryCache struct {
	mu          sync.RWMutex
	items       map[string]memoryEntry
	serviceName string
	now         func() time.Time
	nextSweep   time.Time
}

// NewMemoryCache returns a process-local Cache
func NewMemoryCache(serviceName string) Cache {
	return &memoryCache{
		items:       make(map[string]memoryEntry),
		serviceName: serviceName,
		now:         time.Now,
	}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, exists := m.items[key]
	m.mu.RUnlock()

	if !exists || !m.now().Before(entry.expires) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !now.Before(m.nextSweep) {
		for k, entry := range m.items {
			if !now.Before(entry.expires) {
				delete(m.items, k)
			}
		}
		m.nextSweep = now.Add(sweepInterval)
	}
	m.items[key] = memoryEntry{value: value, expires: now.Add(ttl)}
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.items, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", m.serviceName, operation, key)
}
