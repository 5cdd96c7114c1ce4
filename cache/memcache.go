package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemCache is an in-process Cache backed by patrickmn/go-cache. It is the
// default when no shared cache is configured, and what swauth's tests use
// in place of a real shared cache deployment.
type MemCache struct {
	c *gocache.Cache
}

// NewMemCache returns a MemCache that purges expired entries every cleanupInterval.
func NewMemCache(cleanupInterval time.Duration) *MemCache {
	return &MemCache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, nil
	}
	return s, true, nil
}

func (m *MemCache) SetTTL(_ context.Context, key string, value string, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
