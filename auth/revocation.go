package auth

import (
	"context"
	"sync"
	"time"

	"github.com/mediconnect/backend/cache"
)

// CacheRevocationList stores revoked token ids in redis.
type CacheRevocationList struct {
	cache *cache.Cache
}

func NewCacheRevocationList(c *cache.Cache) *CacheRevocationList {
	return &CacheRevocationList{cache: c}
}

func (l *CacheRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return l.cache.Set(ctx, jti, true, ttl)
}

func (l *CacheRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return l.cache.Exists(ctx, jti)
}

// MemoryRevocationList is the process-local variant used without redis.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{entries: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, until := range l.entries {
		if now.After(until) {
			delete(l.entries, id)
		}
	}
	l.entries[jti] = now.Add(ttl)
	return nil
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.entries[jti]
	return ok && l.now().Before(until), nil
}
