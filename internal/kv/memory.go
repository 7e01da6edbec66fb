package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store in process using ttlcache. It is only correct for a
// single replica: revocations and context are not shared between processes.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStore returns a MemoryStore and starts its expiry loop. Call Close to stop it.
func NewMemoryStore() *MemoryStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &MemoryStore{cache: c}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("kv: ttl must be positive, got %s", ttl)
	}
	s.cache.Set(key, value, ttl)
	return nil
}

// Ping implements Store.Ping.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (s *MemoryStore) Len() int { return s.cache.Len() }

// Close stops the expiry loop.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
