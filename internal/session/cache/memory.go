// Package cache provides the session cache backends behind the resolver's
// read-through contract: an in-process map and a shared redis-protocol
// store.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/l0p7/authgate/internal/session"
)

type memoryEntry struct {
	sess      *session.Session
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory returns an in-process session cache. Expired entries are
// evicted lazily on read.
func NewMemory() session.Cache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, token string) (*session.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[token]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, token)
		return nil, false, nil
	}
	return entry.sess.Clone(), true, nil
}

func (c *memoryCache) Set(_ context.Context, token string, sess *session.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = memoryEntry{sess: sess.Clone(), expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	return nil
}

func (c *memoryCache) Close(context.Context) error {
	return nil
}
