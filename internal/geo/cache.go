// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package geo

import (
	"sync"
	"time"

	"github.com/tomtom215/garrison/internal/models"
)

// entry is one cached lookup result with its expiry.
type entry struct {
	geo       *models.Geolocation
	expiresAt time.Time
}

// cache is a thread-safe TTL map keyed by address. Staleness is the only
// invalidation policy: address cardinality is bounded by the real player
// population, so no size-based eviction is needed. A background sweep keeps
// the map from accumulating expired entries on quiet servers.
type cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	hits   int64
	misses int64

	stop     chan struct{}
	stopOnce sync.Once
}

func newCache(ttl time.Duration) *cache {
	c := &cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// close stops the background sweep. The cache stays usable; expired entries
// are still dropped lazily on get.
func (c *cache) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *cache) get(address string) (*models.Geolocation, bool) {
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()

	if !ok {
		c.recordMiss()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, address)
		c.mu.Unlock()
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	return e.geo, true
}

func (c *cache) set(address string, geo *models.Geolocation) {
	c.mu.Lock()
	c.entries[address] = entry{geo: geo, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss counters and the live entry count.
func (c *cache) stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

func (c *cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *cache) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for addr, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, addr)
				}
			}
			c.mu.Unlock()
		}
	}
}
