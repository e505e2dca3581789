// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/metrics"
	"github.com/tomtom215/garrison/internal/models"
)

// Resolver fronts a Provider with a TTL cache.
//
// Two concurrent misses for the same address may both call the provider;
// that duplication is accepted rather than coalesced, since the external
// cost is a single cheap request and the second result simply overwrites
// the first in the cache.
type Resolver struct {
	provider Provider
	cache    *cache
}

// NewResolver creates a Resolver caching results from provider for ttl.
func NewResolver(provider Provider, ttl time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    newCache(ttl),
	}
}

// Resolve returns geolocation data for the address, from cache when a fresh
// entry exists, otherwise from the provider. Provider failures are returned
// to the caller and not cached, so the next observation of the address
// retries.
func (r *Resolver) Resolve(ctx context.Context, address string) (*models.Geolocation, error) {
	if geo, ok := r.cache.get(address); ok {
		metrics.GeoCacheHits.Inc()
		return geo, nil
	}
	metrics.GeoCacheMisses.Inc()

	geo, err := r.provider.Lookup(ctx, address)
	if err != nil {
		metrics.GeoLookupErrors.Inc()
		return nil, fmt.Errorf("geolocation lookup for %s: %w", address, err)
	}

	r.cache.set(address, geo)
	logging.Debug().
		Str("address", address).
		Str("country", geo.Country).
		Bool("is_vpn", geo.IsVPN).
		Bool("is_proxy", geo.IsProxy).
		Msg("Geolocation resolved")
	return geo, nil
}

// CacheStats exposes cache counters for the status surface.
func (r *Resolver) CacheStats() (hits, misses int64, size int) {
	return r.cache.stats()
}

// Close stops the cache's background sweep goroutine. Safe to call more than
// once; Resolve keeps working after Close, expiry is just enforced lazily.
func (r *Resolver) Close() {
	r.cache.close()
}
