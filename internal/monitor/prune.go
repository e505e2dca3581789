// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/logging"
)

// Pruner periodically deletes connection events older than the retention
// window. Identity state, history pairs, and alerts are never pruned; only
// the high-volume audit trail is. Satisfies suture.Service.
type Pruner struct {
	db            *database.DB
	retentionDays int
	interval      time.Duration
}

// NewPruner creates a pruner. retentionDays 0 disables pruning; Serve then
// just blocks until canceled so the supervisor tree stays uniform.
func NewPruner(db *database.DB, retentionDays int, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Pruner{
		db:            db,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// String names the service in supervisor logs.
func (p *Pruner) String() string {
	return "retention-pruner"
}

// Serve runs one prune immediately and then on every tick.
func (p *Pruner) Serve(ctx context.Context) error {
	if p.retentionDays <= 0 {
		logging.Info().Msg("Retention pruning disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.retentionDays)
	if _, err := p.db.PurgeConnectionEvents(ctx, cutoff); err != nil {
		// A failed prune just means more rows next time.
		logging.Warn().Err(err).Msg("Retention prune failed")
	}
}
