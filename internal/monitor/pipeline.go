// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package monitor drives log ingestion: continuous tailing of live log
// files, one-shot batch import of historical logs, and the retention pruner.
// All paths converge on the Pipeline, which turns raw lines into store
// updates and alert publications.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/geo"
	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/metrics"
	"github.com/tomtom215/garrison/internal/models"
	"github.com/tomtom215/garrison/internal/notify"
	"github.com/tomtom215/garrison/internal/parser"
)

// Pipeline processes raw log lines end to end: parse, enrich, persist,
// publish. One Pipeline is shared by every source; the store serializes
// writes per identity underneath.
type Pipeline struct {
	parser     *parser.Parser
	db         *database.DB
	resolver   *geo.Resolver
	dispatcher *notify.Dispatcher

	mu       sync.Mutex
	counters map[string]*SourceCounters
}

// SourceCounters tracks per-source ingestion progress for the status
// surface. Prometheus carries the same numbers as time series; these are the
// instantaneous view a collaborator renders as degraded state.
type SourceCounters struct {
	Lines        int64     `json:"lines"`
	Observations int64     `json:"observations"`
	Skips        int64     `json:"skips"`
	StoreErrors  int64     `json:"store_errors"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at"`
}

// NewPipeline assembles a pipeline. resolver may be nil (enrichment
// disabled) and dispatcher may be nil (no alert delivery, store only).
func NewPipeline(p *parser.Parser, db *database.DB, resolver *geo.Resolver, dispatcher *notify.Dispatcher) *Pipeline {
	return &Pipeline{
		parser:     p,
		db:         db,
		resolver:   resolver,
		dispatcher: dispatcher,
		counters:   make(map[string]*SourceCounters),
	}
}

// Counters returns a snapshot of per-source ingestion counters.
func (p *Pipeline) Counters() map[string]SourceCounters {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make(map[string]SourceCounters, len(p.counters))
	for source, c := range p.counters {
		snapshot[source] = *c
	}
	return snapshot
}

// countersFor returns the counter struct for source. Caller must hold p.mu.
func (p *Pipeline) countersFor(source string) *SourceCounters {
	c, ok := p.counters[source]
	if !ok {
		c = &SourceCounters{}
		p.counters[source] = c
	}
	return c
}

func (p *Pipeline) recordLine(source string) {
	p.mu.Lock()
	p.countersFor(source).Lines++
	p.mu.Unlock()
}

func (p *Pipeline) recordSkip(source string) {
	p.mu.Lock()
	p.countersFor(source).Skips++
	p.mu.Unlock()
}

func (p *Pipeline) recordObservation(source string) {
	p.mu.Lock()
	p.countersFor(source).Observations++
	p.mu.Unlock()
}

func (p *Pipeline) recordStoreError(source string, err error) {
	p.mu.Lock()
	c := p.countersFor(source)
	c.StoreErrors++
	c.LastError = err.Error()
	c.LastErrorAt = time.Now().UTC()
	p.mu.Unlock()
}

// HandleLine ingests one raw log line from the named source. Returns whether
// the line produced a store update and how many alerts the update generated.
// Lines matching no dialect, and observations without a stable identity id,
// are counted and dropped; only store failures surface as errors, and the
// failed observation is already counted against the source.
func (p *Pipeline) HandleLine(ctx context.Context, line, source string) (bool, int, error) {
	metrics.LinesProcessed.WithLabelValues(source).Inc()
	p.recordLine(source)

	obs := p.parser.Parse(line, source)
	if obs == nil {
		metrics.ParseSkips.WithLabelValues(source).Inc()
		p.recordSkip(source)
		return false, 0, nil
	}
	if !obs.HasIdentity() {
		// Display-name-only sighting; deliberately not persisted.
		metrics.ParseSkips.WithLabelValues(source).Inc()
		p.recordSkip(source)
		logging.Debug().
			Str("source", source).
			Str("event_type", string(obs.EventType)).
			Str("name", obs.Name).
			Msg("Skipping observation without stable identity")
		return false, 0, nil
	}
	metrics.ObservationsParsed.WithLabelValues(source, string(obs.EventType)).Inc()
	p.recordObservation(source)

	geoData := p.enrich(ctx, obs)

	alerts, err := p.db.Update(ctx, obs, geoData)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(source).Inc()
		p.recordStoreError(source, err)
		return false, 0, err
	}

	if len(alerts) > 0 && p.dispatcher != nil {
		if err := p.dispatcher.Publish(alerts); err != nil {
			// Delivery is best-effort; the alerts are already persisted.
			logging.Warn().Err(err).Msg("Failed to publish alerts")
		}
	}

	return true, len(alerts), nil
}

// enrich resolves geolocation for the observation's address. A lookup
// failure degrades to an unenriched store update rather than blocking
// ingestion.
func (p *Pipeline) enrich(ctx context.Context, obs *models.Observation) *models.Geolocation {
	if p.resolver == nil || obs.Address == nil || *obs.Address == "" {
		return nil
	}
	geoData, err := p.resolver.Resolve(ctx, *obs.Address)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("address", *obs.Address).
			Msg("Geolocation enrichment failed, storing observation without snapshot")
		return nil
	}
	return geoData
}
