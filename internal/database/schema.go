// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the identity store tables and their id sequences.
//
// Tables:
//   - identities: one row per stable identity id (current state)
//   - identity_names: every (identity, display name) pair with usage counters
//   - identity_addresses: every (identity, address) pair with the latest
//     geolocation snapshot
//   - protocol_id_changes: append-only log of ban-id replacements
//   - connection_events: append-only audit trail of ingested observations
//   - alerts: append-only security alerts with acknowledgement state
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_protocol_id_changes START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_connection_events START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_alerts START 1`,

		`CREATE TABLE IF NOT EXISTS identities (
			identity_id TEXT PRIMARY KEY,
			protocol_ban_id TEXT,
			current_name TEXT NOT NULL,
			current_address TEXT,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			connection_count BIGINT NOT NULL DEFAULT 0,
			banned BOOLEAN NOT NULL DEFAULT FALSE,
			ban_reason TEXT,
			notes TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS identity_names (
			identity_id TEXT NOT NULL,
			name TEXT NOT NULL,
			first_used TIMESTAMP NOT NULL,
			last_used TIMESTAMP NOT NULL,
			use_count BIGINT NOT NULL DEFAULT 1,
			PRIMARY KEY (identity_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS identity_addresses (
			identity_id TEXT NOT NULL,
			address TEXT NOT NULL,
			country TEXT,
			isp TEXT,
			is_vpn BOOLEAN NOT NULL DEFAULT FALSE,
			is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
			geo_data TEXT,
			first_used TIMESTAMP NOT NULL,
			last_used TIMESTAMP NOT NULL,
			use_count BIGINT NOT NULL DEFAULT 1,
			PRIMARY KEY (identity_id, address)
		)`,

		`CREATE TABLE IF NOT EXISTS protocol_id_changes (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_protocol_id_changes'),
			identity_id TEXT NOT NULL,
			old_id TEXT,
			new_id TEXT NOT NULL,
			changed_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS connection_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_connection_events'),
			identity_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source_server TEXT,
			timestamp TIMESTAMP NOT NULL,
			name_used TEXT,
			address_used TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_alerts'),
			identity_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			message TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			created_at TIMESTAMP NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// createIndexes creates indexes for the query patterns the API and the
// alt-correlation lookups use.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_identities_ban_id ON identities(protocol_ban_id)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_last_seen ON identities(last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_names_name ON identity_names(name)`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_address ON identity_addresses(address)`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_flagged ON identity_addresses(is_vpn, is_proxy)`,
		`CREATE INDEX IF NOT EXISTS idx_id_changes_identity ON protocol_id_changes(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_identity ON connection_events(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON connection_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_identity ON alerts(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_unacked ON alerts(acknowledged, created_at)`,
	}

	for _, index := range indexes {
		if _, err := db.conn.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", index, err)
		}
	}

	return nil
}
