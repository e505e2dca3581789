// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/metrics"
	"github.com/tomtom215/garrison/internal/models"
)

// ErrNoIdentity is returned when an observation without a stable identity id
// is handed to Update. Callers are expected to filter these out.
var ErrNoIdentity = errors.New("observation carries no stable identity id")

// Update applies one observation to the identity store in a single
// transaction and returns the alerts the transition produced, already
// persisted, in detection order. Either every effect of the observation is
// committed (identity state, history rows, audit event, alerts) or none is.
//
// Change detection rules:
//   - first observation of an identity id produces a new_identity alert
//   - a display name differing from the current one produces a name_change
//     alert and rotates current_name
//   - an address differing from the current one produces an address_change
//     alert and rotates current_address
//   - a protocol ban id differing from an existing one produces a
//     protocol_id_change alert and an append-only change-log row; the first
//     assignment is recorded silently
//   - an address flagged as VPN or proxy produces an anonymizer_detected
//     alert on every observation, not only the first
//
// geo may be nil when enrichment is disabled or the lookup failed; the
// observation is then stored without a snapshot and no anonymizer alert can
// fire.
func (db *DB) Update(ctx context.Context, obs *models.Observation, geo *models.Geolocation) ([]models.Alert, error) {
	if !obs.HasIdentity() {
		return nil, ErrNoIdentity
	}

	mu := db.acquireIdentityLock(obs.IdentityID)
	defer db.releaseIdentityLock(mu)

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()

	// Transaction conflicts are still possible against readers; retry with
	// short backoff the way concurrent DuckDB writers must.
	const maxRetries = 3
	var (
		alerts  []models.Alert
		lastErr error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		alerts, err = db.doUpdate(ctx, obs, geo)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("update timed out or canceled: %w", ctx.Err())
		}
		if !isTransactionConflict(err) {
			return nil, err
		}
		if attempt < maxRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}

	metrics.UpdateDuration.Observe(time.Since(start).Seconds())
	for i := range alerts {
		metrics.AlertsGenerated.WithLabelValues(string(alerts[i].Type)).Inc()
	}

	return alerts, nil
}

// doUpdate runs the actual transaction once.
func (db *DB) doUpdate(ctx context.Context, obs *models.Observation, geo *models.Geolocation) ([]models.Alert, error) {
	when := obs.Timestamp
	if when.IsZero() {
		when = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	existing, err := identityForUpdate(ctx, tx, obs.IdentityID)
	if err != nil {
		return nil, err
	}

	var pending []models.Alert

	if existing == nil {
		pending = append(pending, models.Alert{
			IdentityID: obs.IdentityID,
			Type:       models.AlertNewIdentity,
			Message:    fmt.Sprintf("New player: %s", obs.Name),
			NewValue:   strPtr(obs.Name),
		})
		if err := insertIdentity(ctx, tx, obs, when); err != nil {
			return nil, err
		}
	} else {
		pending = append(pending, detectChanges(existing, obs)...)
		if err := updateIdentity(ctx, tx, existing, obs, when); err != nil {
			return nil, err
		}
	}

	if obs.Name != "" {
		if err := upsertNameUse(ctx, tx, obs.IdentityID, obs.Name, when); err != nil {
			return nil, err
		}
	}

	if obs.Address != nil && *obs.Address != "" {
		if err := upsertAddressUse(ctx, tx, obs.IdentityID, *obs.Address, geo, when); err != nil {
			return nil, err
		}
		if geo.Flagged() {
			pending = append(pending, models.Alert{
				IdentityID: obs.IdentityID,
				Type:       models.AlertAnonymizerDetected,
				Message:    anonymizerMessage(obs.Name, *obs.Address, geo),
				NewValue:   obs.Address,
			})
		}
	}

	if err := insertConnectionEvent(ctx, tx, obs, when); err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(pending))
	for i := range pending {
		a := pending[i]
		a.CreatedAt = when
		a.CurrentName = obs.Name
		a.CurrentAddress = obs.Address
		if err := insertAlert(ctx, tx, &a); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	if len(alerts) > 0 {
		logging.Debug().
			Str("identity_id", obs.IdentityID).
			Int("alerts", len(alerts)).
			Msg("Observation produced alerts")
	}

	return alerts, nil
}

// detectChanges compares an existing identity against the observation and
// returns the transition alerts, without touching the database.
func detectChanges(existing *models.Identity, obs *models.Observation) []models.Alert {
	var alerts []models.Alert

	if obs.Name != "" && obs.Name != existing.CurrentName {
		alerts = append(alerts, models.Alert{
			IdentityID: obs.IdentityID,
			Type:       models.AlertNameChange,
			Message:    fmt.Sprintf("Name change: %s is now %s", existing.CurrentName, obs.Name),
			OldValue:   strPtr(existing.CurrentName),
			NewValue:   strPtr(obs.Name),
		})
	}

	if obs.Address != nil && *obs.Address != "" &&
		(existing.CurrentAddress == nil || *existing.CurrentAddress != *obs.Address) {
		old := ""
		if existing.CurrentAddress != nil {
			old = *existing.CurrentAddress
		}
		alerts = append(alerts, models.Alert{
			IdentityID: obs.IdentityID,
			Type:       models.AlertAddressChange,
			Message:    fmt.Sprintf("Address change for %s: %s -> %s", obs.Name, old, *obs.Address),
			OldValue:   existing.CurrentAddress,
			NewValue:   obs.Address,
		})
	}

	if obs.ProtocolBanID != nil && *obs.ProtocolBanID != "" &&
		existing.ProtocolBanID != nil && *existing.ProtocolBanID != *obs.ProtocolBanID {
		alerts = append(alerts, models.Alert{
			IdentityID: obs.IdentityID,
			Type:       models.AlertProtocolIDChange,
			Message:    fmt.Sprintf("Ban ID change for %s: %s -> %s", obs.Name, *existing.ProtocolBanID, *obs.ProtocolBanID),
			OldValue:   existing.ProtocolBanID,
			NewValue:   obs.ProtocolBanID,
		})
	}

	return alerts
}

func anonymizerMessage(name, address string, geo *models.Geolocation) string {
	kind := "VPN"
	if !geo.IsVPN && geo.IsProxy {
		kind = "proxy"
	}
	return fmt.Sprintf("%s connected from %s endpoint %s", name, kind, address)
}

// identityForUpdate reads the current identity row inside the transaction.
// Returns nil when the id has never been seen.
func identityForUpdate(ctx context.Context, tx *sql.Tx, identityID string) (*models.Identity, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT identity_id, protocol_ban_id, current_name, current_address,
		       first_seen, last_seen, connection_count, banned, ban_reason, notes
		FROM identities WHERE identity_id = ?`, identityID)

	var id models.Identity
	err := row.Scan(&id.IdentityID, &id.ProtocolBanID, &id.CurrentName, &id.CurrentAddress,
		&id.FirstSeen, &id.LastSeen, &id.ConnectionCount, &id.Banned, &id.BanReason, &id.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity %s: %w", identityID, err)
	}
	return &id, nil
}

func insertIdentity(ctx context.Context, tx *sql.Tx, obs *models.Observation, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identities (
			identity_id, protocol_ban_id, current_name, current_address,
			first_seen, last_seen, connection_count
		) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		obs.IdentityID, obs.ProtocolBanID, obs.Name, obs.Address, when, when)
	if err != nil {
		return fmt.Errorf("failed to insert identity %s: %w", obs.IdentityID, err)
	}
	return nil
}

// updateIdentity rotates current state. The ban id is written whenever the
// observation carries one: a silent first assignment and an alerted
// replacement update the row the same way; only the change log differs.
func updateIdentity(ctx context.Context, tx *sql.Tx, existing *models.Identity, obs *models.Observation, when time.Time) error {
	name := existing.CurrentName
	if obs.Name != "" {
		name = obs.Name
	}
	address := existing.CurrentAddress
	if obs.Address != nil && *obs.Address != "" {
		address = obs.Address
	}
	banID := existing.ProtocolBanID
	if obs.ProtocolBanID != nil && *obs.ProtocolBanID != "" {
		if banID != nil && *banID != *obs.ProtocolBanID {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO protocol_id_changes (identity_id, old_id, new_id, changed_at)
				VALUES (?, ?, ?, ?)`,
				obs.IdentityID, banID, *obs.ProtocolBanID, when); err != nil {
				return fmt.Errorf("failed to log protocol id change: %w", err)
			}
		}
		banID = obs.ProtocolBanID
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE identities
		SET protocol_ban_id = ?, current_name = ?, current_address = ?,
		    last_seen = ?, connection_count = connection_count + 1
		WHERE identity_id = ?`,
		banID, name, address, when, obs.IdentityID)
	if err != nil {
		return fmt.Errorf("failed to update identity %s: %w", obs.IdentityID, err)
	}
	return nil
}

func upsertNameUse(ctx context.Context, tx *sql.Tx, identityID, name string, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identity_names (identity_id, name, first_used, last_used, use_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (identity_id, name) DO UPDATE SET
			last_used = EXCLUDED.last_used,
			use_count = identity_names.use_count + 1`,
		identityID, name, when, when)
	if err != nil {
		return fmt.Errorf("failed to upsert name use: %w", err)
	}
	return nil
}

// upsertAddressUse records the (identity, address) pair. The geo snapshot is
// latest-wins: a nil geo on a repeat observation leaves the stored snapshot
// untouched rather than erasing it.
func upsertAddressUse(ctx context.Context, tx *sql.Tx, identityID, address string, geo *models.Geolocation, when time.Time) error {
	if geo == nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identity_addresses (identity_id, address, first_used, last_used, use_count)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT (identity_id, address) DO UPDATE SET
				last_used = EXCLUDED.last_used,
				use_count = identity_addresses.use_count + 1`,
			identityID, address, when, when)
		if err != nil {
			return fmt.Errorf("failed to upsert address use: %w", err)
		}
		return nil
	}

	var raw *string
	if len(geo.Raw) > 0 {
		raw = strPtr(string(geo.Raw))
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identity_addresses (
			identity_id, address, country, isp, is_vpn, is_proxy, geo_data,
			first_used, last_used, use_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (identity_id, address) DO UPDATE SET
			country = EXCLUDED.country,
			isp = EXCLUDED.isp,
			is_vpn = EXCLUDED.is_vpn,
			is_proxy = EXCLUDED.is_proxy,
			geo_data = EXCLUDED.geo_data,
			last_used = EXCLUDED.last_used,
			use_count = identity_addresses.use_count + 1`,
		identityID, address, nullIfEmpty(geo.Country), nullIfEmpty(geo.ISP),
		geo.IsVPN, geo.IsProxy, raw, when, when)
	if err != nil {
		return fmt.Errorf("failed to upsert address use: %w", err)
	}
	return nil
}

func insertConnectionEvent(ctx context.Context, tx *sql.Tx, obs *models.Observation, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO connection_events (identity_id, event_type, source_server, timestamp, name_used, address_used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		obs.IdentityID, string(obs.EventType), obs.SourceServer, when, obs.Name, obs.Address)
	if err != nil {
		return fmt.Errorf("failed to insert connection event: %w", err)
	}
	return nil
}

func insertAlert(ctx context.Context, tx *sql.Tx, alert *models.Alert) error {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO alerts (identity_id, alert_type, message, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		alert.IdentityID, string(alert.Type), alert.Message, alert.OldValue, alert.NewValue, alert.CreatedAt)
	if err := row.Scan(&alert.ID); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
