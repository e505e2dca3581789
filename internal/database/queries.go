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

	"github.com/goccy/go-json"

	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/models"
)

// GetIdentity returns the current state of one identity, or
// ErrIdentityNotFound.
func (db *DB) GetIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT identity_id, protocol_ban_id, current_name, current_address,
		       first_seen, last_seen, connection_count, banned, ban_reason, notes
		FROM identities WHERE identity_id = ?`, identityID)

	var id models.Identity
	err := row.Scan(&id.IdentityID, &id.ProtocolBanID, &id.CurrentName, &id.CurrentAddress,
		&id.FirstSeen, &id.LastSeen, &id.ConnectionCount, &id.Banned, &id.BanReason, &id.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity %s: %w", identityID, err)
	}
	return &id, nil
}

// GetHistory returns the full historical record for one identity: names,
// addresses with geo snapshots, ban-id change log, alerts, and recent
// connection events (newest first, capped at eventLimit; 0 means 100).
func (db *DB) GetHistory(ctx context.Context, identityID string, eventLimit int) (*models.IdentityHistory, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	identity, err := db.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if eventLimit <= 0 {
		eventLimit = 100
	}

	history := &models.IdentityHistory{Identity: identity}

	history.Names, err = db.namesFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	history.Addresses, err = db.addressesFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	history.IDChanges, err = db.idChangesFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	history.Alerts, err = db.alertsFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	history.Connections, err = db.connectionsFor(ctx, identityID, eventLimit)
	if err != nil {
		return nil, err
	}

	return history, nil
}

func (db *DB) namesFor(ctx context.Context, identityID string) ([]models.NameUse, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT identity_id, name, first_used, last_used, use_count
		FROM identity_names WHERE identity_id = ?
		ORDER BY last_used DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer closeQuietly(rows)

	var names []models.NameUse
	for rows.Next() {
		var n models.NameUse
		if err := rows.Scan(&n.IdentityID, &n.Name, &n.FirstUsed, &n.LastUsed, &n.UseCount); err != nil {
			return nil, fmt.Errorf("failed to scan name row: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (db *DB) addressesFor(ctx context.Context, identityID string) ([]models.AddressUse, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT identity_id, address, country, isp, is_vpn, is_proxy, geo_data,
		       first_used, last_used, use_count
		FROM identity_addresses WHERE identity_id = ?
		ORDER BY last_used DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer closeQuietly(rows)

	var addresses []models.AddressUse
	for rows.Next() {
		var (
			a   models.AddressUse
			raw *string
		)
		if err := rows.Scan(&a.IdentityID, &a.Address, &a.Country, &a.ISP, &a.IsVPN,
			&a.IsProxy, &raw, &a.FirstUsed, &a.LastUsed, &a.UseCount); err != nil {
			return nil, fmt.Errorf("failed to scan address row: %w", err)
		}
		if raw != nil {
			a.GeoData = json.RawMessage(*raw)
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

func (db *DB) idChangesFor(ctx context.Context, identityID string) ([]models.ProtocolIDChange, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, identity_id, old_id, new_id, changed_at
		FROM protocol_id_changes WHERE identity_id = ?
		ORDER BY changed_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query protocol id changes: %w", err)
	}
	defer closeQuietly(rows)

	var changes []models.ProtocolIDChange
	for rows.Next() {
		var c models.ProtocolIDChange
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.OldID, &c.NewID, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (db *DB) alertsFor(ctx context.Context, identityID string) ([]models.Alert, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, identity_id, alert_type, message, old_value, new_value, created_at, acknowledged
		FROM alerts WHERE identity_id = ?
		ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer closeQuietly(rows)
	return scanAlerts(rows)
}

func (db *DB) connectionsFor(ctx context.Context, identityID string, limit int) ([]models.ConnectionEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, identity_id, event_type, source_server, timestamp, name_used, address_used
		FROM connection_events WHERE identity_id = ?
		ORDER BY timestamp DESC LIMIT ?`, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection events: %w", err)
	}
	defer closeQuietly(rows)

	var events []models.ConnectionEvent
	for rows.Next() {
		var (
			e      models.ConnectionEvent
			source *string
			name   *string
		)
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.EventType, &source, &e.Timestamp, &name, &e.AddressUsed); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if source != nil {
			e.SourceServer = *source
		}
		if name != nil {
			e.NameUsed = *name
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindByAddress returns every identity that has used the exact address, most
// recently used first. This is the primary alt-correlation query.
func (db *DB) FindByAddress(ctx context.Context, address string) ([]models.IdentitySummary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.identity_id, i.current_name, i.current_address,
		       i.first_seen, i.last_seen, a.first_used, a.last_used
		FROM identity_addresses a
		JOIN identities i ON i.identity_id = a.identity_id
		WHERE a.address = ?
		ORDER BY a.last_used DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query by address: %w", err)
	}
	defer closeQuietly(rows)
	return scanSummaries(rows)
}

// FindByName returns every identity that has used a display name matching
// the pattern (case-insensitive substring), most recently used first.
func (db *DB) FindByName(ctx context.Context, name string) ([]models.IdentitySummary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.identity_id, i.current_name, i.current_address,
		       i.first_seen, i.last_seen, n.first_used, n.last_used
		FROM identity_names n
		JOIN identities i ON i.identity_id = n.identity_id
		WHERE n.name ILIKE '%' || ? || '%'
		ORDER BY n.last_used DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query by name: %w", err)
	}
	defer closeQuietly(rows)
	return scanSummaries(rows)
}

// FindByBanID returns the identity currently holding the protocol ban id, or
// ErrIdentityNotFound. Historical holders are in the change log, not here.
func (db *DB) FindByBanID(ctx context.Context, banID string) (*models.Identity, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT identity_id FROM identities WHERE protocol_ban_id = ?`, banID)
	var identityID string
	err := row.Scan(&identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query by ban id: %w", err)
	}
	return db.GetIdentity(ctx, identityID)
}

// UnacknowledgedAlerts returns pending alerts oldest first, enriched with the
// identity's current name and address for display, capped at limit (0 means
// 100).
func (db *DB) UnacknowledgedAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.id, a.identity_id, a.alert_type, a.message, a.old_value, a.new_value,
		       a.created_at, a.acknowledged, i.current_name, i.current_address
		FROM alerts a
		JOIN identities i ON i.identity_id = a.identity_id
		WHERE NOT a.acknowledged
		ORDER BY a.created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unacknowledged alerts: %w", err)
	}
	defer closeQuietly(rows)

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.IdentityID, &a.Type, &a.Message, &a.OldValue, &a.NewValue,
			&a.CreatedAt, &a.Acknowledged, &a.CurrentName, &a.CurrentAddress); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks one alert as handled. Acknowledging an already
// acknowledged or unknown alert id is an error so operators notice stale ids.
func (db *DB) AcknowledgeAlert(ctx context.Context, alertID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = TRUE WHERE id = ? AND NOT acknowledged`, alertID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %d: %w", alertID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %d not found or already acknowledged", alertID)
	}
	return nil
}

// SetBanned records the administrative ban decision in the store. This does
// not talk to the game server; enforcement is layered above.
func (db *DB) SetBanned(ctx context.Context, identityID, reason string) error {
	return db.setBanState(ctx, identityID, true, &reason)
}

// Unban clears the ban flag and reason.
func (db *DB) Unban(ctx context.Context, identityID string) error {
	return db.setBanState(ctx, identityID, false, nil)
}

func (db *DB) setBanState(ctx context.Context, identityID string, banned bool, reason *string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.acquireIdentityLock(identityID)
	defer db.releaseIdentityLock(mu)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE identities SET banned = ?, ban_reason = ? WHERE identity_id = ?`,
		banned, reason, identityID)
	if err != nil {
		return fmt.Errorf("failed to set ban state for %s: %w", identityID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// SetNotes replaces the administrative note on an identity. An empty note
// clears it.
func (db *DB) SetNotes(ctx context.Context, identityID, notes string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.acquireIdentityLock(identityID)
	defer db.releaseIdentityLock(mu)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE identities SET notes = ? WHERE identity_id = ?`,
		nullIfEmpty(notes), identityID)
	if err != nil {
		return fmt.Errorf("failed to set notes for %s: %w", identityID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// Stats summarizes the store for status surfaces.
func (db *DB) Stats(ctx context.Context) (*models.StoreStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var stats models.StoreStats
	row := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM identities),
			(SELECT COUNT(*) FROM identities WHERE banned),
			(SELECT COUNT(*) FROM alerts WHERE NOT acknowledged),
			(SELECT COUNT(*) FROM identity_addresses WHERE is_vpn OR is_proxy)`)
	if err := row.Scan(&stats.TotalIdentities, &stats.BannedIdentities,
		&stats.UnacknowledgedAlerts, &stats.FlaggedAddresses); err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	return &stats, nil
}

// PurgeConnectionEvents deletes audit events older than the cutoff and
// returns how many were removed. Identity state, history pairs, change logs,
// and alerts are never pruned.
func (db *DB) PurgeConnectionEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM connection_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge connection events: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if purged > 0 {
		logging.Info().
			Int64("purged", purged).
			Time("older_than", olderThan).
			Msg("Pruned connection events")
	}
	return purged, nil
}

func scanSummaries(rows *sql.Rows) ([]models.IdentitySummary, error) {
	var summaries []models.IdentitySummary
	for rows.Next() {
		var s models.IdentitySummary
		if err := rows.Scan(&s.IdentityID, &s.CurrentName, &s.CurrentAddress,
			&s.FirstSeen, &s.LastSeen, &s.FirstUsed, &s.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.IdentityID, &a.Type, &a.Message,
			&a.OldValue, &a.NewValue, &a.CreatedAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
