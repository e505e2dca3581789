// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package models defines data structures shared across the Garrison pipeline:
// identities, name/address history, connection events, alerts, parsed
// observations, and geolocation snapshots.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Identity is one durable player record, keyed by the platform-issued
// identity id. The id is immutable and never generated locally; exactly one
// Identity row exists per id.
//
// CurrentName and CurrentAddress track the most recent observation. The full
// history lives in NameUse and AddressUse rows.
type Identity struct {
	IdentityID string `json:"identity_id"`

	// ProtocolBanID is the secondary identifier used for ban enforcement
	// (BattlEye GUID). It may be reissued over an identity's lifetime;
	// replacements are logged as ProtocolIDChange rows.
	ProtocolBanID *string `json:"protocol_ban_id,omitempty"`

	CurrentName    string  `json:"current_name"`
	CurrentAddress *string `json:"current_address,omitempty"`

	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	ConnectionCount int64     `json:"connection_count"`

	Banned    bool    `json:"banned"`
	BanReason *string `json:"ban_reason,omitempty"`

	// Notes is a free-text administrative annotation.
	Notes *string `json:"notes,omitempty"`
}

// NameUse records one (identity, display name) pair with usage counters.
// Unique per pair; UseCount increments on repeat observation.
type NameUse struct {
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	FirstUsed  time.Time `json:"first_used"`
	LastUsed   time.Time `json:"last_used"`
	UseCount   int64     `json:"use_count"`
}

// AddressUse records one (identity, network address) pair with the most
// recent geolocation snapshot. The snapshot is overwritten on every
// observation (latest wins), not versioned.
type AddressUse struct {
	IdentityID string  `json:"identity_id"`
	Address    string  `json:"address"`
	Country    *string `json:"country,omitempty"`
	ISP        *string `json:"isp,omitempty"`
	IsVPN      bool    `json:"is_vpn"`
	IsProxy    bool    `json:"is_proxy"`

	// GeoData holds the raw provider payload for forensics.
	GeoData json.RawMessage `json:"geo_data,omitempty"`

	FirstUsed time.Time `json:"first_used"`
	LastUsed  time.Time `json:"last_used"`
	UseCount  int64     `json:"use_count"`
}

// ProtocolIDChange is one append-only entry in the protocol ban id change
// log. Written only when an identity already had a ban id and a different
// one was observed.
type ProtocolIDChange struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	OldID      *string   `json:"old_id,omitempty"`
	NewID      string    `json:"new_id"`
	ChangedAt  time.Time `json:"changed_at"`
}

// ConnectionEvent is one append-only audit record of an observation exactly
// as it was ingested. Rows are never updated or deduplicated; they are the
// basis for history reconstruction and retention pruning.
type ConnectionEvent struct {
	ID           int64     `json:"id"`
	IdentityID   string    `json:"identity_id"`
	EventType    string    `json:"event_type"`
	SourceServer string    `json:"source_server,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	NameUsed     string    `json:"name_used,omitempty"`
	AddressUsed  *string   `json:"address_used,omitempty"`
}

// IdentitySummary is the compact projection returned by alt-correlation
// queries: who else used this address or name, most recently used first.
type IdentitySummary struct {
	IdentityID     string    `json:"identity_id"`
	CurrentName    string    `json:"current_name"`
	CurrentAddress *string   `json:"current_address,omitempty"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`

	// FirstUsed/LastUsed refer to the matched address or name, not the
	// identity itself.
	FirstUsed time.Time `json:"first_used"`
	LastUsed  time.Time `json:"last_used"`
}

// IdentityHistory bundles the full historical record for one identity.
type IdentityHistory struct {
	Identity    *Identity          `json:"identity"`
	Names       []NameUse          `json:"names"`
	Addresses   []AddressUse       `json:"addresses"`
	IDChanges   []ProtocolIDChange `json:"protocol_id_changes"`
	Alerts      []Alert            `json:"alerts"`
	Connections []ConnectionEvent  `json:"connections"`
}

// StoreStats summarizes the identity store for status surfaces.
type StoreStats struct {
	TotalIdentities      int64 `json:"total_identities"`
	BannedIdentities     int64 `json:"banned_identities"`
	UnacknowledgedAlerts int64 `json:"unacknowledged_alerts"`
	FlaggedAddresses     int64 `json:"flagged_addresses"`
}
