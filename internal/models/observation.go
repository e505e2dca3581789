// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType classifies the log dialect an observation came from.
type EventType string

const (
	EventJoin          EventType = "join"          // admin-tool join line
	EventAuthenticated EventType = "authenticated" // protocol-layer authenticated line
	EventConnect       EventType = "connect"       // protocol-layer connect announcement
	EventDisconnect    EventType = "disconnect"    // protocol-layer disconnect announcement
	EventBanID         EventType = "ban_id"        // protocol-layer ban-id announcement
)

// Observation is the structured result of parsing one log line: a partial
// snapshot of name/address/ids at one point in time. Which fields are set
// depends on the dialect that matched.
//
// Only observations carrying a stable IdentityID are persisted as identities.
// Display-name-only sightings (connect/disconnect/ban-id dialects) are kept
// out of the identity store deliberately: display names are spoofable and
// persisting them would fragment identities.
type Observation struct {
	EventType    EventType `json:"event_type"`
	SourceServer string    `json:"source_server,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	// SessionID is the server-local session number, when the dialect
	// carries one. Not stable across reconnects.
	SessionID *int `json:"session_id,omitempty"`

	Name string `json:"name,omitempty"`

	// IdentityID is the platform-issued stable id. Empty for dialects that
	// do not carry it.
	IdentityID string `json:"identity_id,omitempty"`

	// ProtocolBanID is the enforcement-layer id (BattlEye GUID), when
	// present.
	ProtocolBanID *string `json:"protocol_ban_id,omitempty"`

	// Address is the client network address with any trailing port segment
	// already stripped.
	Address *string `json:"address,omitempty"`
}

// HasIdentity reports whether this observation can be resolved to a stable
// identity and therefore persisted.
func (o *Observation) HasIdentity() bool {
	return o != nil && o.IdentityID != ""
}

// Geolocation is the enrichment snapshot for one network address as returned
// by the external lookup capability.
type Geolocation struct {
	Address string `json:"address"`
	Country string `json:"country,omitempty"`
	ISP     string `json:"isp,omitempty"`
	IsVPN   bool   `json:"is_vpn"`
	IsProxy bool   `json:"is_proxy"`

	// Raw is the unmodified provider payload, stored alongside the
	// normalized fields.
	Raw json.RawMessage `json:"raw,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Flagged reports whether the address is an anonymizer endpoint.
func (g *Geolocation) Flagged() bool {
	return g != nil && (g.IsVPN || g.IsProxy)
}
