// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package models

import "time"

// AlertType identifies the kind of change an alert describes.
type AlertType string

const (
	// AlertNewIdentity fires on the first observation of an identity id.
	AlertNewIdentity AlertType = "new_identity"

	// AlertNameChange fires when the current display name changes.
	AlertNameChange AlertType = "name_change"

	// AlertAddressChange fires when the current network address changes.
	AlertAddressChange AlertType = "address_change"

	// AlertProtocolIDChange fires when an existing protocol ban id is
	// replaced. First-ever assignment is not a change.
	AlertProtocolIDChange AlertType = "protocol_id_change"

	// AlertAnonymizerDetected fires on every observation from an address
	// flagged as VPN or proxy, not only the first. Operators stay aware of
	// ongoing risk rather than being told once.
	AlertAnonymizerDetected AlertType = "anonymizer_detected"
)

// Alert is one append-only security alert produced by the store's update
// transaction. Alerts are created synchronously inside the same transaction
// that detected the change and are never retried or deduplicated: one alert
// per detected transition.
type Alert struct {
	ID           int64     `json:"id"`
	IdentityID   string    `json:"identity_id"`
	Type         AlertType `json:"alert_type"`
	Message      string    `json:"message"`
	OldValue     *string   `json:"old_value,omitempty"`
	NewValue     *string   `json:"new_value,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`

	// Enriched for display surfaces; not stored on the alert row.
	CurrentName    string  `json:"current_name,omitempty"`
	CurrentAddress *string `json:"current_address,omitempty"`
}
