// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package enforce layers ban enforcement over the identity store and the
// RCON transport. The ordering rule is strict: the game server is told
// first, and the store records the ban only after the server accepted it, so
// the store never claims an enforcement that did not happen.
package enforce

import (
	"context"
	"fmt"

	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/logging"
)

// Commander executes RCON commands. Nil-able at the Enforcer level; a
// concrete implementation is rcon.Client.
type Commander interface {
	Command(ctx context.Context, command string) (string, error)
}

// Enforcer applies administrative ban decisions.
type Enforcer struct {
	db   *database.DB
	rcon Commander
}

// New creates an Enforcer. rcon may be nil, in which case bans are recorded
// in the store only.
func New(db *database.DB, rcon Commander) *Enforcer {
	return &Enforcer{db: db, rcon: rcon}
}

// Ban bans an identity. With RCON configured and a protocol ban id on
// record, the server-side ban is issued first; an RCON failure aborts the
// whole operation and leaves the store untouched. Without RCON, or for an
// identity that has never exposed a ban id, the ban is store-only.
func (e *Enforcer) Ban(ctx context.Context, identityID, reason string) error {
	identity, err := e.db.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	switch {
	case e.rcon == nil:
		logging.Info().
			Str("identity_id", identityID).
			Msg("RCON disabled, recording store-only ban")
	case identity.ProtocolBanID == nil:
		logging.Warn().
			Str("identity_id", identityID).
			Msg("Identity has no protocol ban id, recording store-only ban")
	default:
		// Permanent ban (duration 0) keyed by the protocol GUID.
		cmd := fmt.Sprintf("addBan %s 0 %s", *identity.ProtocolBanID, reason)
		out, err := e.rcon.Command(ctx, cmd)
		if err != nil {
			return fmt.Errorf("rcon ban for %s failed: %w", identityID, err)
		}
		logging.Info().
			Str("identity_id", identityID).
			Str("ban_id", *identity.ProtocolBanID).
			Str("response", out).
			Msg("Server-side ban issued")
	}

	if err := e.db.SetBanned(ctx, identityID, reason); err != nil {
		return fmt.Errorf("failed to record ban for %s: %w", identityID, err)
	}
	return nil
}

// Unban clears the ban in the store. The BattlEye ban list is indexed by
// position, not GUID, so the server-side entry has to be removed by an
// operator; the log line says so.
func (e *Enforcer) Unban(ctx context.Context, identityID string) error {
	if err := e.db.Unban(ctx, identityID); err != nil {
		return err
	}
	if e.rcon != nil {
		logging.Warn().
			Str("identity_id", identityID).
			Msg("Store ban cleared; remove the server-side bans.txt entry manually")
	}
	return nil
}
