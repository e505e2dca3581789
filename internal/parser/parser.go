// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package parser turns raw game-server log lines into structured
// observations.
//
// The parser is a fixed, ordered list of dialect matchers. Each matcher is a
// pure function that either recognizes the line and returns a partial
// Observation, or returns nil. Parse tries the matchers in order and returns
// the first match; a line matching no dialect returns nil and is never an
// error. New dialects are added by appending a matcher, not by branching
// inside existing ones.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/garrison/internal/models"
)

// matcher recognizes one log dialect. Matchers are side-effect free.
type matcher func(line string) *models.Observation

// Parser maps raw log lines to observations. Safe for concurrent use; all
// state is immutable after construction.
type Parser struct {
	matchers []matcher
}

// New creates a Parser with the built-in dialect matchers in match order:
// admin-tool join, authenticated, connect/disconnect announcements, ban-id
// announcement.
func New() *Parser {
	return &Parser{
		matchers: []matcher{
			matchAdminJoin,
			matchAuthenticated,
			matchConnect,
			matchDisconnect,
			matchBanID,
		},
	}
}

// Parse maps one raw log line (plus its source-server tag) to an
// observation, or nil when no dialect matches. It never fails on malformed
// input and performs no I/O.
//
// Note that a returned observation does not necessarily carry a stable
// identity id: connect/disconnect and ban-id announcements identify players
// by display name and session number only. Such observations are usable for
// session-level tooling but are not persisted as identities (see
// Observation.HasIdentity).
func (p *Parser) Parse(line, source string) *models.Observation {
	for _, match := range p.matchers {
		if obs := match(line); obs != nil {
			obs.SourceServer = source
			obs.Timestamp = time.Now().UTC()
			return obs
		}
	}
	return nil
}

// Log dialects, as emitted by ServerAdminTools and the BattlEye layer:
//
//	Player joined, id: 131, ... name: Heck Let Loose, identityId: a1b2c3-...
//	Player id=1 Crowbar (76561198012345678) has been authenticated. IP: 1.2.3.4:2302 BE GUID: ab12cd34
//	BattlEye Server: 'Player #283 Crowbar (1.2.3.4:2302) connected'
//	BattlEye Server: 'Player #214 Crowbar disconnected'
//	BattlEye Server: 'Player #283 Crowbar - BE GUID: ab12cd34ef56'
var (
	adminJoinRe     = regexp.MustCompile(`Player joined, id: (\d+),.*name: ([^,]+), identityId: ([a-f0-9-]+)`)
	authenticatedRe = regexp.MustCompile(`Player (?:id=(\d+) )?(.+?) \((\d+)\) has been authenticated\.`)
	connectRe       = regexp.MustCompile(`BattlEye Server: 'Player #(\d+) ([^(]+) \(([^)]+)\) connected'`)
	disconnectRe    = regexp.MustCompile(`BattlEye Server: 'Player #(\d+) (.+?) disconnected'`)
	banIDRe         = regexp.MustCompile(`BattlEye Server: 'Player #(\d+) ([^-]+) - BE GUID: ([a-f0-9]+)'`)

	addressRe = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?`)
	beGUIDRe  = regexp.MustCompile(`BE GUID: (\w+)`)
)

// matchAdminJoin handles the admin-tool join dialect: session id, display
// name, and the platform identity id.
func matchAdminJoin(line string) *models.Observation {
	m := adminJoinRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &models.Observation{
		EventType:  models.EventJoin,
		SessionID:  parseSessionID(m[1]),
		Name:       strings.TrimSpace(m[2]),
		IdentityID: m[3],
	}
}

// matchAuthenticated handles the authenticated dialect: display name, stable
// identity id, and, when present on the same line, the client address and
// the protocol ban id.
func matchAuthenticated(line string) *models.Observation {
	m := authenticatedRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	obs := &models.Observation{
		EventType:  models.EventAuthenticated,
		SessionID:  parseSessionID(m[1]),
		Name:       strings.TrimSpace(m[2]),
		IdentityID: m[3],
	}
	if addr := extractAddress(line); addr != "" {
		obs.Address = &addr
	}
	if g := beGUIDRe.FindStringSubmatch(line); g != nil {
		obs.ProtocolBanID = &g[1]
	}
	return obs
}

// matchConnect handles the connect announcement: session number, display
// name, client address. No stable identity id.
func matchConnect(line string) *models.Observation {
	m := connectRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	obs := &models.Observation{
		EventType: models.EventConnect,
		SessionID: parseSessionID(m[1]),
		Name:      strings.TrimSpace(m[2]),
	}
	if addr := stripPort(m[3]); addr != "" {
		obs.Address = &addr
	}
	return obs
}

// matchDisconnect handles the disconnect announcement: session number and
// display name only.
func matchDisconnect(line string) *models.Observation {
	m := disconnectRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &models.Observation{
		EventType: models.EventDisconnect,
		SessionID: parseSessionID(m[1]),
		Name:      strings.TrimSpace(m[2]),
	}
}

// matchBanID handles the ban-id announcement: session number, display name,
// protocol ban id. No stable identity id.
func matchBanID(line string) *models.Observation {
	m := banIDRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	banID := m[3]
	return &models.Observation{
		EventType:     models.EventBanID,
		SessionID:     parseSessionID(m[1]),
		Name:          strings.TrimSpace(m[2]),
		ProtocolBanID: &banID,
	}
}

// extractAddress finds the first IPv4 address in the line, with any trailing
// port segment stripped. Returns "" when the line has none.
func extractAddress(line string) string {
	m := addressRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// stripPort removes a trailing :port segment from an address token.
func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.Contains(addr, "]") {
		return addr[:i]
	}
	return addr
}

func parseSessionID(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
