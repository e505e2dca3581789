// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package parser

import (
	"testing"

	"github.com/tomtom215/garrison/internal/models"
)

func TestParseAdminJoin(t *testing.T) {
	p := New()

	line := "12:04:11 Player joined, id: 131, platform: steam, name: Heck Let Loose, identityId: a1b2c3d4-e5f6-7890-abcd-ef1234567890"
	obs := p.Parse(line, "ttt1")
	if obs == nil {
		t.Fatal("expected observation, got nil")
	}
	if obs.EventType != models.EventJoin {
		t.Errorf("expected event type %s, got %s", models.EventJoin, obs.EventType)
	}
	if obs.Name != "Heck Let Loose" {
		t.Errorf("expected name 'Heck Let Loose', got %q", obs.Name)
	}
	if obs.IdentityID != "a1b2c3d4-e5f6-7890-abcd-ef1234567890" {
		t.Errorf("unexpected identity id %q", obs.IdentityID)
	}
	if obs.SessionID == nil || *obs.SessionID != 131 {
		t.Errorf("expected session id 131, got %v", obs.SessionID)
	}
	if obs.SourceServer != "ttt1" {
		t.Errorf("expected source ttt1, got %q", obs.SourceServer)
	}
	if !obs.HasIdentity() {
		t.Error("join observation should carry a stable identity")
	}
}

func TestParseAuthenticated(t *testing.T) {
	p := New()

	tests := []struct {
		name       string
		line       string
		wantName   string
		wantID     string
		wantAddr   string
		wantBanID  string
		wantSessID int
	}{
		{
			name:       "full line with address and ban id",
			line:       "Player id=1 Crowbar (76561198012345678) has been authenticated. IP: 192.168.1.50:2302 BE GUID: ab12cd34ef56",
			wantName:   "Crowbar",
			wantID:     "76561198012345678",
			wantAddr:   "192.168.1.50",
			wantBanID:  "ab12cd34ef56",
			wantSessID: 1,
		},
		{
			name:     "no session id, no address",
			line:     "Player JimmyRobbo (76561198099999999) has been authenticated.",
			wantName: "JimmyRobbo",
			wantID:   "76561198099999999",
		},
		{
			name:     "name with spaces",
			line:     "Player id=42 Heck Let Loose (76561198011111111) has been authenticated. IP: 10.0.0.7:2302",
			wantName: "Heck Let Loose",
			wantID:   "76561198011111111",
			wantAddr: "10.0.0.7",

			wantSessID: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := p.Parse(tt.line, "ttt1")
			if obs == nil {
				t.Fatal("expected observation, got nil")
			}
			if obs.EventType != models.EventAuthenticated {
				t.Errorf("expected authenticated event, got %s", obs.EventType)
			}
			if obs.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, obs.Name)
			}
			if obs.IdentityID != tt.wantID {
				t.Errorf("expected identity %q, got %q", tt.wantID, obs.IdentityID)
			}
			if tt.wantAddr == "" {
				if obs.Address != nil {
					t.Errorf("expected no address, got %q", *obs.Address)
				}
			} else if obs.Address == nil || *obs.Address != tt.wantAddr {
				t.Errorf("expected address %q, got %v", tt.wantAddr, obs.Address)
			}
			if tt.wantBanID == "" {
				if obs.ProtocolBanID != nil {
					t.Errorf("expected no ban id, got %q", *obs.ProtocolBanID)
				}
			} else if obs.ProtocolBanID == nil || *obs.ProtocolBanID != tt.wantBanID {
				t.Errorf("expected ban id %q, got %v", tt.wantBanID, obs.ProtocolBanID)
			}
			if tt.wantSessID != 0 {
				if obs.SessionID == nil || *obs.SessionID != tt.wantSessID {
					t.Errorf("expected session id %d, got %v", tt.wantSessID, obs.SessionID)
				}
			}
		})
	}
}

func TestParseConnect(t *testing.T) {
	p := New()

	line := "2026-08-14 18:22:07 BattlEye Server: 'Player #283 Crowbar (203.0.113.9:2302) connected'"
	obs := p.Parse(line, "ttt2")
	if obs == nil {
		t.Fatal("expected observation, got nil")
	}
	if obs.EventType != models.EventConnect {
		t.Errorf("expected connect event, got %s", obs.EventType)
	}
	if obs.Name != "Crowbar" {
		t.Errorf("expected name Crowbar, got %q", obs.Name)
	}
	if obs.Address == nil || *obs.Address != "203.0.113.9" {
		t.Errorf("expected port-stripped address 203.0.113.9, got %v", obs.Address)
	}
	if obs.SessionID == nil || *obs.SessionID != 283 {
		t.Errorf("expected session id 283, got %v", obs.SessionID)
	}
	if obs.HasIdentity() {
		t.Error("connect announcement must not carry a stable identity")
	}
}

func TestParseDisconnect(t *testing.T) {
	p := New()

	obs := p.Parse("BattlEye Server: 'Player #214 jimmyrobbo2102 disconnected'", "ttt1")
	if obs == nil {
		t.Fatal("expected observation, got nil")
	}
	if obs.EventType != models.EventDisconnect {
		t.Errorf("expected disconnect event, got %s", obs.EventType)
	}
	if obs.Name != "jimmyrobbo2102" {
		t.Errorf("expected name jimmyrobbo2102, got %q", obs.Name)
	}
	if obs.Address != nil {
		t.Errorf("disconnect must not carry an address, got %q", *obs.Address)
	}
}

func TestParseBanID(t *testing.T) {
	p := New()

	obs := p.Parse("BattlEye Server: 'Player #283 Crowbar - BE GUID: ab12cd34ef567890'", "ttt1")
	if obs == nil {
		t.Fatal("expected observation, got nil")
	}
	if obs.EventType != models.EventBanID {
		t.Errorf("expected ban_id event, got %s", obs.EventType)
	}
	if obs.Name != "Crowbar" {
		t.Errorf("expected name Crowbar, got %q", obs.Name)
	}
	if obs.ProtocolBanID == nil || *obs.ProtocolBanID != "ab12cd34ef567890" {
		t.Errorf("expected ban id ab12cd34ef567890, got %v", obs.ProtocolBanID)
	}
	if obs.HasIdentity() {
		t.Error("ban-id announcement must not carry a stable identity")
	}
}

func TestParseUnrecognized(t *testing.T) {
	p := New()

	lines := []string{
		"",
		"World loaded in 8213 ms",
		"Players connected: 47",
		"BattlEye Server: 'RCon admin #0 logged in'",
		"random noise with an IP 1.2.3.4:5678 but no player event",
	}
	for _, line := range lines {
		if obs := p.Parse(line, "ttt1"); obs != nil {
			t.Errorf("expected nil for %q, got %+v", line, obs)
		}
	}
}

func TestParseMatchOrder(t *testing.T) {
	// A line that superficially resembles several dialects must resolve to
	// the first matcher in order, not depend on map iteration.
	p := New()
	line := "Player id=7 Tester (76561198000000007) has been authenticated. IP: 1.2.3.4:2302"
	obs := p.Parse(line, "s")
	if obs == nil || obs.EventType != models.EventAuthenticated {
		t.Fatalf("expected authenticated event, got %+v", obs)
	}
}
