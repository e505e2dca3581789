// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package enforce

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/garrison/internal/config"
	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/models"
)

type stubCommander struct {
	commands []string
	err      error
}

func (s *stubCommander) Command(_ context.Context, command string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.commands = append(s.commands, command)
	return "Ban added", nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "enforce-test.duckdb"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedIdentity(t *testing.T, db *database.DB, identityID string, banID *string) {
	t.Helper()
	obs := &models.Observation{
		EventType:     models.EventJoin,
		Timestamp:     time.Now().UTC(),
		Name:          "Crowbar",
		IdentityID:    identityID,
		ProtocolBanID: banID,
	}
	if _, err := db.Update(context.Background(), obs, nil); err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}
}

func banIDPtr(s string) *string { return &s }

func TestBanWithRCON(t *testing.T) {
	db := newTestDB(t)
	seedIdentity(t, db, "id-alpha", banIDPtr("guid-one"))
	rcon := &stubCommander{}
	e := New(db, rcon)

	if err := e.Ban(context.Background(), "id-alpha", "ban evasion"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	if len(rcon.commands) != 1 || !strings.HasPrefix(rcon.commands[0], "addBan guid-one 0 ") {
		t.Errorf("unexpected rcon commands %v", rcon.commands)
	}

	id, err := db.GetIdentity(context.Background(), "id-alpha")
	if err != nil {
		t.Fatalf("get identity failed: %v", err)
	}
	if !id.Banned || id.BanReason == nil || *id.BanReason != "ban evasion" {
		t.Errorf("unexpected ban state %+v", id)
	}
}

func TestBanRCONFailureLeavesStoreUntouched(t *testing.T) {
	db := newTestDB(t)
	seedIdentity(t, db, "id-alpha", banIDPtr("guid-one"))
	e := New(db, &stubCommander{err: errors.New("connection lost")})

	if err := e.Ban(context.Background(), "id-alpha", "x"); err == nil {
		t.Fatal("expected error when rcon fails")
	}

	id, err := db.GetIdentity(context.Background(), "id-alpha")
	if err != nil {
		t.Fatalf("get identity failed: %v", err)
	}
	if id.Banned {
		t.Error("store must not record a ban the server rejected")
	}
}

func TestBanStoreOnlyWithoutBanID(t *testing.T) {
	db := newTestDB(t)
	seedIdentity(t, db, "id-alpha", nil)
	rcon := &stubCommander{}
	e := New(db, rcon)

	if err := e.Ban(context.Background(), "id-alpha", "alt account"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	if len(rcon.commands) != 0 {
		t.Errorf("expected no rcon commands without a ban id, got %v", rcon.commands)
	}

	id, err := db.GetIdentity(context.Background(), "id-alpha")
	if err != nil {
		t.Fatalf("get identity failed: %v", err)
	}
	if !id.Banned {
		t.Error("expected store-only ban recorded")
	}
}

func TestBanWithoutRCON(t *testing.T) {
	db := newTestDB(t)
	seedIdentity(t, db, "id-alpha", banIDPtr("guid-one"))
	e := New(db, nil)

	if err := e.Ban(context.Background(), "id-alpha", "x"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	id, _ := db.GetIdentity(context.Background(), "id-alpha")
	if !id.Banned {
		t.Error("expected store-only ban recorded")
	}
}

func TestUnban(t *testing.T) {
	db := newTestDB(t)
	seedIdentity(t, db, "id-alpha", banIDPtr("guid-one"))
	e := New(db, &stubCommander{})

	if err := e.Ban(context.Background(), "id-alpha", "x"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	if err := e.Unban(context.Background(), "id-alpha"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}

	id, _ := db.GetIdentity(context.Background(), "id-alpha")
	if id.Banned {
		t.Error("expected ban cleared")
	}
}

func TestBanUnknownIdentity(t *testing.T) {
	db := newTestDB(t)
	e := New(db, nil)
	if err := e.Ban(context.Background(), "id-ghost", "x"); !errors.Is(err, database.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}
