// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/garrison/internal/models"
)

// recordingNotifier captures delivered alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) delivered() []models.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher([]Notifier{rec}, time.Millisecond)
	defer func() {
		if err := d.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("serve returned unexpected error: %v", err)
		}
	}()

	// Let Serve's subscription register before publishing; the gochannel
	// pub/sub drops messages that arrive with no subscribers.
	time.Sleep(50 * time.Millisecond)

	alerts := []models.Alert{
		{ID: 1, IdentityID: "id-alpha", Type: models.AlertNewIdentity, Message: "New player: Crowbar"},
		{ID: 2, IdentityID: "id-alpha", Type: models.AlertNameChange, Message: "Name change"},
	}
	if err := d.Publish(alerts); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(rec.delivered()) == 2 })

	got := rec.delivered()
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("unexpected delivery order: %d, %d", got[0].ID, got[1].ID)
	}
	if got[0].Type != models.AlertNewIdentity {
		t.Errorf("unexpected alert type %s", got[0].Type)
	}

	cancel()
	<-done
}

func TestDispatcherNotifierFailureDoesNotStopServe(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("endpoint down")}
	working := &recordingNotifier{}
	d := NewDispatcher([]Notifier{failing, working}, time.Millisecond)
	defer func() { _ = d.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Serve(ctx) }()

	// Let Serve's subscription register before publishing; the gochannel
	// pub/sub drops messages that arrive with no subscribers.
	time.Sleep(50 * time.Millisecond)

	if err := d.Publish([]models.Alert{{ID: 7, Type: models.AlertAnonymizerDetected}}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(working.delivered()) == 1 })
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookPayload
		gotAuth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, map[string]string{"Authorization": "Bearer sekrit"}, time.Second)
	alert := &models.Alert{ID: 3, IdentityID: "id-alpha", Type: models.AlertAddressChange, Message: "moved"}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Event != "garrison.alert" {
		t.Errorf("unexpected event %q", received.Event)
	}
	if received.Alert == nil || received.Alert.ID != 3 {
		t.Errorf("unexpected alert payload %+v", received.Alert)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("expected auth header, got %q", gotAuth)
	}
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil, time.Second)
	if err := n.Notify(context.Background(), &models.Alert{ID: 1}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
