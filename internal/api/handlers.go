// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/enforce"
	"github.com/tomtom215/garrison/internal/geo"
	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/monitor"
)

// Handler implements the HTTP endpoints.
type Handler struct {
	db       *database.DB
	enforcer *enforce.Enforcer
	resolver *geo.Resolver
	pipeline *monitor.Pipeline
	started  time.Time
}

// NewHandler creates a handler. resolver may be nil when geolocation is
// disabled; pipeline may be nil when no ingestion runs in this process.
func NewHandler(db *database.DB, enforcer *enforce.Enforcer, resolver *geo.Resolver, pipeline *monitor.Pipeline) *Handler {
	return &Handler{
		db:       db,
		enforcer: enforcer,
		resolver: resolver,
		pipeline: pipeline,
		started:  time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness plus a database ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports uptime, store statistics, per-source ingestion counters,
// and geolocation cache counters.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to read store stats")
		writeError(w, http.StatusInternalServerError, "failed to read store stats")
		return
	}

	resp := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"store":          stats,
	}
	if h.pipeline != nil {
		resp["sources"] = h.pipeline.Counters()
	}
	if h.resolver != nil {
		hits, misses, size := h.resolver.CacheStats()
		resp["geo_cache"] = map[string]any{
			"hits":    hits,
			"misses":  misses,
			"entries": size,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetIdentity returns the current state of one identity.
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")
	identity, err := h.db.GetIdentity(r.Context(), identityID)
	if errors.Is(err, database.ErrIdentityNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("identity_id", identityID).Msg("Failed to read identity")
		writeError(w, http.StatusInternalServerError, "failed to read identity")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// GetHistory returns the full historical record for one identity.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	history, err := h.db.GetHistory(r.Context(), identityID, limit)
	if errors.Is(err, database.ErrIdentityNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("identity_id", identityID).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// FindByAddress lists every identity that used the exact address.
func (h *Handler) FindByAddress(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}
	matches, err := h.db.FindByAddress(r.Context(), address)
	if err != nil {
		logging.Error().Err(err).Str("address", address).Msg("Address correlation query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "identities": matches})
}

// FindByName lists every identity that used a matching display name.
func (h *Handler) FindByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	matches, err := h.db.FindByName(r.Context(), name)
	if err != nil {
		logging.Error().Err(err).Str("name", name).Msg("Name correlation query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "identities": matches})
}

// banRequest is the body for POST .../ban.
type banRequest struct {
	Reason string `json:"reason"`
}

// Ban bans an identity, server-side first when RCON is configured.
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	err := h.enforcer.Ban(r.Context(), identityID, req.Reason)
	if errors.Is(err, database.ErrIdentityNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("identity_id", identityID).Msg("Ban failed")
		writeError(w, http.StatusBadGateway, "ban failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

// Unban clears an identity's ban in the store.
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	err := h.enforcer.Unban(r.Context(), identityID)
	if errors.Is(err, database.ErrIdentityNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("identity_id", identityID).Msg("Unban failed")
		writeError(w, http.StatusInternalServerError, "unban failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned"})
}

// notesRequest is the body for PUT .../notes.
type notesRequest struct {
	Notes string `json:"notes"`
}

// SetNotes replaces the administrative note on an identity.
func (h *Handler) SetNotes(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")

	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.db.SetNotes(r.Context(), identityID, req.Notes)
	if errors.Is(err, database.ErrIdentityNotFound) {
		writeError(w, http.StatusNotFound, "identity not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("identity_id", identityID).Msg("Failed to set notes")
		writeError(w, http.StatusInternalServerError, "failed to set notes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Alerts lists unacknowledged alerts, oldest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	alerts, err := h.db.UnacknowledgedAlerts(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list alerts")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// AcknowledgeAlert marks one alert handled.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	if err := h.db.AcknowledgeAlert(r.Context(), alertID); err != nil {
		writeError(w, http.StatusNotFound, "alert not found or already acknowledged")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
