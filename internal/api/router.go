// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package api exposes the operator HTTP surface using the Chi router:
// health, status, identity lookup and history, alt-correlation queries,
// alert listing/acknowledgement, and ban administration. The API is meant
// for a trusted admin network; there is no authentication layer.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP handler tree.
type Router struct {
	handler *Handler

	rateLimitReqs   int
	rateLimitWindow time.Duration
}

// NewRouter creates a router around the given handler.
func NewRouter(handler *Handler, rateLimitReqs int, rateLimitWindow time.Duration) *Router {
	if rateLimitReqs <= 0 {
		rateLimitReqs = 100
	}
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	return &Router{
		handler:         handler,
		rateLimitReqs:   rateLimitReqs,
		rateLimitWindow: rateLimitWindow,
	}
}

// Setup wires all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.rateLimitReqs, router.rateLimitWindow))

		r.Get("/status", router.handler.Status)

		r.Route("/identities", func(r chi.Router) {
			r.Get("/by-address", router.handler.FindByAddress)
			r.Get("/by-name", router.handler.FindByName)

			r.Route("/{identityID}", func(r chi.Router) {
				r.Get("/", router.handler.GetIdentity)
				r.Get("/history", router.handler.GetHistory)
				r.Post("/ban", router.handler.Ban)
				r.Post("/unban", router.handler.Unban)
				r.Put("/notes", router.handler.SetNotes)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", router.handler.Alerts)
			r.Post("/{alertID}/ack", router.handler.AcknowledgeAlert)
		})
	})

	return r
}
