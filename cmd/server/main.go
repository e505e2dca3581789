// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package main is the entry point for the Garrison server.
//
// Garrison watches game server logs for player activity, resolves every
// sighting to a durable platform identity, and records the full history of
// names, network addresses, and protocol ban ids each identity has used.
// Changes produce alerts; addresses are enriched with geolocation and
// VPN/proxy flags; administrators can query alt correlations and enforce
// bans over BattlEye RCON.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml, env)
//  2. Identity store: DuckDB with the identity/history/alert schema
//  3. Geolocation: rate-limited ipgeolocation.io client behind a TTL cache
//  4. RCON: optional BattlEye connection for server-side ban enforcement
//  5. Notifications: in-process alert channel with webhook delivery
//  6. Batch import: optional one-shot ingest of historical logs
//  7. Supervisor tree: log tailers, alert dispatcher, retention pruner,
//     and the HTTP API under suture supervision
//
// # Configuration
//
// Log sources are listed in config.yaml; scalar settings may be overridden
// by environment variables (see internal/config). Minimal example:
//
//	sources:
//	  - name: ttt1
//	    path: /logs/ttt1/console.log
//	    historical_glob: /logs/ttt1/logs_*/console.log
//	database:
//	  path: /data/garrison.duckdb
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: tailers stop, the HTTP
// server drains, the alert channel closes, and the store checkpoints its
// WAL before the process exits.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/garrison/internal/api"
	"github.com/tomtom215/garrison/internal/config"
	"github.com/tomtom215/garrison/internal/database"
	"github.com/tomtom215/garrison/internal/enforce"
	"github.com/tomtom215/garrison/internal/geo"
	"github.com/tomtom215/garrison/internal/logging"
	"github.com/tomtom215/garrison/internal/monitor"
	"github.com/tomtom215/garrison/internal/notify"
	"github.com/tomtom215/garrison/internal/parser"
	"github.com/tomtom215/garrison/internal/rcon"
	"github.com/tomtom215/garrison/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("sources", len(cfg.Sources)).
		Str("db_path", cfg.Database.Path).
		Bool("geo_enabled", cfg.Geo.Enabled).
		Bool("rcon_enabled", cfg.RCON.Enabled).
		Msg("Starting Garrison")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize identity store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing identity store")
		}
	}()

	var resolver *geo.Resolver
	if cfg.Geo.Enabled {
		provider := geo.NewHTTPProvider(cfg.Geo.BaseURL, cfg.Geo.APIKey, cfg.Geo.Timeout, cfg.Geo.RequestsPerMinute)
		resolver = geo.NewResolver(provider, cfg.Geo.CacheTTL)
		defer resolver.Close()
		logging.Info().
			Str("provider", provider.Name()).
			Dur("cache_ttl", cfg.Geo.CacheTTL).
			Msg("Geolocation enrichment enabled")
	} else {
		logging.Info().Msg("Geolocation enrichment disabled")
	}

	var rconClient *rcon.Client
	if cfg.RCON.Enabled {
		rconClient, err = rcon.Dial(cfg.RCON.Host, cfg.RCON.Port, cfg.RCON.Password, cfg.RCON.Timeout)
		if err != nil {
			// Bans degrade to store-only; the server may come up later.
			logging.Warn().Err(err).Msg("RCON connection failed, bans will be store-only")
		} else {
			defer func() { _ = rconClient.Close() }()
		}
	}

	var enforcer *enforce.Enforcer
	if rconClient != nil {
		enforcer = enforce.New(db, rconClient)
	} else {
		enforcer = enforce.New(db, nil)
	}

	var notifiers []notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Headers, cfg.Server.Timeout))
	}
	dispatcher := notify.NewDispatcher(notifiers, cfg.Notify.RateLimit)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing alert dispatcher")
		}
	}()

	pipeline := monitor.NewPipeline(parser.New(), db, resolver, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitor.BatchImportOnStart {
		if _, err := monitor.BatchImport(ctx, cfg.Sources, pipeline); err != nil {
			logging.Fatal().Err(err).Msg("Batch import failed")
		}
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(dispatcher)
	tree.AddIngestService(monitor.NewPruner(db, cfg.Monitor.RetentionDays, cfg.Monitor.PruneInterval))
	for _, src := range cfg.Sources {
		if src.Path == "" {
			continue
		}
		tree.AddIngestService(monitor.NewTailer(src, pipeline, cfg.Monitor.PollInterval))
	}

	handler := api.NewHandler(db, enforcer, resolver, pipeline)
	router := api.NewRouter(handler, cfg.Server.RateLimitReqs, cfg.Server.RateLimitWindow)
	tree.AddAPIService(api.NewServer(&cfg.Server, router.Setup()))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Garrison stopped")
}
