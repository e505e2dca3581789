// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package monitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomtom215/garrison/internal/config"
	"github.com/tomtom215/garrison/internal/logging"
)

// ImportStats summarizes one batch import run.
type ImportStats struct {
	Files     int
	Lines     int64
	Ingested  int64
	Alerts    int64
	Errors    int64
	StartedAt time.Time
	Duration  time.Duration
}

// BatchImport reads every file matching each source's historical glob,
// oldest first by name, and runs the lines through the pipeline. Game server
// logs embed timestamps in their directory/file names, so lexical order is
// chronological order.
//
// Import is idempotent at the identity level: re-running it recounts
// connections and re-fires anonymizer alerts but cannot fragment or
// duplicate identities.
func BatchImport(ctx context.Context, sources []config.SourceConfig, pipeline *Pipeline) (*ImportStats, error) {
	stats := &ImportStats{StartedAt: time.Now().UTC()}

	for _, src := range sources {
		if src.HistoricalGlob == "" {
			continue
		}
		files, err := filepath.Glob(src.HistoricalGlob)
		if err != nil {
			return stats, fmt.Errorf("bad historical glob for %s: %w", src.Name, err)
		}
		sort.Strings(files)

		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			lines, ingested, alerts, errCount, err := importFile(ctx, file, src.Name, pipeline)
			stats.Lines += lines
			stats.Ingested += ingested
			stats.Alerts += alerts
			stats.Errors += errCount
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				// An unreadable file is recorded like a bad line; the rest
				// of the batch still runs.
				stats.Errors++
				logging.Warn().
					Err(err).
					Str("source", src.Name).
					Str("file", file).
					Msg("Failed to read historical log, continuing with next file")
				continue
			}
			stats.Files++

			logging.Info().
				Str("source", src.Name).
				Str("file", file).
				Int64("lines", lines).
				Int64("ingested", ingested).
				Int64("alerts", alerts).
				Int64("errors", errCount).
				Msg("Imported historical log")
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	logging.Info().
		Int("files", stats.Files).
		Int64("lines", stats.Lines).
		Int64("ingested", stats.Ingested).
		Int64("alerts", stats.Alerts).
		Int64("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("Batch import complete")

	return stats, nil
}

// importFile feeds one historical file through the pipeline. A store error
// on a line loses that observation only: it is counted and the scan moves to
// the next line. The returned error covers file-level problems (open, read,
// cancellation), never individual lines.
func importFile(ctx context.Context, path, source string, pipeline *Pipeline) (lines, ingested, alerts, errCount int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return lines, ingested, alerts, errCount, err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines++
		stored, lineAlerts, err := pipeline.HandleLine(ctx, line, source)
		if err != nil {
			errCount++
			logging.Warn().
				Err(err).
				Str("source", source).
				Str("file", path).
				Msg("Failed to store observation, continuing with next line")
			continue
		}
		if stored {
			ingested++
			alerts += int64(lineAlerts)
		}
	}
	return lines, ingested, alerts, errCount, scanner.Err()
}
