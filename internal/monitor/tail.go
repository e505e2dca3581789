// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/garrison/internal/config"
	"github.com/tomtom215/garrison/internal/logging"
)

// Tailer follows one live log file by polling, surviving rotation and
// truncation. It satisfies suture.Service; the supervisor restarts it on
// failure.
//
// On first attach the offset is set to the end of the file: everything
// already in it is history, and history is the batch importer's job. After a
// rotation the new file is read from the start.
type Tailer struct {
	source       config.SourceConfig
	pipeline     *Pipeline
	pollInterval time.Duration

	offset  int64
	partial string
}

// NewTailer creates a tailer for one source.
func NewTailer(source config.SourceConfig, pipeline *Pipeline, pollInterval time.Duration) *Tailer {
	return &Tailer{
		source:       source,
		pipeline:     pipeline,
		pollInterval: pollInterval,
	}
}

// String names the service in supervisor logs.
func (t *Tailer) String() string {
	return fmt.Sprintf("tailer-%s", t.source.Name)
}

// Serve polls the file until the context is canceled. A missing file is not
// an error; game servers recreate their console log on restart, so the
// tailer just keeps waiting for it.
func (t *Tailer) Serve(ctx context.Context) error {
	logging.Info().
		Str("source", t.source.Name).
		Str("path", t.source.Path).
		Dur("poll_interval", t.pollInterval).
		Msg("Tailing log file")

	// Skip whatever is already in the file.
	if info, err := os.Stat(t.source.Path); err == nil {
		t.offset = info.Size()
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// poll reads bytes appended since the last poll and feeds complete lines to
// the pipeline. A store error loses that observation only: it is logged and
// counted, and the remaining lines of the batch still run. Returning the
// error instead would restart the service at EOF and silently drop every
// line appended in between.
func (t *Tailer) poll(ctx context.Context) error {
	info, err := os.Stat(t.source.Path)
	if err != nil {
		if os.IsNotExist(err) {
			t.offset = 0
			t.partial = ""
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", t.source.Path, err)
	}

	if info.Size() < t.offset {
		// Rotated or truncated; the new content starts at the top.
		logging.Info().
			Str("source", t.source.Name).
			Int64("old_offset", t.offset).
			Int64("size", info.Size()).
			Msg("Log file rotated, restarting from beginning")
		t.offset = 0
		t.partial = ""
	}
	if info.Size() == t.offset {
		return nil
	}

	f, err := os.Open(t.source.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.source.Path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", t.source.Path, err)
	}

	buf := make([]byte, info.Size()-t.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read %s: %w", t.source.Path, err)
	}
	t.offset += int64(n)

	data := t.partial + string(buf[:n])
	lines := strings.Split(data, "\n")
	// The last element is either empty (data ended with a newline) or an
	// incomplete line still being written; carry it to the next poll.
	t.partial = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if _, _, err := t.pipeline.HandleLine(ctx, line, t.source.Name); err != nil {
			logging.Warn().
				Err(err).
				Str("source", t.source.Name).
				Msg("Failed to store observation, continuing with next line")
		}
	}

	return nil
}
