// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotDebounce coalesces the burst of events editors produce on save.
const snapshotDebounce = 250 * time.Millisecond

// LoadSnapshotFile reads contacts and messages from a .json, .yaml or .yml
// file.
func LoadSnapshotFile(path string) (correlator.Snapshot, error) {
	var snap correlator.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &snap)
	default:
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to parse snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// SnapshotLoader is what a snapshot is applied to.
type SnapshotLoader interface {
	LoadSnapshot(s correlator.Snapshot)
}

// WatchSnapshot reloads the snapshot into target every time the file
// changes, until ctx is done. The file is loaded once before watching starts.
func WatchSnapshot(ctx context.Context, log zerolog.Logger, path string, target SnapshotLoader) error {
	log = log.With().Str("component", "snapshot_watcher").Str("path", path).Logger()
	snap, err := LoadSnapshotFile(path)
	if err != nil {
		return err
	}
	target.LoadSnapshot(snap)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory: editors and config management replace the file
	// instead of writing it in place.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch snapshot directory: %w", err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != abs || !evt.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			pending = time.After(snapshotDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		case <-pending:
			pending = nil
			snap, err := LoadSnapshotFile(abs)
			if err != nil {
				log.Err(err).Msg("Keeping previous snapshot")
				continue
			}
			target.LoadSnapshot(snap)
			log.Info().Int("contacts", len(snap.Contacts)).Msg("Reloaded snapshot")
		}
	}
}
