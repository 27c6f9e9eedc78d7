// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/pkg/pathcmp"
)

// LiveTorrent is what the torrent client currently reports for a torrent.
// SavePath is already mapped to the local filesystem.
type LiveTorrent struct {
	Linker   string
	Category string
	SavePath string
	Tags     []string
}

// TrackerFacts summarizes the tracker connection state reported by the client.
type TrackerFacts struct {
	Unregistered bool
}

// CheckUpdates brings t in line with the live facts and reports whether
// anything changed, along with the events to record. rule is the library the
// live torrent resolves to, or nil. Calling it again on its own result
// reports no change.
func CheckUpdates(t *models.Torrent, live LiveTorrent, rule *config.LibraryRule, cfg *config.Config, facts TrackerFacts) (bool, []models.Event) {
	var (
		changed bool
		events  []models.Event
	)

	if live.Linker != "" && t.Linker != live.Linker {
		t.Linker = live.Linker
		changed = true
	}

	if t.Category != live.Category {
		t.Category = live.Category
		changed = true
	}

	// Seen in the client again.
	if t.ClientStatus == models.ClientStatusNotInClient {
		t.ClientStatus = ""
		changed = true
	}

	if t.ClientStatus == "" && facts.Unregistered {
		t.ClientStatus = models.ClientStatusRemovedFromTracker
		events = append(events, models.NewRemovedFromTrackerEvent(t))
		changed = true
	}

	if t.LibraryPath != "" {
		excludeNarrator := cfg != nil && cfg.ExcludeNarratorInLibraryDir
		mismatch := libraryMismatch(t, rule, excludeNarrator)
		if !t.LibraryMismatch.Equal(mismatch) {
			t.LibraryMismatch = mismatch
			changed = true
		}
	}

	return changed, events
}

func libraryMismatch(t *models.Torrent, rule *config.LibraryRule, excludeNarrator bool) *models.LibraryMismatch {
	if rule == nil {
		return models.NoLibraryMismatch()
	}

	if !pathcmp.HasPathPrefix(t.LibraryPath, rule.LibraryDir) {
		return models.NewLibraryDirMismatch(rule.LibraryDir)
	}

	expected, ok := LibraryDir(rule.LibraryDir, &t.Meta, !excludeNarrator)
	if !ok {
		return models.NoLibraryMismatch()
	}
	if samePath(expected, t.LibraryPath) {
		return nil
	}

	// Whichever narrator variant is on disk is accepted.
	if alt, ok := LibraryDir(rule.LibraryDir, &t.Meta, excludeNarrator); ok && samePath(alt, t.LibraryPath) {
		return nil
	}

	return models.NewPathMismatch(expected)
}

func samePath(a, b string) bool {
	return pathcmp.NormalizePath(a) == pathcmp.NormalizePath(b)
}
