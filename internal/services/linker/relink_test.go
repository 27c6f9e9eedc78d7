// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/tracker"
)

func linkOne(t *testing.T, h *harness, hash string, meta *models.Meta) *models.Torrent {
	t.Helper()
	h.client.addTorrent(t, hash, meta.Title, h.dl, "", "book/CD1/01.mp3", "book/CD2/01.mp3")
	h.provider.set(hash, meta)
	res := h.cycle()
	require.Equal(t, 1, res.Linked)
	return h.torrent(hash)
}

func TestRelinkMovesToNewLibraryRoot(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	before := linkOne(t, h, "rl", bookMeta("20", "Relinked", "Author"))
	oldDir := before.LibraryPath

	newRoot := filepath.Join(t.TempDir(), "library2")
	h.cfg.Libraries[0].LibraryDir = newRoot

	require.NoError(t, h.svc.Relink(ctx, "rl"))

	after := h.torrent("rl")
	assert.Equal(t, filepath.Join(newRoot, "Author", "Relinked"), after.LibraryPath)
	assert.Equal(t, []string{"Disc 1/01.mp3", "Disc 2/01.mp3"}, after.LibraryFiles)
	assert.FileExists(t, filepath.Join(after.LibraryPath, "Disc 2", "01.mp3"))
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, h.lib)

	assert.Equal(t, []models.EventType{
		models.EventTypeLinked,
		models.EventTypeCleaned,
		models.EventTypeLinked,
	}, eventTypes(h.events("rl")))
}

func TestRelinkSameLocationIsIdempotent(t *testing.T) {
	h := newHarness(t, config.LinkMethodCopy)

	before := linkOne(t, h, "same", bookMeta("21", "Same", "Author"))
	require.NoError(t, h.svc.Relink(context.Background(), "same"))

	after := h.torrent("same")
	assert.Equal(t, before.LibraryPath, after.LibraryPath)
	assert.Equal(t, before.LibraryFiles, after.LibraryFiles)
	assert.NotContains(t, eventTypes(h.events("same")), models.EventTypeCleaned)
}

func TestRelinkErrors(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	require.ErrorIs(t, h.svc.Relink(ctx, "nope"), models.ErrTorrentNotFound)

	linkOne(t, h, "gone", bookMeta("22", "Gone", "Author"))
	h.client.removeTorrent("gone")
	require.ErrorIs(t, h.svc.Relink(ctx, "gone"), ErrNotInClient)
}

func TestRefreshMetadata(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	meta := bookMeta("30", "Refresh", "Author")
	meta.IDs[models.IDAsin] = "B0001"
	linkOne(t, h, "rf", meta)

	res, err := h.svc.RefreshMetadata(ctx, "rf")
	require.NoError(t, err)
	assert.False(t, res.Changed())

	fresh := bookMeta("30", "Refresh", "Author")
	fresh.Description = "Now with a blurb."
	h.provider.set("rf", fresh)

	res, err = h.svc.RefreshMetadata(ctx, "rf")
	require.NoError(t, err)
	require.True(t, res.Changed())
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "description", res.Fields[0].Field)

	tor := h.torrent("rf")
	assert.Equal(t, "Now with a blurb.", tor.Meta.Description)
	assert.Equal(t, "B0001", tor.Meta.IDs[models.IDAsin], "stored ids survive a refresh")

	events := h.events("rf")
	last := events[len(events)-1]
	assert.Equal(t, models.EventTypeUpdated, last.Type)
	assert.Equal(t, models.MetadataSourceTracker, last.Payload.Source)
	assert.Equal(t, res.Fields, last.Payload.Fields)
}

func TestRefreshMetadataNotFound(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	linkOne(t, h, "nf", bookMeta("31", "Vanished", "Author"))

	h.provider.mu.Lock()
	delete(h.provider.byHash, "nf")
	h.provider.mu.Unlock()

	_, err := h.svc.RefreshMetadata(context.Background(), "nf")
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestRefreshAndRelink(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	before := linkOne(t, h, "rr", bookMeta("40", "Old Title", "Author"))

	blurb := bookMeta("40", "Old Title", "Author")
	blurb.Description = "text"
	h.provider.set("rr", blurb)

	res, err := h.svc.RefreshAndRelink(ctx, "rr")
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.False(t, res.Relinked, "description does not affect layout")

	renamed := bookMeta("40", "New Title", "Author")
	renamed.Description = "text"
	h.provider.set("rr", renamed)

	res, err = h.svc.RefreshAndRelink(ctx, "rr")
	require.NoError(t, err)
	assert.True(t, res.Relinked)

	after := h.torrent("rr")
	assert.Equal(t, filepath.Join(h.lib, "Author", "New Title"), after.LibraryPath)
	assert.NoDirExists(t, before.LibraryPath)
	assert.FileExists(t, filepath.Join(after.LibraryPath, "Disc 1", "01.mp3"))
}

func TestClean(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	before := linkOne(t, h, "cl", bookMeta("50", "Cleaned", "Solo Author"))

	require.NoError(t, h.svc.Clean(ctx, "cl"))

	after := h.torrent("cl")
	assert.False(t, after.IsLinked())
	assert.Empty(t, after.LibraryFiles)
	assert.NoDirExists(t, before.LibraryPath)
	assert.NoDirExists(t, filepath.Dir(before.LibraryPath), "empty author directory is pruned")
	assert.DirExists(t, h.lib)

	events := h.events("cl")
	last := events[len(events)-1]
	assert.Equal(t, models.EventTypeCleaned, last.Type)
	assert.Equal(t, before.LibraryFiles, last.Payload.Files)

	// Cleaning twice is a no-op.
	require.NoError(t, h.svc.Clean(ctx, "cl"))
	assert.Len(t, h.events("cl"), len(events))

	// The next cycle links it again from stored metadata.
	calls := h.provider.calls
	res := h.cycle()
	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, calls, h.provider.calls)
	assert.True(t, h.torrent("cl").IsLinked())
}

func TestMarkSelected(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	require.Error(t, h.svc.MarkSelected(ctx, nil, false))

	st := &models.SelectedTorrent{Hash: "ABC", MamID: 60, Title: "Queued", Cost: "wedge"}
	require.NoError(t, h.svc.MarkSelected(ctx, st, true))

	got, err := models.NewSelectedTorrentStore(h.db).Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(60), got.MamID)

	events := h.events("abc")
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeGrabbed, events[0].Type)
	assert.True(t, events[0].Payload.Wedged)
	assert.Equal(t, "wedge", events[0].Payload.Cost)
}
