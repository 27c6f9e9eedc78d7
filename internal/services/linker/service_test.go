// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/database"
	"github.com/autobrr/shelf/internal/dbinterface"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/testdb"
	"github.com/autobrr/shelf/pkg/hardlink"
)

type harness struct {
	t        *testing.T
	db       *database.DB
	cfg      *config.Config
	client   *fakeClient
	provider *fakeProvider
	svc      *Service
	dl       string
	lib      string
}

func newHarness(t *testing.T, method config.LinkMethod) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		t:        t,
		db:       testdb.Open(t, "linker"),
		client:   newFakeClient("qb"),
		provider: newFakeProvider(),
		dl:       filepath.Join(dir, "downloads"),
		lib:      filepath.Join(dir, "library"),
	}
	require.NoError(t, os.MkdirAll(h.dl, 0o755))
	require.NoError(t, os.MkdirAll(h.lib, 0o755))

	h.cfg = testConfig(h.dl, h.lib, method)
	h.svc = NewService(h.cfg, h.db, h.provider, h.client)
	return h
}

func (h *harness) cycle() *CycleResult {
	h.t.Helper()
	res, err := h.svc.LinkTorrentsToLibrary(context.Background())
	require.NoError(h.t, err)
	return res
}

func (h *harness) torrent(hash string) *models.Torrent {
	h.t.Helper()
	var tor *models.Torrent
	require.NoError(h.t, h.db.View(context.Background(), func(q dbinterface.Querier) error {
		var err error
		tor, err = models.NewTorrentStore(q).Get(context.Background(), hash)
		return err
	}))
	return tor
}

func (h *harness) events(hash string) []*models.Event {
	h.t.Helper()
	events, err := models.NewEventStore(h.db).ListByTorrent(context.Background(), hash)
	require.NoError(h.t, err)
	return events
}

func (h *harness) errored() []*models.ErroredTorrent {
	h.t.Helper()
	list, err := models.NewErroredTorrentStore(h.db).List(context.Background())
	require.NoError(h.t, err)
	return list
}

func eventTypes(events []*models.Event) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestLinkTorrentsToLibrary(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)

	h.client.addTorrent(t, "AAAA", "Dune", h.dl, "audiobooks", "Dune/CD1/01.mp3", "Dune/CD2/01.mp3", "Dune/cover.jpg")
	h.provider.set("aaaa", bookMeta("100", "Dune", "Frank Herbert"))

	res := h.cycle()
	assert.Equal(t, 1, res.Linked)
	assert.Zero(t, res.Errored)

	tor := h.torrent("aaaa")
	libDir := filepath.Join(h.lib, "Frank Herbert", "Dune")
	assert.Equal(t, libDir, tor.LibraryPath)
	assert.Equal(t, []string{"Disc 1/01.mp3", "Disc 2/01.mp3"}, tor.LibraryFiles)
	assert.Equal(t, "mp3", tor.SelectedAudioFormat)
	assert.Equal(t, "qb", tor.Linker)
	assert.Equal(t, "audiobooks", tor.Category)
	assert.Equal(t, int64(100), tor.MamID)

	assert.FileExists(t, filepath.Join(libDir, "Disc 1", "01.mp3"))
	assert.FileExists(t, filepath.Join(libDir, SidecarName))
	assert.NoFileExists(t, filepath.Join(libDir, "cover.jpg"))

	events := h.events("aaaa")
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeLinked, events[0].Type)
	assert.Equal(t, libDir, events[0].Payload.LibraryPath)
	assert.Equal(t, "qb", events[0].Payload.Linker)

	// Second cycle changes nothing and does not query the tracker again.
	calls := h.provider.calls
	res = h.cycle()
	assert.Zero(t, res.Linked)
	assert.Zero(t, res.Updated)
	assert.Equal(t, calls, h.provider.calls)
	assert.Len(t, h.events("aaaa"), 1)
}

func TestLinkTorrentsToLibraryPartialFailure(t *testing.T) {
	h := newHarness(t, config.LinkMethodCopy)
	h.cfg.OnInvalid = config.OnInvalidConfig{Category: "invalid", Tags: []string{"shelf-invalid"}}

	h.client.addTorrent(t, "a1", "Book One", h.dl, "", "One/one.m4b")
	h.client.addTorrent(t, "b2", "Movie", h.dl, "", "Movie/movie.mkv")
	h.client.addTorrent(t, "c3", "Book Three", h.dl, "", "Three/three.epub")
	h.provider.set("a1", bookMeta("1", "One", "Author A"))
	h.provider.set("b2", bookMeta("2", "Movie", "Director"))
	h.provider.set("c3", bookMeta("3", "Three", "Author C"))

	res := h.cycle()
	assert.Equal(t, 2, res.Linked)
	assert.Equal(t, 1, res.Errored)

	assert.True(t, h.torrent("a1").IsLinked())
	assert.True(t, h.torrent("c3").IsLinked())

	var gone *models.Torrent
	err := h.db.View(context.Background(), func(q dbinterface.Querier) error {
		var err error
		gone, err = models.NewTorrentStore(q).Get(context.Background(), "b2")
		return err
	})
	require.ErrorIs(t, err, models.ErrTorrentNotFound)
	assert.Nil(t, gone)

	ledger := h.errored()
	require.Len(t, ledger, 1)
	assert.Equal(t, "Movie", ledger[0].Name)
	assert.Equal(t, "b2", ledger[0].Hash)
	assert.Equal(t, models.ErroredStepMatch, ledger[0].Step)

	assert.Equal(t, "invalid", h.client.categories["b2"])
	assert.Equal(t, []string{"shelf-invalid"}, h.client.tags["b2"])
}

func TestLinkTorrentsToLibraryTrackerNotFound(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	h.client.addTorrent(t, "dead", "Unknown", h.dl, "", "x/x.m4b")

	res := h.cycle()
	assert.Equal(t, 1, res.Errored)

	ledger := h.errored()
	require.Len(t, ledger, 1)
	assert.Contains(t, ledger[0].Error, "not found")

	// Appears on the tracker later: linked and ledger cleared.
	h.provider.set("dead", bookMeta("5", "Found", "Later"))
	res = h.cycle()
	assert.Equal(t, 1, res.Linked)
	assert.Empty(t, h.errored())
}

func TestLinkTorrentsToLibrarySkipsIncompleteAndUnmatched(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)

	h.client.addTorrent(t, "part", "Partial", h.dl, "", "p/p.m4b")
	h.client.update("part", func(t *qbt.Torrent) { t.Progress = 0.5 })

	elsewhere := filepath.Join(t.TempDir(), "other")
	h.client.addTorrent(t, "else", "Elsewhere", elsewhere, "", "e/e.m4b")
	h.provider.set("else", bookMeta("9", "E", "A"))

	res := h.cycle()
	assert.Zero(t, res.Linked)
	assert.Zero(t, res.Errored)
	assert.Empty(t, h.errored())
	assert.Zero(t, h.provider.calls)
}

func TestLinkTorrentsToLibraryRemovesSelection(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	require.NoError(t, h.svc.MarkSelected(ctx, &models.SelectedTorrent{Hash: "SEL1", MamID: 77, Title: "Picked"}, false))
	require.NoError(t, h.svc.MarkSelected(ctx, &models.SelectedTorrent{Hash: "sel2", MamID: 78, Title: "Elsewhere"}, true))

	h.client.addTorrent(t, "sel1", "Picked", h.dl, "", "p/p.m4b")
	h.provider.set("sel1", bookMeta("77", "Picked", "A"))

	elsewhere := filepath.Join(t.TempDir(), "other")
	h.client.addTorrent(t, "sel2", "Elsewhere", elsewhere, "", "e/e.m4b")

	h.cycle()

	pending, err := models.NewSelectedTorrentStore(h.db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []models.EventType{models.EventTypeGrabbed, models.EventTypeLinked}, eventTypes(h.events("sel1")))
}

func TestLinkTorrentsToLibraryReplacesRedownload(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	h.client.addTorrent(t, "old1", "Emma", h.dl, "", "emma-v1/emma.m4b")
	h.provider.set("old1", bookMeta("500", "Emma", "Jane Austen"))
	require.Equal(t, 1, h.cycle().Linked)

	libDir := filepath.Join(h.lib, "Jane Austen", "Emma")
	oldLinked, err := hardlink.SameFile(filepath.Join(h.dl, "emma-v1", "emma.m4b"), filepath.Join(libDir, "emma.m4b"))
	require.NoError(t, err)
	require.True(t, oldLinked)

	h.client.removeTorrent("old1")
	require.NoError(t, h.svc.MarkSelected(ctx, &models.SelectedTorrent{Hash: "new1", MamID: 500, Title: "Emma"}, false))
	h.client.addTorrent(t, "new1", "Emma", h.dl, "", "emma-v2/emma.m4b")
	calls := h.provider.calls

	res := h.cycle()
	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, calls, h.provider.calls, "stored metadata is reused")

	fresh := h.torrent("new1")
	assert.Equal(t, libDir, fresh.LibraryPath)
	assert.Equal(t, []string{"emma.m4b"}, fresh.LibraryFiles)
	assert.Equal(t, int64(500), fresh.MamID)

	newLinked, err := hardlink.SameFile(filepath.Join(h.dl, "emma-v2", "emma.m4b"), filepath.Join(libDir, "emma.m4b"))
	require.NoError(t, err)
	assert.True(t, newLinked)

	old := h.torrent("old1")
	require.NotNil(t, old.ReplacedWith)
	assert.Equal(t, "new1", old.ReplacedWith.ID)
	assert.Empty(t, old.LibraryPath)
	assert.Equal(t, []models.EventType{models.EventTypeLinked, models.EventTypeCleaned}, eventTypes(h.events("old1")))

	// The replaced record is left alone on the next cycle.
	res = h.cycle()
	assert.Zero(t, res.Linked)
	assert.Zero(t, res.Errored)
}

func TestLinkTorrentsToLibraryKeepsOldFilesWhenReplacementUnlinkable(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	h.client.addTorrent(t, "old1", "Emma", h.dl, "", "emma-v1/emma.m4b")
	h.provider.set("old1", bookMeta("500", "Emma", "Jane Austen"))
	require.Equal(t, 1, h.cycle().Linked)

	libDir := filepath.Join(h.lib, "Jane Austen", "Emma")
	libFile := filepath.Join(libDir, "emma.m4b")

	require.NoError(t, h.svc.MarkSelected(ctx, &models.SelectedTorrent{Hash: "new1", MamID: 500, Title: "Emma"}, false))
	h.client.addTorrent(t, "new1", "Emma", h.dl, "", "emma-v2/emma.txt")

	res := h.cycle()
	assert.Zero(t, res.Linked)
	assert.Equal(t, 1, res.Errored)
	assert.FileExists(t, libFile)

	old := h.torrent("old1")
	assert.Equal(t, libDir, old.LibraryPath)
	assert.Equal(t, []string{"emma.m4b"}, old.LibraryFiles)
	assert.Nil(t, old.ReplacedWith)

	errored := h.errored()
	require.Len(t, errored, 1)
	assert.Equal(t, "new1", errored[0].Hash)

	for range 2 {
		res = h.cycle()
		assert.Zero(t, res.Linked)
	}
	assert.FileExists(t, libFile)
	assert.Equal(t, []models.EventType{models.EventTypeLinked}, eventTypes(h.events("old1")))
	assert.Len(t, h.errored(), 1)
}

func TestLinkTorrentsToLibraryMarksReplacedWhenMaterializeFails(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	ctx := context.Background()

	h.client.addTorrent(t, "old1", "Emma", h.dl, "", "emma-v1/emma.m4b")
	h.provider.set("old1", bookMeta("500", "Emma", "Jane Austen"))
	require.Equal(t, 1, h.cycle().Linked)

	require.NoError(t, h.svc.MarkSelected(ctx, &models.SelectedTorrent{Hash: "new1", MamID: 500, Title: "Emma"}, false))
	h.client.addTorrent(t, "new1", "Emma", h.dl, "", "emma-v2/emma.m4b")
	require.NoError(t, os.Remove(filepath.Join(h.dl, "emma-v2", "emma.m4b")))

	res := h.cycle()
	assert.Zero(t, res.Linked)
	assert.Equal(t, 1, res.Errored)

	old := h.torrent("old1")
	require.NotNil(t, old.ReplacedWith)
	assert.Equal(t, "new1", old.ReplacedWith.ID)
	assert.Empty(t, old.LibraryPath)

	// The old download is not linked back while the replacement keeps failing.
	for range 2 {
		res = h.cycle()
		assert.Zero(t, res.Linked)
	}
	assert.Equal(t, []models.EventType{models.EventTypeLinked, models.EventTypeCleaned}, eventTypes(h.events("old1")))
	assert.Equal(t, "new1", h.torrent("old1").ReplacedWith.ID)
}

func TestLinkTorrentsToLibraryReconciles(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)

	h.client.addTorrent(t, "r1", "Reconcile", h.dl, "audiobooks", "r/r.m4b")
	h.provider.set("r1", bookMeta("10", "Reconcile", "Author"))
	h.cycle()

	h.client.update("r1", func(t *qbt.Torrent) { t.Category = "done" })
	h.client.trackers["r1"] = []qbt.TorrentTracker{{
		Url:     "https://t.example/announce",
		Status:  qbt.TrackerStatusNotWorking,
		Message: "Torrent not registered with this tracker",
	}}

	res := h.cycle()
	assert.Equal(t, 1, res.Updated)

	tor := h.torrent("r1")
	assert.Equal(t, "done", tor.Category)
	assert.Equal(t, models.ClientStatusRemovedFromTracker, tor.ClientStatus)
	assert.Equal(t, []models.EventType{models.EventTypeLinked, models.EventTypeRemovedFromTracker}, eventTypes(h.events("r1")))

	res = h.cycle()
	assert.Zero(t, res.Updated)
}

func TestLinkTorrentsToLibraryMarksMissing(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)

	h.client.addTorrent(t, "m1", "Missing", h.dl, "", "m/m.m4b")
	h.provider.set("m1", bookMeta("11", "Missing", "Author"))
	h.cycle()

	h.client.removeTorrent("m1")
	res := h.cycle()
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, models.ClientStatusNotInClient, h.torrent("m1").ClientStatus)

	res = h.cycle()
	assert.Zero(t, res.Missing)
}

func TestLinkTorrentsToLibraryPathMappings(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	h.cfg.Clients[0].PathMappings = []config.PathMapping{{From: "/container/downloads", To: h.dl}}

	writeFile(t, filepath.Join(h.dl, "mapped", "m.m4b"), "audio")
	h.client.torrents = append(h.client.torrents, qbt.Torrent{Hash: "map", Name: "Mapped", SavePath: "/container/downloads", Progress: 1})
	h.client.files["map"] = make(qbt.TorrentFiles, 1)
	h.client.files["map"][0].Name = "mapped/m.m4b"
	h.provider.set("map", bookMeta("12", "Mapped", "Author"))

	res := h.cycle()
	assert.Equal(t, 1, res.Linked)
	assert.FileExists(t, filepath.Join(h.lib, "Author", "Mapped", "m.m4b"))
}

func TestLinkTorrentsToLibraryNoLink(t *testing.T) {
	h := newHarness(t, config.LinkMethodNoLink)

	h.client.addTorrent(t, "nl", "No Link", h.dl, "", "n/n.m4b")
	h.provider.set("nl", bookMeta("13", "No Link", "Author"))

	res := h.cycle()
	assert.Equal(t, 1, res.Linked)

	tor := h.torrent("nl")
	assert.Equal(t, filepath.Join(h.lib, "Author", "No Link"), tor.LibraryPath)
	assert.Empty(t, tor.LibraryFiles)
	assert.NoDirExists(t, tor.LibraryPath)
}

func TestLinkTorrentsToLibraryClientFailure(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	broken := newFakeClient("broken")
	broken.listErr = errors.New("connection refused")
	h.svc.clients = append([]TorrentClient{broken}, h.svc.clients...)

	h.client.addTorrent(t, "ok", "Fine", h.dl, "", "f/f.m4b")
	h.provider.set("ok", bookMeta("14", "Fine", "Author"))

	res := h.cycle()
	assert.Equal(t, 1, res.ClientErrs)
	assert.Equal(t, 1, res.Linked)
}

func TestLinkTorrentsToLibraryConcurrent(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)
	h.cfg.LinkConcurrency = 4
	h.svc = NewService(h.cfg, h.db, newBarrierProvider(h.provider, 4), h.client)

	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"}
	for _, id := range ids {
		h.client.addTorrent(t, id, id, h.dl, "", id+"/"+id+".m4b")
		h.provider.set(id, bookMeta("0", "Title "+id, "Author"))
	}

	res := h.cycle()
	assert.Equal(t, len(ids), res.Linked)
	assert.Zero(t, res.Errored)
	assert.Empty(t, h.errored())

	for _, id := range ids {
		tor := h.torrent(id)
		require.NotNil(t, tor, id)
		assert.True(t, tor.IsLinked(), id)
		assert.Equal(t, []models.EventType{models.EventTypeLinked}, eventTypes(h.events(id)), id)
	}
}

func TestLinkTorrentsToLibraryRejectsOverlappingCycles(t *testing.T) {
	h := newHarness(t, config.LinkMethodHardlink)

	h.svc.cycleMu.Lock()
	_, err := h.svc.LinkTorrentsToLibrary(context.Background())
	h.svc.cycleMu.Unlock()

	require.ErrorIs(t, err, ErrCycleRunning)
}
