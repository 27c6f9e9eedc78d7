// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package linker matches finished torrents to libraries, links their files
// into place and keeps the stored records reconciled with the torrent client
// and tracker.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/dbinterface"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/pkg/timeouts"
	"github.com/autobrr/shelf/internal/qbittorrent"
	"github.com/autobrr/shelf/pkg/pathcmp"
)

// ErrCycleRunning is returned when a cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("link cycle already running")

// TorrentClient is the subset of *qbittorrent.Client the linker needs.
type TorrentClient interface {
	Name() string
	GetTorrents(ctx context.Context) ([]qbt.Torrent, error)
	GetTorrent(ctx context.Context, hash string) (*qbt.Torrent, error)
	GetFiles(ctx context.Context, hash string) (qbt.TorrentFiles, error)
	GetTrackers(ctx context.Context, hash string) ([]qbt.TorrentTracker, error)
	AddTags(ctx context.Context, hashes []string, tags []string) error
	SetCategory(ctx context.Context, hashes []string, category string) error
}

// Store runs read snapshots and write transactions. *database.DB implements it.
type Store interface {
	View(ctx context.Context, fn func(q dbinterface.Querier) error) error
	Update(ctx context.Context, fn func(q dbinterface.Querier) error) error
}

// storeError marks failures of the backing store, which abort a cycle.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return "store: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// stepError attributes a per-torrent failure to a pipeline step.
type stepError struct {
	step models.ErroredStep
	meta *models.Meta
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

func failStep(step models.ErroredStep, meta *models.Meta, err error) error {
	var se *storeError
	if errors.As(err, &se) {
		return err
	}
	return &stepError{step: step, meta: meta, err: err}
}

// CycleResult summarizes one LinkTorrentsToLibrary run.
type CycleResult struct {
	Seen       int
	Linked     int
	Updated    int
	Errored    int
	Missing    int
	ClientErrs int
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeLinked
	outcomeUpdated
	outcomeErrored
)

func (r *CycleResult) add(o outcome) {
	switch o {
	case outcomeLinked:
		r.Linked++
	case outcomeUpdated:
		r.Updated++
	case outcomeErrored:
		r.Errored++
	}
}

// Service runs link cycles and single-torrent operations.
type Service struct {
	cfg      *config.Config
	store    Store
	provider MetadataProvider
	clients  []TorrentClient

	locks   *keyedMutex
	cycleMu sync.Mutex

	clientTimeout  time.Duration
	trackerTimeout time.Duration
}

// NewService creates a linker over the configured libraries.
func NewService(cfg *config.Config, store Store, provider MetadataProvider, clients ...TorrentClient) *Service {
	trackerTimeout := timeouts.AdaptiveTrackerTimeout(cfg.Tracker.Timeout, int(cfg.Tracker.Retries))

	return &Service{
		cfg:            cfg,
		store:          store,
		provider:       provider,
		clients:        clients,
		locks:          newKeyedMutex(),
		clientTimeout:  timeouts.DefaultClientTimeout,
		trackerTimeout: trackerTimeout,
	}
}

// LinkTorrentsToLibrary runs one cycle over every torrent of every client.
// Per-torrent failures land in the errored ledger; only store failures
// abort the cycle.
func (s *Service) LinkTorrentsToLibrary(ctx context.Context) (*CycleResult, error) {
	if !s.cycleMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer s.cycleMu.Unlock()

	start := time.Now()
	result := &CycleResult{}

	for _, client := range s.clients {
		if err := s.linkClient(ctx, client, result); err != nil {
			var se *storeError
			if errors.As(err, &se) || ctx.Err() != nil {
				return result, err
			}
			result.ClientErrs++
			log.Error().Err(err).Str("client", client.Name()).Msg("[LINKER] Failed to process client")
		}
	}

	log.Info().
		Int("seen", result.Seen).
		Int("linked", result.Linked).
		Int("updated", result.Updated).
		Int("errored", result.Errored).
		Int("missing", result.Missing).
		Dur("took", time.Since(start)).
		Msg("[LINKER] Cycle complete")

	return result, nil
}

func (s *Service) linkClient(ctx context.Context, client TorrentClient, result *CycleResult) error {
	listCtx, cancel := timeouts.WithClientTimeout(ctx, s.clientTimeout)
	torrents, err := client.GetTorrents(listCtx)
	cancel()
	if err != nil {
		return err
	}

	var mu sync.Mutex
	seen := make(map[string]struct{}, len(torrents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.LinkConcurrency, 1))

	for i := range torrents {
		qt := &torrents[i]
		seen[strings.ToLower(qt.Hash)] = struct{}{}

		g.Go(func() error {
			o, err := s.processTorrent(gctx, client, qt)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Seen++
			result.add(o)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	missing, err := s.markMissing(ctx, client.Name(), seen)
	result.Missing += missing
	return err
}

// processTorrent handles one client torrent. The returned error is non-nil
// only for store failures.
func (s *Service) processTorrent(ctx context.Context, client TorrentClient, qt *qbt.Torrent) (outcome, error) {
	if qt.Progress < 1 {
		return outcomeSkipped, nil
	}

	hash := strings.ToLower(qt.Hash)
	logger := log.With().Str("client", client.Name()).Str("hash", hash).Str("name", qt.Name).Logger()

	var (
		existing *models.Torrent
		selected *models.SelectedTorrent
	)
	err := s.store.View(ctx, func(q dbinterface.Querier) error {
		var err error
		selected, err = models.NewSelectedTorrentStore(q).Get(ctx, hash)
		if err != nil {
			return err
		}

		torrents := models.NewTorrentStore(q)
		existing, err = torrents.Get(ctx, hash)
		if errors.Is(err, models.ErrTorrentNotFound) && selected != nil && selected.MamID > 0 {
			existing, err = torrents.GetByMamID(ctx, selected.MamID)
		}
		if errors.Is(err, models.ErrTorrentNotFound) {
			existing, err = nil, nil
		}
		return err
	})
	if err != nil {
		return outcomeErrored, &storeError{err: err}
	}

	o := outcomeSkipped
	switch {
	case existing != nil && existing.ID != hash:
		// A new download of a tracked tracker id; link takes over its library slot.
	case existing != nil:
		changed, err := s.reconcile(ctx, client, qt, existing, selected)
		if err != nil {
			return s.recordFailure(ctx, qt, failStep(models.ErroredStepReconcile, &existing.Meta, err))
		}
		selected = nil
		if changed {
			o = outcomeUpdated
			logger.Debug().Msg("[LINKER] Updated tracked torrent")
		}
		if existing.IsLinked() || existing.IsReplaced() {
			return o, nil
		}
	}

	linked, err := s.link(ctx, client, qt, existing, selected, nil)
	if err != nil {
		if errors.Is(err, ErrNoLibrary) {
			return o, s.dropSelected(ctx, selected)
		}
		return s.recordFailure(ctx, qt, err)
	}
	if !linked {
		return o, nil
	}

	logger.Info().Msg("[LINKER] Linked torrent")
	return outcomeLinked, nil
}

// reconcile compares the stored record with the live torrent and commits
// changes. A pending selection is removed in the same transaction.
func (s *Service) reconcile(ctx context.Context, client TorrentClient, qt *qbt.Torrent, existing *models.Torrent, selected *models.SelectedTorrent) (bool, error) {
	facts := TrackerFacts{}
	if existing.ClientStatus != models.ClientStatusRemovedFromTracker {
		facts = s.trackerFacts(ctx, client, qt.Hash)
	}

	live := s.liveTorrent(client, qt)
	rule := ResolveLibrary(s.cfg.Libraries, live.SavePath, live.Category, live.Tags)

	changed, events := CheckUpdates(existing, live, rule, s.cfg, facts)
	if !changed && selected == nil {
		return false, nil
	}

	err := s.update(ctx, func(q dbinterface.Querier) error {
		if selected != nil {
			if _, err := models.NewSelectedTorrentStore(q).Delete(ctx, selected.Hash); err != nil {
				return err
			}
		}
		if !changed {
			return nil
		}

		torrents := models.NewTorrentStore(q)
		ok, err := torrents.Exists(ctx, existing.ID)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug().Str("hash", existing.ID).Msg("[LINKER] Torrent removed before reconcile commit")
			return nil
		}
		if err := torrents.Upsert(ctx, existing); err != nil {
			return err
		}
		return models.NewEventStore(q).Insert(ctx, events...)
	})
	return changed, err
}

// link runs the match pipeline for one torrent and persists the result. It
// reports false when the rule is no_link and the association was already
// stored. meta overrides the metadata to use; without it the stored
// metadata is used when base is set, else the tracker is queried.
func (s *Service) link(ctx context.Context, client TorrentClient, qt *qbt.Torrent, base *models.Torrent, selected *models.SelectedTorrent, meta *models.Meta) (bool, error) {
	hash := strings.ToLower(qt.Hash)
	live := s.liveTorrent(client, qt)

	rule := ResolveLibrary(s.cfg.Libraries, live.SavePath, live.Category, live.Tags)
	if rule == nil {
		return false, ErrNoLibrary
	}

	filesCtx, cancel := timeouts.WithClientTimeout(ctx, s.clientTimeout)
	files, err := client.GetFiles(filesCtx, qt.Hash)
	cancel()
	if err != nil {
		return false, failStep(models.ErroredStepMatch, nil, err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}

	sel, err := SelectFormats(s.cfg.AudioTypesFor(rule), s.cfg.EbookTypesFor(rule), names)
	if err != nil {
		s.remediate(ctx, client, qt)
		return false, failStep(models.ErroredStepMatch, nil, err)
	}

	if meta == nil {
		if base != nil {
			stored := base.Meta.Clone()
			meta = &stored
		} else {
			var mamID int64
			if selected != nil {
				mamID = selected.MamID
			}
			meta, err = s.fetchMeta(ctx, hash, mamID, nil)
			if err != nil {
				return false, failStep(models.ErroredStepMatch, nil, err)
			}
		}
	}

	if !meta.MediaType.Linkable() {
		s.remediate(ctx, client, qt)
		return false, failStep(models.ErroredStepMatch, meta, fmt.Errorf("media type %q: %w", meta.MediaType, ErrUnsupportedContent))
	}

	libDir, ok := s.libraryDirFor(rule.LibraryDir, meta)
	if !ok {
		return false, failStep(models.ErroredStepLink, meta, errors.New("cannot compute library path: missing author or title"))
	}

	plans, err := BuildLinkPlans(live.SavePath, libDir, names, sel)
	if err != nil {
		return false, failStep(models.ErroredStepLink, meta, err)
	}

	// The old download's files are only removed once the new one is known to
	// be linkable.
	replacing := base != nil && base.ID != hash
	cleaned := false
	if replacing && base.IsLinked() {
		if err := s.clean(ctx, base); err != nil {
			return false, failStep(models.ErroredStepLink, meta, err)
		}
		cleaned = true
	}

	libFiles, err := s.materialize(rule, libDir, plans, meta)
	if err != nil {
		if cleaned {
			if rerr := s.markReplaced(ctx, base, hash); rerr != nil {
				return false, rerr
			}
		}
		return false, failStep(models.ErroredStepLink, meta, err)
	}

	record := &models.Torrent{ID: hash}
	var replaced *models.Torrent
	switch {
	case base != nil && base.ID == hash:
		record = base
	case replacing:
		replaced = base
		replaced.ReplacedWith = &models.Replacement{ID: hash, At: time.Now().UTC()}
	}
	record.Title = meta.Title
	record.Meta = *meta
	record.MamID = meta.MamID()
	record.Linker = client.Name()
	record.Category = qt.Category
	record.SelectedAudioFormat = sel.Audio
	record.SelectedEbookFormat = sel.Ebook
	record.LibraryPath = libDir
	record.LibraryFiles = libFiles
	record.LibraryMismatch = nil

	if base != nil && base.ID == hash && rule.Method == config.LinkMethodNoLink && base.LibraryPath == libDir {
		return false, s.dropSelected(ctx, selected)
	}

	err = s.update(ctx, func(q dbinterface.Querier) error {
		if selected != nil {
			if _, err := models.NewSelectedTorrentStore(q).Delete(ctx, selected.Hash); err != nil {
				return err
			}
		}
		torrents := models.NewTorrentStore(q)
		if err := torrents.Upsert(ctx, record); err != nil {
			return err
		}
		if replaced != nil {
			if err := torrents.Upsert(ctx, replaced); err != nil {
				return err
			}
		}
		if err := models.NewErroredTorrentStore(q).ClearByHash(ctx, hash); err != nil {
			return err
		}
		return models.NewEventStore(q).Insert(ctx, models.NewLinkedEvent(record, client.Name(), libDir))
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// markReplaced points old at the download that took over its library slot.
func (s *Service) markReplaced(ctx context.Context, old *models.Torrent, hash string) error {
	if old.ReplacedWith != nil && old.ReplacedWith.ID == hash {
		return nil
	}
	old.ReplacedWith = &models.Replacement{ID: hash, At: time.Now().UTC()}
	return s.update(ctx, func(q dbinterface.Querier) error {
		return models.NewTorrentStore(q).Upsert(ctx, old)
	})
}

func (s *Service) liveTorrent(client TorrentClient, qt *qbt.Torrent) LiveTorrent {
	return LiveTorrent{
		Linker:   client.Name(),
		Category: qt.Category,
		SavePath: s.localPath(client.Name(), qt.SavePath),
		Tags:     qbittorrent.SplitTags(qt.Tags),
	}
}

// localPath maps a client-reported path through the instance's path mappings.
func (s *Service) localPath(clientName, p string) string {
	cc, ok := s.cfg.Client(clientName)
	if !ok || len(cc.PathMappings) == 0 {
		return pathcmp.NormalizePath(p)
	}

	mappings := make([]pathcmp.Mapping, 0, len(cc.PathMappings))
	for _, m := range cc.PathMappings {
		mappings = append(mappings, pathcmp.Mapping{From: m.From, To: m.To})
	}
	mapped, _ := pathcmp.MapPath(p, mappings)
	return mapped
}

func (s *Service) trackerFacts(ctx context.Context, client TorrentClient, hash string) TrackerFacts {
	callCtx, cancel := timeouts.WithClientTimeout(ctx, s.clientTimeout)
	defer cancel()

	trackers, err := client.GetTrackers(callCtx, hash)
	if err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("[LINKER] Could not read tracker status")
		return TrackerFacts{}
	}
	return TrackerFacts{Unregistered: qbittorrent.TrackersReportUnregistered(trackers)}
}

// remediate applies the on_invalid category and tags to an unsupported torrent.
func (s *Service) remediate(ctx context.Context, client TorrentClient, qt *qbt.Torrent) {
	inv := s.cfg.OnInvalid
	if !inv.Enabled() {
		return
	}

	callCtx, cancel := timeouts.WithClientTimeout(ctx, s.clientTimeout)
	defer cancel()

	hashes := []string{qt.Hash}
	if inv.Category != "" && qt.Category != inv.Category {
		if err := client.SetCategory(callCtx, hashes, inv.Category); err != nil {
			log.Warn().Err(err).Str("hash", qt.Hash).Msg("[LINKER] Failed to set invalid category")
		}
	}
	if len(inv.Tags) > 0 {
		if err := client.AddTags(callCtx, hashes, inv.Tags); err != nil {
			log.Warn().Err(err).Str("hash", qt.Hash).Msg("[LINKER] Failed to tag invalid torrent")
		}
	}
}

// recordFailure logs a per-torrent failure and writes it to the ledger.
func (s *Service) recordFailure(ctx context.Context, qt *qbt.Torrent, err error) (outcome, error) {
	var se *storeError
	if errors.As(err, &se) {
		return outcomeErrored, err
	}

	step := models.ErroredStepLink
	var meta *models.Meta
	var stepErr *stepError
	if errors.As(err, &stepErr) {
		step = stepErr.step
		meta = stepErr.meta
		err = stepErr.err
	}

	log.Error().Err(err).Str("hash", qt.Hash).Str("name", qt.Name).Str("step", string(step)).Msg("[LINKER] Failed to process torrent")

	entry := &models.ErroredTorrent{
		Step:  step,
		Name:  qt.Name,
		Hash:  strings.ToLower(qt.Hash),
		Error: err.Error(),
		Meta:  meta,
	}
	if uerr := s.update(ctx, func(q dbinterface.Querier) error {
		return models.NewErroredTorrentStore(q).Upsert(ctx, entry)
	}); uerr != nil {
		return outcomeErrored, uerr
	}
	return outcomeErrored, nil
}

func (s *Service) dropSelected(ctx context.Context, selected *models.SelectedTorrent) error {
	if selected == nil {
		return nil
	}
	return s.update(ctx, func(q dbinterface.Querier) error {
		_, err := models.NewSelectedTorrentStore(q).Delete(ctx, selected.Hash)
		return err
	})
}

// markMissing flags tracked torrents of this client that it no longer lists.
func (s *Service) markMissing(ctx context.Context, linker string, seen map[string]struct{}) (int, error) {
	var marked int
	err := s.update(ctx, func(q dbinterface.Querier) error {
		torrents := models.NewTorrentStore(q)
		tracked, err := torrents.ListByLinker(ctx, linker)
		if err != nil {
			return err
		}
		for _, t := range tracked {
			if _, ok := seen[t.ID]; ok || t.ClientStatus != "" {
				continue
			}
			t.ClientStatus = models.ClientStatusNotInClient
			if err := torrents.Upsert(ctx, t); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		log.Info().Str("client", linker).Int("count", marked).Msg("[LINKER] Marked torrents missing from client")
	}
	return marked, nil
}

func (s *Service) update(ctx context.Context, fn func(q dbinterface.Querier) error) error {
	if err := s.store.Update(ctx, fn); err != nil {
		return &storeError{err: err}
	}
	return nil
}

func (s *Service) client(name string) TorrentClient {
	for _, c := range s.clients {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
