// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/shelf/internal/dbinterface"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/pkg/timeouts"
	"github.com/autobrr/shelf/pkg/pathcmp"
)

// ErrNotInClient is returned when no configured client has the torrent.
var ErrNotInClient = errors.New("torrent not found in any client")

// RefreshResult describes what a metadata refresh changed.
type RefreshResult struct {
	Fields   []models.FieldDiff
	Relinked bool
}

// Changed reports whether any metadata field differed.
func (r *RefreshResult) Changed() bool {
	return r != nil && len(r.Fields) > 0
}

// Relink links a tracked torrent again using its stored metadata. Files
// from a previous location are removed first when the location changed.
func (s *Service) Relink(ctx context.Context, id string) error {
	t, err := s.getTorrent(ctx, id)
	if err != nil {
		return err
	}
	return s.relink(ctx, t, nil)
}

func (s *Service) relink(ctx context.Context, t *models.Torrent, meta *models.Meta) error {
	client, qt, err := s.findInClients(ctx, t)
	if err != nil {
		return err
	}

	if meta == nil {
		stored := t.Meta.Clone()
		meta = &stored
	}

	live := s.liveTorrent(client, qt)
	rule := ResolveLibrary(s.cfg.Libraries, live.SavePath, live.Category, live.Tags)
	if rule == nil {
		return ErrNoLibrary
	}

	libDir, ok := s.libraryDirFor(rule.LibraryDir, meta)
	if !ok {
		return errors.New("cannot compute library path: missing author or title")
	}

	if t.IsLinked() && !samePath(t.LibraryPath, libDir) {
		log.Info().Str("hash", t.ID).Str("from", t.LibraryPath).Str("to", libDir).Msg("[LINKER] Library location changed, cleaning old files")
		if err := s.clean(ctx, t); err != nil {
			return err
		}
	}

	if _, err := s.link(ctx, client, qt, t, nil, meta); err != nil {
		var stepErr *stepError
		if errors.As(err, &stepErr) {
			return stepErr.err
		}
		return err
	}
	return nil
}

// RefreshMetadata fetches the torrent from the tracker and stores the
// merged metadata when any field differs.
func (s *Service) RefreshMetadata(ctx context.Context, id string) (*RefreshResult, error) {
	t, err := s.getTorrent(ctx, id)
	if err != nil {
		return nil, err
	}
	result, _, err := s.refresh(ctx, t)
	return result, err
}

func (s *Service) refresh(ctx context.Context, t *models.Torrent) (*RefreshResult, *models.Meta, error) {
	fresh, err := s.fetchMeta(ctx, t.ID, t.MamID, t.Meta.IDs)
	if err != nil {
		return nil, nil, err
	}
	if fresh.Edition == "" {
		fresh.Edition = t.Meta.Edition
	}

	result := &RefreshResult{Fields: t.Meta.Diff(fresh)}
	if !result.Changed() {
		return result, fresh, nil
	}

	t.Meta = *fresh
	t.Title = fresh.Title
	if id := fresh.MamID(); id > 0 {
		t.MamID = id
	}

	err = s.update(ctx, func(q dbinterface.Querier) error {
		if err := models.NewTorrentStore(q).Upsert(ctx, t); err != nil {
			return err
		}
		return models.NewEventStore(q).Insert(ctx, models.NewUpdatedEvent(t, result.Fields, models.MetadataSourceTracker))
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("hash", t.ID).Int("fields", len(result.Fields)).Msg("[LINKER] Refreshed metadata")
	return result, fresh, nil
}

// RefreshAndRelink refreshes metadata and relinks when the refreshed
// metadata moves the book to a different directory.
func (s *Service) RefreshAndRelink(ctx context.Context, id string) (*RefreshResult, error) {
	t, err := s.getTorrent(ctx, id)
	if err != nil {
		return nil, err
	}

	before := t.Meta.Clone()
	result, fresh, err := s.refresh(ctx, t)
	if err != nil {
		return nil, err
	}
	if !result.Changed() || !t.IsLinked() || !layoutChanged(&before, fresh) {
		return result, nil
	}

	if err := s.relink(ctx, t, fresh); err != nil {
		return result, fmt.Errorf("relink: %w", err)
	}
	result.Relinked = true
	return result, nil
}

// layoutChanged compares the root-independent part of both layouts.
func layoutChanged(before, after *models.Meta) bool {
	a, okA := LibraryDir("/", before, true)
	b, okB := LibraryDir("/", after, true)
	return okA != okB || a != b
}

// Clean removes the library files of a torrent and clears its location.
func (s *Service) Clean(ctx context.Context, id string) error {
	t, err := s.getTorrent(ctx, id)
	if err != nil {
		return err
	}
	if !t.IsLinked() {
		return nil
	}
	return s.clean(ctx, t)
}

func (s *Service) clean(ctx context.Context, t *models.Torrent) error {
	libDir := t.LibraryPath
	files := slices.Clone(t.LibraryFiles)

	if len(files) > 0 {
		unlock := s.locks.Lock(libDir)
		err := removeLibraryFiles(libDir, files, s.libraryRootOf(libDir))
		unlock()
		if err != nil {
			return fmt.Errorf("remove library files: %w", err)
		}
	}

	event := models.NewCleanedEvent(t, libDir, files)
	t.LibraryPath = ""
	t.LibraryFiles = nil
	t.LibraryMismatch = nil

	err := s.update(ctx, func(q dbinterface.Querier) error {
		if err := models.NewTorrentStore(q).Upsert(ctx, t); err != nil {
			return err
		}
		return models.NewEventStore(q).Insert(ctx, event)
	})
	if err != nil {
		return err
	}

	log.Info().Str("hash", t.ID).Str("path", libDir).Int("files", len(files)).Msg("[LINKER] Cleaned library files")
	return nil
}

// libraryRootOf returns the deepest configured library root containing dir,
// or dir's parent when none does.
func (s *Service) libraryRootOf(dir string) string {
	root := ""
	for _, rule := range s.cfg.Libraries {
		if rule.LibraryDir == "" || !pathcmp.HasPathPrefix(dir, rule.LibraryDir) {
			continue
		}
		if len(rule.LibraryDir) > len(root) {
			root = rule.LibraryDir
		}
	}
	if root == "" {
		return filepath.Dir(dir)
	}
	return filepath.Clean(root)
}

// MarkSelected records a download queued by an upstream selector.
func (s *Service) MarkSelected(ctx context.Context, st *models.SelectedTorrent, wedged bool) error {
	if st == nil {
		return errors.New("selected torrent is nil")
	}
	st.Hash = strings.ToLower(st.Hash)

	return s.update(ctx, func(q dbinterface.Querier) error {
		if err := models.NewSelectedTorrentStore(q).Upsert(ctx, st); err != nil {
			return err
		}
		return models.NewEventStore(q).Insert(ctx, models.NewGrabbedEvent(st.Hash, st.MamID, st.Cost, wedged))
	})
}

func (s *Service) getTorrent(ctx context.Context, id string) (*models.Torrent, error) {
	var t *models.Torrent
	err := s.store.View(ctx, func(q dbinterface.Querier) error {
		var err error
		t, err = models.NewTorrentStore(q).Get(ctx, strings.ToLower(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// findInClients looks in the client that linked t first, then in the rest.
func (s *Service) findInClients(ctx context.Context, t *models.Torrent) (TorrentClient, *qbt.Torrent, error) {
	order := make([]TorrentClient, 0, len(s.clients))
	if c := s.client(t.Linker); c != nil {
		order = append(order, c)
	}
	for _, c := range s.clients {
		if c.Name() != t.Linker {
			order = append(order, c)
		}
	}

	for _, c := range order {
		callCtx, cancel := timeouts.WithClientTimeout(ctx, s.clientTimeout)
		qt, err := c.GetTorrent(callCtx, t.ID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("client", c.Name()).Str("hash", t.ID).Msg("[LINKER] Failed to look up torrent")
			continue
		}
		if qt != nil {
			return c, qt, nil
		}
	}
	return nil, nil, ErrNotInClient
}
