// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/pkg/timeouts"
	"github.com/autobrr/shelf/internal/tracker"
)

// MetadataProvider fetches canonical metadata from the tracker. Both methods
// return tracker.ErrNotFound when the tracker has no such torrent.
type MetadataProvider interface {
	TorrentByHash(ctx context.Context, hash string) (*models.Meta, error)
	TorrentByID(ctx context.Context, id int64) (*models.Meta, error)
}

// MergeIDs returns base with every key of fresh added or overwritten.
// Neither input is modified.
func MergeIDs(base, fresh map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(fresh))
	maps.Copy(out, base)
	for k, v := range fresh {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// fetchMeta looks the torrent up by hash and falls back to the tracker id
// when the hash is unknown. Both lookups share one tracker deadline unless
// ctx already has one. The returned record carries stored ids merged
// with the fetched ones.
func (s *Service) fetchMeta(ctx context.Context, hash string, mamID int64, stored map[string]string) (*models.Meta, error) {
	callCtx, cancel := timeouts.WithTrackerTimeout(ctx, s.trackerTimeout)
	defer cancel()

	meta, err := s.provider.TorrentByHash(callCtx, hash)
	if errors.Is(err, tracker.ErrNotFound) && mamID > 0 {
		meta, err = s.provider.TorrentByID(callCtx, mamID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	if meta == nil {
		return nil, fmt.Errorf("fetch metadata: %w", tracker.ErrNotFound)
	}

	meta.IDs = MergeIDs(stored, meta.IDs)
	return meta, nil
}
