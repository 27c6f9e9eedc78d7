// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/autobrr/shelf/internal/dbinterface"
)

// SelectedTorrent is a download queued by an upstream selector that has not
// finished yet.
type SelectedTorrent struct {
	Hash      string    `json:"hash"`
	MamID     int64     `json:"mamId"`
	Title     string    `json:"title"`
	Meta      *Meta     `json:"meta,omitempty"`
	Cost      string    `json:"cost,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SelectedTorrentStore handles database operations for pending selections
type SelectedTorrentStore struct {
	db dbinterface.Querier
}

// NewSelectedTorrentStore creates a new SelectedTorrentStore
func NewSelectedTorrentStore(db dbinterface.Querier) *SelectedTorrentStore {
	return &SelectedTorrentStore{db: db}
}

// Upsert records a pending selection
func (s *SelectedTorrentStore) Upsert(ctx context.Context, st *SelectedTorrent) error {
	if st == nil {
		return errors.New("selected torrent is nil")
	}
	if st.Hash == "" {
		return errors.New("selected torrent hash is required")
	}
	if st.MamID <= 0 {
		return errors.New("selected torrent mam id is required")
	}

	var metaJSON sql.NullString
	if st.Meta != nil {
		data, err := json.Marshal(st.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selected_torrents (hash, mam_id, title, meta, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			mam_id = excluded.mam_id,
			title = excluded.title,
			meta = excluded.meta,
			cost = excluded.cost
	`, strings.ToLower(st.Hash), st.MamID, st.Title, metaJSON, nullString(st.Cost), st.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert selected torrent: %w", err)
	}
	return nil
}

// Get returns the pending selection for a hash, or nil when none exists.
func (s *SelectedTorrentStore) Get(ctx context.Context, hash string) (*SelectedTorrent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, mam_id, title, meta, cost, created_at
		FROM selected_torrents
		WHERE hash = ?
	`, strings.ToLower(hash))

	st, err := scanSelectedTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// Delete removes the pending selection for a hash and reports whether one existed.
func (s *SelectedTorrentStore) Delete(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM selected_torrents WHERE hash = ?`, strings.ToLower(hash))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// List returns all pending selections, oldest first
func (s *SelectedTorrentStore) List(ctx context.Context) ([]*SelectedTorrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, mam_id, title, meta, cost, created_at
		FROM selected_torrents
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selected []*SelectedTorrent
	for rows.Next() {
		st, err := scanSelectedTorrent(rows)
		if err != nil {
			return nil, err
		}
		selected = append(selected, st)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return selected, nil
}

func scanSelectedTorrent(row scannable) (*SelectedTorrent, error) {
	var st SelectedTorrent
	var metaJSON, cost sql.NullString

	if err := row.Scan(&st.Hash, &st.MamID, &st.Title, &metaJSON, &cost, &st.CreatedAt); err != nil {
		return nil, err
	}

	st.Cost = cost.String
	if metaJSON.Valid && metaJSON.String != "" {
		var meta Meta
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected torrent meta: %w", err)
		}
		st.Meta = &meta
	}

	return &st, nil
}
