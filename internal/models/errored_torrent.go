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

// ErroredStep names the pipeline stage that failed.
type ErroredStep string

const (
	ErroredStepMatch     ErroredStep = "match"
	ErroredStepLink      ErroredStep = "link"
	ErroredStepReconcile ErroredStep = "reconcile"
)

// ErroredTorrent is an operator facing failure record, keyed by step and display name.
type ErroredTorrent struct {
	Step      ErroredStep `json:"step"`
	Name      string      `json:"name"`
	Hash      string      `json:"hash,omitempty"`
	Error     string      `json:"error"`
	Meta      *Meta       `json:"meta,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ErroredTorrentStore handles database operations for the errored torrent ledger
type ErroredTorrentStore struct {
	db dbinterface.Querier
}

// NewErroredTorrentStore creates a new ErroredTorrentStore
func NewErroredTorrentStore(db dbinterface.Querier) *ErroredTorrentStore {
	return &ErroredTorrentStore{db: db}
}

// Upsert records a failure, replacing an earlier one for the same step and name.
func (s *ErroredTorrentStore) Upsert(ctx context.Context, e *ErroredTorrent) error {
	if e == nil {
		return errors.New("errored torrent is nil")
	}
	if e.Step == "" || e.Name == "" {
		return errors.New("errored torrent requires step and name")
	}

	var metaJSON sql.NullString
	if e.Meta != nil {
		data, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errored_torrents (step, name, hash, error, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(step, name) DO UPDATE SET
			hash = excluded.hash,
			error = excluded.error,
			meta = excluded.meta,
			created_at = excluded.created_at
	`, e.Step, e.Name, nullString(strings.ToLower(e.Hash)), e.Error, metaJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert errored torrent: %w", err)
	}
	return nil
}

// ClearByHash removes every ledger entry for a torrent hash.
func (s *ErroredTorrentStore) ClearByHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM errored_torrents WHERE hash = ?`, strings.ToLower(hash))
	return err
}

// Delete removes a single ledger entry
func (s *ErroredTorrentStore) Delete(ctx context.Context, step ErroredStep, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM errored_torrents WHERE step = ? AND name = ?`, step, name)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns all ledger entries, newest first
func (s *ErroredTorrentStore) List(ctx context.Context) ([]*ErroredTorrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, name, hash, error, meta, created_at
		FROM errored_torrents
		ORDER BY created_at DESC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ErroredTorrent
	for rows.Next() {
		var e ErroredTorrent
		var hash, metaJSON sql.NullString

		if err := rows.Scan(&e.Step, &e.Name, &hash, &e.Error, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Hash = hash.String
		if metaJSON.Valid && metaJSON.String != "" {
			var meta Meta
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal errored torrent meta: %w", err)
			}
			e.Meta = &meta
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
