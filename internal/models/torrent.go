// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/autobrr/shelf/internal/dbinterface"
)

var ErrTorrentNotFound = errors.New("torrent not found")

// ClientStatus records facts about a tracked torrent reported by the client or tracker.
type ClientStatus string

const (
	ClientStatusNotInClient        ClientStatus = "not_in_client"
	ClientStatusRemovedFromTracker ClientStatus = "removed_from_tracker"
)

type LibraryMismatchKind string

const (
	LibraryMismatchNewLibraryDir LibraryMismatchKind = "new_library_dir"
	LibraryMismatchNewPath       LibraryMismatchKind = "new_path"
	LibraryMismatchNoLibrary     LibraryMismatchKind = "no_library"
)

// LibraryMismatch describes drift between the recorded library location and
// what the current configuration and metadata would produce.
type LibraryMismatch struct {
	Kind LibraryMismatchKind `json:"kind"`
	Path string              `json:"path,omitempty"`
}

func NewLibraryDirMismatch(root string) *LibraryMismatch {
	return &LibraryMismatch{Kind: LibraryMismatchNewLibraryDir, Path: root}
}

func NewPathMismatch(path string) *LibraryMismatch {
	return &LibraryMismatch{Kind: LibraryMismatchNewPath, Path: path}
}

func NoLibraryMismatch() *LibraryMismatch {
	return &LibraryMismatch{Kind: LibraryMismatchNoLibrary}
}

// Equal treats two nil mismatches as equal.
func (m *LibraryMismatch) Equal(other *LibraryMismatch) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	return *m == *other
}

func (m *LibraryMismatch) String() string {
	if m == nil {
		return ""
	}
	if m.Path == "" {
		return string(m.Kind)
	}
	return string(m.Kind) + "(" + m.Path + ")"
}

// Replacement points at the torrent that superseded this one.
type Replacement struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Torrent is the durable record for one tracked torrent. ID is the lowercase
// content hash.
type Torrent struct {
	ID                  string           `json:"id"`
	MamID               int64            `json:"mamId,omitempty"`
	Title               string           `json:"title"`
	Meta                Meta             `json:"meta"`
	Linker              string           `json:"linker,omitempty"`
	Category            string           `json:"category,omitempty"`
	SelectedAudioFormat string           `json:"selectedAudioFormat,omitempty"`
	SelectedEbookFormat string           `json:"selectedEbookFormat,omitempty"`
	LibraryPath         string           `json:"libraryPath,omitempty"`
	LibraryFiles        []string         `json:"libraryFiles,omitempty"`
	ReplacedWith        *Replacement     `json:"replacedWith,omitempty"`
	LibraryMismatch     *LibraryMismatch `json:"libraryMismatch,omitempty"`
	ClientStatus        ClientStatus     `json:"clientStatus,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// IsLinked reports whether the torrent has been materialized into a library.
func (t *Torrent) IsLinked() bool {
	return t.LibraryPath != ""
}

// IsReplaced reports whether another torrent superseded this one.
func (t *Torrent) IsReplaced() bool {
	return t.ReplacedWith != nil
}

func (t *Torrent) validate() error {
	if t.ID == "" {
		return errors.New("torrent id is required")
	}
	if t.ID != strings.ToLower(t.ID) {
		return fmt.Errorf("torrent id %q must be lowercase", t.ID)
	}
	if t.LibraryPath == "" && len(t.LibraryFiles) > 0 {
		return errors.New("library files recorded without library path")
	}
	return nil
}

// TorrentStore handles database operations for tracked torrents
type TorrentStore struct {
	db dbinterface.Querier
}

// NewTorrentStore creates a new TorrentStore
func NewTorrentStore(db dbinterface.Querier) *TorrentStore {
	return &TorrentStore{db: db}
}

const torrentColumns = `
	id, mam_id, title, meta, linker, category,
	selected_audio_format, selected_ebook_format,
	library_path, library_files, replaced_with, replaced_at,
	library_mismatch, client_status, created_at, updated_at`

// Get retrieves a torrent by content hash
func (s *TorrentStore) Get(ctx context.Context, id string) (*Torrent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+torrentColumns+` FROM torrents WHERE id = ?`, strings.ToLower(id))
	t, err := scanTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTorrentNotFound
	}
	return t, err
}

// GetByMamID retrieves the most recent torrent for a tracker id
func (s *TorrentStore) GetByMamID(ctx context.Context, mamID int64) (*Torrent, error) {
	if mamID <= 0 {
		return nil, ErrTorrentNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+torrentColumns+`
		FROM torrents
		WHERE mam_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, mamID)
	t, err := scanTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTorrentNotFound
	}
	return t, err
}

// Exists reports whether a torrent with the given id is tracked
func (s *TorrentStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM torrents WHERE id = ?`, strings.ToLower(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert inserts or fully replaces the stored state of a torrent.
// LibraryFiles are stored sorted.
func (s *TorrentStore) Upsert(ctx context.Context, t *Torrent) error {
	if t == nil {
		return errors.New("torrent is nil")
	}
	if err := t.validate(); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.MamID == 0 {
		t.MamID = t.Meta.MamID()
	}

	metaJSON, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	var filesJSON sql.NullString
	if len(t.LibraryFiles) > 0 {
		files := slices.Clone(t.LibraryFiles)
		slices.Sort(files)
		t.LibraryFiles = files
		data, err := json.Marshal(files)
		if err != nil {
			return fmt.Errorf("failed to marshal library_files: %w", err)
		}
		filesJSON = sql.NullString{String: string(data), Valid: true}
	}

	var mismatchJSON sql.NullString
	if t.LibraryMismatch != nil {
		data, err := json.Marshal(t.LibraryMismatch)
		if err != nil {
			return fmt.Errorf("failed to marshal library_mismatch: %w", err)
		}
		mismatchJSON = sql.NullString{String: string(data), Valid: true}
	}

	var replacedWith sql.NullString
	var replacedAt sql.NullTime
	if t.ReplacedWith != nil {
		replacedWith = nullString(t.ReplacedWith.ID)
		replacedAt = nullTime(&t.ReplacedWith.At)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO torrents (
			id, mam_id, title, meta, linker, category,
			selected_audio_format, selected_ebook_format,
			library_path, library_files, replaced_with, replaced_at,
			library_mismatch, client_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mam_id = excluded.mam_id,
			title = excluded.title,
			meta = excluded.meta,
			linker = excluded.linker,
			category = excluded.category,
			selected_audio_format = excluded.selected_audio_format,
			selected_ebook_format = excluded.selected_ebook_format,
			library_path = excluded.library_path,
			library_files = excluded.library_files,
			replaced_with = excluded.replaced_with,
			replaced_at = excluded.replaced_at,
			library_mismatch = excluded.library_mismatch,
			client_status = excluded.client_status
	`,
		t.ID, nullInt64(t.MamID), t.Title, string(metaJSON), nullString(t.Linker), nullString(t.Category),
		nullString(t.SelectedAudioFormat), nullString(t.SelectedEbookFormat),
		nullString(t.LibraryPath), filesJSON, replacedWith, replacedAt,
		mismatchJSON, nullString(string(t.ClientStatus)), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert torrent %s: %w", t.ID, err)
	}
	return nil
}

// List returns every tracked torrent ordered by creation time
func (s *TorrentStore) List(ctx context.Context) ([]*Torrent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+torrentColumns+` FROM torrents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTorrents(rows)
}

// ListByLinker returns torrents linked by the given client instance
func (s *TorrentStore) ListByLinker(ctx context.Context, linker string) ([]*Torrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+torrentColumns+`
		FROM torrents
		WHERE linker = ?
		ORDER BY created_at ASC, id ASC
	`, linker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTorrents(rows)
}

// Delete removes a torrent record
func (s *TorrentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM torrents WHERE id = ?`, strings.ToLower(id))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTorrent(row scannable) (*Torrent, error) {
	var t Torrent
	var mamID sql.NullInt64
	var metaJSON string
	var linker, category, audioFormat, ebookFormat sql.NullString
	var libraryPath, filesJSON, replacedWith, mismatchJSON, clientStatus sql.NullString
	var replacedAt sql.NullTime

	err := row.Scan(
		&t.ID, &mamID, &t.Title, &metaJSON, &linker, &category,
		&audioFormat, &ebookFormat,
		&libraryPath, &filesJSON, &replacedWith, &replacedAt,
		&mismatchJSON, &clientStatus, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.MamID = mamID.Int64
	t.Linker = linker.String
	t.Category = category.String
	t.SelectedAudioFormat = audioFormat.String
	t.SelectedEbookFormat = ebookFormat.String
	t.LibraryPath = libraryPath.String
	t.ClientStatus = ClientStatus(clientStatus.String)

	if err := json.Unmarshal([]byte(metaJSON), &t.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta for %s: %w", t.ID, err)
	}

	if filesJSON.Valid && filesJSON.String != "" {
		if err := json.Unmarshal([]byte(filesJSON.String), &t.LibraryFiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal library_files for %s: %w", t.ID, err)
		}
	}

	if mismatchJSON.Valid && mismatchJSON.String != "" {
		var m LibraryMismatch
		if err := json.Unmarshal([]byte(mismatchJSON.String), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal library_mismatch for %s: %w", t.ID, err)
		}
		t.LibraryMismatch = &m
	}

	if replacedWith.Valid {
		t.ReplacedWith = &Replacement{ID: replacedWith.String}
		if replacedAt.Valid {
			t.ReplacedWith.At = replacedAt.Time
		}
	}

	return &t, nil
}

func scanTorrents(rows *sql.Rows) ([]*Torrent, error) {
	var torrents []*Torrent

	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return torrents, nil
}
