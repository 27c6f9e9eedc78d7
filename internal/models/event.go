// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/autobrr/shelf/internal/dbinterface"
)

type EventType string

const (
	EventTypeLinked             EventType = "linked"
	EventTypeCleaned            EventType = "cleaned"
	EventTypeUpdated            EventType = "updated"
	EventTypeRemovedFromTracker EventType = "removed_from_tracker"
	EventTypeGrabbed            EventType = "grabbed"
)

// EventPayload carries the type specific fields of an Event. Only the
// fields relevant to the event type are set.
type EventPayload struct {
	Linker      string         `json:"linker,omitempty"`
	LibraryPath string         `json:"library_path,omitempty"`
	Files       []string       `json:"files,omitempty"`
	Fields      []FieldDiff    `json:"fields,omitempty"`
	Source      MetadataSource `json:"source,omitempty"`
	Cost        string         `json:"cost,omitempty"`
	Wedged      bool           `json:"wedged,omitempty"`
}

// Event is an immutable fact about a torrent's lifecycle.
type Event struct {
	ID        string       `json:"id"`
	TorrentID string       `json:"torrentId,omitempty"`
	MamID     int64        `json:"mamId,omitempty"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
	CreatedAt time.Time    `json:"createdAt"`
}

func newEvent(torrentID string, mamID int64, typ EventType, payload EventPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		TorrentID: torrentID,
		MamID:     mamID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func NewLinkedEvent(t *Torrent, linker, libraryPath string) Event {
	return newEvent(t.ID, t.MamID, EventTypeLinked, EventPayload{Linker: linker, LibraryPath: libraryPath})
}

func NewCleanedEvent(t *Torrent, libraryPath string, files []string) Event {
	return newEvent(t.ID, t.MamID, EventTypeCleaned, EventPayload{LibraryPath: libraryPath, Files: slices.Clone(files)})
}

func NewUpdatedEvent(t *Torrent, fields []FieldDiff, source MetadataSource) Event {
	return newEvent(t.ID, t.MamID, EventTypeUpdated, EventPayload{Fields: fields, Source: source})
}

func NewRemovedFromTrackerEvent(t *Torrent) Event {
	return newEvent(t.ID, t.MamID, EventTypeRemovedFromTracker, EventPayload{})
}

func NewGrabbedEvent(hash string, mamID int64, cost string, wedged bool) Event {
	return newEvent(hash, mamID, EventTypeGrabbed, EventPayload{Cost: cost, Wedged: wedged})
}

// Valid reports whether the event can be stored.
func (e *Event) Valid() error {
	switch e.Type {
	case EventTypeLinked, EventTypeCleaned, EventTypeUpdated, EventTypeRemovedFromTracker, EventTypeGrabbed:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.TorrentID == "" && e.MamID == 0 {
		return errors.New("event has no torrent reference")
	}
	return nil
}

// EventStore is the append-only event log
type EventStore struct {
	db dbinterface.Querier
}

// NewEventStore creates a new EventStore
func NewEventStore(db dbinterface.Querier) *EventStore {
	return &EventStore{db: db}
}

const eventsInsertTemplate = `INSERT INTO events (id, torrent_id, mam_id, type, payload, created_at) VALUES %s`

// Insert appends events in a single statement.
func (s *EventStore) Insert(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*6)
	for i := range events {
		e := &events[i]
		if err := e.Valid(); err != nil {
			return err
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}

		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		args = append(args, e.ID, nullString(e.TorrentID), nullInt64(e.MamID), e.Type, string(payload), e.CreatedAt)
	}

	query := dbinterface.BuildQueryWithPlaceholders(eventsInsertTemplate, 6, len(events))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// ListByTorrent returns the history of one torrent, oldest first
func (s *EventStore) ListByTorrent(ctx context.Context, torrentID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_id, mam_id, type, payload, created_at
		FROM events
		WHERE torrent_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, torrentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the most recent events across all torrents
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_id, mam_id, type, payload, created_at
		FROM events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event

	for rows.Next() {
		var e Event
		var torrentID sql.NullString
		var mamID sql.NullInt64
		var payload string

		if err := rows.Scan(&e.ID, &torrentID, &mamID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.TorrentID = torrentID.String
		e.MamID = mamID.Int64
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload %s: %w", e.ID, err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
