// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Identifier kinds carried in Meta.IDs.
const (
	IDMam       = "mam"
	IDIsbn      = "isbn"
	IDAsin      = "asin"
	IDGoodreads = "goodreads"
)

type MediaType string

const (
	MediaTypeAudiobook  MediaType = "audiobook"
	MediaTypeEbook      MediaType = "ebook"
	MediaTypeMusicology MediaType = "musicology"
	MediaTypeRadio      MediaType = "radio"
)

// Linkable reports whether torrents of this media type are materialized into a library.
func (m MediaType) Linkable() bool {
	switch m {
	case MediaTypeAudiobook, MediaTypeEbook, MediaTypeMusicology, MediaTypeRadio:
		return true
	default:
		return false
	}
}

type MetadataSource string

const (
	MetadataSourceTracker MetadataSource = "tracker"
	MetadataSourceManual  MetadataSource = "manual"
)

type Series struct {
	Name    string `json:"name"`
	Entries string `json:"entries,omitempty"`
}

func (s Series) String() string {
	if s.Entries == "" {
		return s.Name
	}
	return s.Name + " #" + s.Entries
}

// Meta is the canonical metadata record for a torrent.
type Meta struct {
	IDs         map[string]string `json:"ids,omitempty"`
	Title       string            `json:"title"`
	Edition     string            `json:"edition,omitempty"`
	Description string            `json:"description,omitempty"`
	Authors     []string          `json:"authors,omitempty"`
	Narrators   []string          `json:"narrators,omitempty"`
	Series      []Series          `json:"series,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Flags       []string          `json:"flags,omitempty"`
	Language    string            `json:"language,omitempty"`
	FileTypes   []string          `json:"file_types,omitempty"`
	Size        Size              `json:"size"`
	MediaType   MediaType         `json:"media_type"`
	Source      MetadataSource    `json:"source"`
	UploadedAt  *time.Time        `json:"uploaded_at,omitempty"`
}

// MamID returns the numeric tracker id, or 0 when unknown.
func (m *Meta) MamID() int64 {
	id, err := strconv.ParseInt(m.IDs[IDMam], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	c := m
	c.IDs = maps.Clone(m.IDs)
	c.Authors = slices.Clone(m.Authors)
	c.Narrators = slices.Clone(m.Narrators)
	c.Series = slices.Clone(m.Series)
	c.Categories = slices.Clone(m.Categories)
	c.Flags = slices.Clone(m.Flags)
	c.FileTypes = slices.Clone(m.FileTypes)
	if m.UploadedAt != nil {
		at := *m.UploadedAt
		c.UploadedAt = &at
	}
	return c
}

// FieldDiff describes one changed metadata field.
type FieldDiff struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Diff lists the fields that differ between m and other, in a stable order.
// Source and UploadedAt are bookkeeping and never reported.
func (m *Meta) Diff(other *Meta) []FieldDiff {
	var diffs []FieldDiff
	add := func(field, from, to string) {
		if from != to {
			diffs = append(diffs, FieldDiff{Field: field, From: from, To: to})
		}
	}

	add("title", m.Title, other.Title)
	add("edition", m.Edition, other.Edition)
	add("description", m.Description, other.Description)
	add("authors", strings.Join(m.Authors, ", "), strings.Join(other.Authors, ", "))
	add("narrators", strings.Join(m.Narrators, ", "), strings.Join(other.Narrators, ", "))
	add("series", joinSeries(m.Series), joinSeries(other.Series))
	add("categories", strings.Join(m.Categories, ", "), strings.Join(other.Categories, ", "))
	add("flags", strings.Join(m.Flags, ", "), strings.Join(other.Flags, ", "))
	add("language", m.Language, other.Language)
	add("file_types", strings.Join(m.FileTypes, ", "), strings.Join(other.FileTypes, ", "))
	add("size", m.Size.String(), other.Size.String())
	add("media_type", string(m.MediaType), string(other.MediaType))
	add("ids", formatIDs(m.IDs), formatIDs(other.IDs))

	return diffs
}

func joinSeries(series []Series) string {
	parts := make([]string, len(series))
	for i, s := range series {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

func formatIDs(ids map[string]string) string {
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + ids[k]
	}
	return strings.Join(parts, ", ")
}
