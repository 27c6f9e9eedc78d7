// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/autobrr/shelf/internal/models"
)

var mainCategories = map[int]models.MediaType{
	13: models.MediaTypeAudiobook,
	14: models.MediaTypeEbook,
	15: models.MediaTypeMusicology,
	16: models.MediaTypeRadio,
}

// Bits of the browseflags field.
var browseFlags = []struct {
	bit  int
	name string
}{
	{1, "crude_language"},
	{2, "violence"},
	{4, "some_explicit"},
	{8, "explicit"},
	{16, "abridged"},
	{32, "lgbt"},
}

const addedLayout = "2006-01-02 15:04:05"

// ToMeta converts a search result into the canonical metadata record.
func (t *SearchTorrent) ToMeta() (*models.Meta, error) {
	authors, err := parseNameMap(t.AuthorInfo)
	if err != nil {
		return nil, fmt.Errorf("author_info: %w", err)
	}
	narrators, err := parseNameMap(t.NarratorInfo)
	if err != nil {
		return nil, fmt.Errorf("narrator_info: %w", err)
	}
	series, err := parseSeries(t.SeriesInfo)
	if err != nil {
		return nil, fmt.Errorf("series_info: %w", err)
	}

	var size models.Size
	if strings.TrimSpace(t.Size) != "" {
		size, err = models.ParseSize(t.Size)
		if err != nil {
			return nil, err
		}
	}

	mediaType, ok := mainCategories[t.MainCat]
	if !ok {
		mediaType = models.MediaType(fmt.Sprintf("unknown_%d", t.MainCat))
	}

	ids := map[string]string{models.IDMam: strconv.FormatInt(t.ID, 10)}
	if isbn := strings.TrimSpace(string(t.Isbn)); isbn != "" {
		ids[models.IDIsbn] = isbn
	}

	meta := &models.Meta{
		IDs:         ids,
		Title:       html.UnescapeString(t.Title),
		Description: t.Description,
		Authors:     authors,
		Narrators:   narrators,
		Series:      series,
		Language:    t.LangCode,
		FileTypes:   strings.Fields(strings.ToLower(t.FileType)),
		Size:        size,
		MediaType:   mediaType,
		Source:      models.MetadataSourceTracker,
	}

	if t.CatName != "" {
		meta.Categories = []string{t.CatName}
	}

	for _, f := range browseFlags {
		if t.BrowseFlags&f.bit != 0 {
			meta.Flags = append(meta.Flags, f.name)
		}
	}

	if added, err := time.Parse(addedLayout, t.Added); err == nil {
		meta.UploadedAt = &added
	}

	return meta, nil
}

// parseNameMap decodes {"<id>": "<name>"} ordered by numeric id.
func parseNameMap(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}

	keys := sortedIDKeys(m)
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if name := strings.TrimSpace(html.UnescapeString(m[k])); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// parseSeries decodes {"<id>": ["<name>", "<entries>", <float>]}.
func parseSeries(raw string) ([]models.Series, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var m map[string][]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}

	keys := sortedIDKeys(m)
	series := make([]models.Series, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if len(v) == 0 {
			continue
		}
		name := strings.TrimSpace(html.UnescapeString(fmt.Sprint(v[0])))
		if name == "" {
			continue
		}
		s := models.Series{Name: name}
		if len(v) > 1 && v[1] != nil {
			s.Entries = strings.TrimSpace(fmt.Sprint(v[1]))
		}
		series = append(series, s)
	}
	return series, nil
}

func sortedIDKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
