// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"path/filepath"
	"strings"

	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/pkg/pathutil"
)

// LibraryDir computes the book directory for meta under root:
//
//	root/Author/[Series/Series #N - ]Title[, Edition][ {Narrator}]
//
// It returns false when meta has no author or no title.
func LibraryDir(root string, meta *models.Meta, includeNarrator bool) (string, bool) {
	if meta == nil || root == "" {
		return "", false
	}

	author := firstNonEmpty(meta.Authors)
	title := strings.TrimSpace(meta.Title)
	if author == "" || title == "" {
		return "", false
	}

	parts := []string{root, pathutil.SanitizePathSegment(author)}

	name := title
	if s, ok := firstSeries(meta.Series); ok {
		parts = append(parts, pathutil.SanitizePathSegment(s.Name))
		name = s.String() + " - " + title
	}
	if edition := strings.TrimSpace(meta.Edition); edition != "" {
		name += ", " + edition
	}
	if includeNarrator {
		if narrators := nonEmpty(meta.Narrators); len(narrators) > 0 {
			name += " {" + strings.Join(narrators, ", ") + "}"
		}
	}

	parts = append(parts, pathutil.SanitizePathSegment(name))
	return filepath.Join(parts...), true
}

func firstSeries(series []models.Series) (models.Series, bool) {
	for _, s := range series {
		if strings.TrimSpace(s.Name) != "" {
			s.Name = strings.TrimSpace(s.Name)
			s.Entries = strings.TrimSpace(s.Entries)
			return s, true
		}
	}
	return models.Series{}, false
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
