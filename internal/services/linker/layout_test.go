// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/shelf/internal/models"
)

func TestLibraryDir(t *testing.T) {
	root := filepath.FromSlash("/lib")

	tests := []struct {
		name     string
		meta     models.Meta
		narrator bool
		want     string
	}{
		{
			name: "author and title",
			meta: models.Meta{Title: "Dune", Authors: []string{"Frank Herbert"}},
			want: "/lib/Frank Herbert/Dune",
		},
		{
			name: "series with entry",
			meta: models.Meta{
				Title:   "The Long Way to a Small, Angry Planet",
				Authors: []string{"Becky Chambers"},
				Series:  []models.Series{{Name: "Wayfarers", Entries: "1"}},
			},
			want: "/lib/Becky Chambers/Wayfarers/Wayfarers #1 - The Long Way to a Small, Angry Planet",
		},
		{
			name: "series without entry",
			meta: models.Meta{
				Title:   "Tales",
				Authors: []string{"A"},
				Series:  []models.Series{{Name: "Collected"}},
			},
			want: "/lib/A/Collected/Collected - Tales",
		},
		{
			name: "edition and narrators",
			meta: models.Meta{
				Title:     "Dune",
				Edition:   "Unabridged",
				Authors:   []string{"Frank Herbert", "Someone Else"},
				Narrators: []string{"Scott Brick", "Orlagh Cassidy"},
			},
			narrator: true,
			want:     "/lib/Frank Herbert/Dune, Unabridged {Scott Brick, Orlagh Cassidy}",
		},
		{
			name: "narrator excluded",
			meta: models.Meta{
				Title:     "Dune",
				Authors:   []string{"Frank Herbert"},
				Narrators: []string{"Scott Brick"},
			},
			want: "/lib/Frank Herbert/Dune",
		},
		{
			name:     "narrator flag without narrators",
			meta:     models.Meta{Title: "Dune", Authors: []string{"Frank Herbert"}},
			narrator: true,
			want:     "/lib/Frank Herbert/Dune",
		},
		{
			name: "unsafe characters sanitized",
			meta: models.Meta{Title: "What If?: Answers", Authors: []string{"AC/DC"}},
			want: "/lib/ACDC/What If Answers",
		},
		{
			name: "blank first author skipped",
			meta: models.Meta{Title: "T", Authors: []string{" ", "B"}},
			want: "/lib/B/T",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LibraryDir(root, &tt.meta, tt.narrator)
			assert.True(t, ok)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestLibraryDirNotComputable(t *testing.T) {
	_, ok := LibraryDir("/lib", &models.Meta{Title: "No Author"}, false)
	assert.False(t, ok)

	_, ok = LibraryDir("/lib", &models.Meta{Authors: []string{"No Title"}}, false)
	assert.False(t, ok)

	_, ok = LibraryDir("/lib", nil, false)
	assert.False(t, ok)

	_, ok = LibraryDir("", &models.Meta{Title: "T", Authors: []string{"A"}}, false)
	assert.False(t, ok)
}
