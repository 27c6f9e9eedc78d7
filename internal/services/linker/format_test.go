// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/shelf/internal/config"
)

func TestSelectFormats(t *testing.T) {
	tests := []struct {
		name  string
		audio []string
		ebook []string
		files []string
		want  FormatSelection
	}{
		{
			name:  "first ranked audio wins",
			audio: []string{"m4b", "mp3"},
			files: []string{"Book/01.mp3", "Book/Book.m4b"},
			want:  FormatSelection{Audio: "m4b"},
		},
		{
			name:  "falls through ranking",
			audio: []string{"m4b", "mp3"},
			files: []string{"Book/01.mp3", "Book/cover.jpg"},
			want:  FormatSelection{Audio: "mp3"},
		},
		{
			name:  "audio and ebook independently",
			audio: config.DefaultAudioTypes,
			ebook: config.DefaultEbookTypes,
			files: []string{"x/book.pdf", "x/book.epub", "x/book.m4b"},
			want:  FormatSelection{Audio: "m4b", Ebook: "epub"},
		},
		{
			name:  "ebook only",
			audio: config.DefaultAudioTypes,
			ebook: config.DefaultEbookTypes,
			files: []string{"book.azw3", "book.nfo"},
			want:  FormatSelection{Ebook: "azw3"},
		},
		{
			name:  "case insensitive extension",
			audio: []string{"mp3"},
			files: []string{"Track 01.MP3"},
			want:  FormatSelection{Audio: "mp3"},
		},
		{
			name:  "ranked entries normalized",
			audio: []string{".M4B"},
			files: []string{"a.m4b"},
			want:  FormatSelection{Audio: "m4b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectFormats(tt.audio, tt.ebook, tt.files)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectFormatsUnsupported(t *testing.T) {
	_, err := SelectFormats(config.DefaultAudioTypes, config.DefaultEbookTypes, []string{"movie.mkv", "readme.txt", "noext"})
	require.ErrorIs(t, err, ErrUnsupportedContent)

	_, err = SelectFormats(config.DefaultAudioTypes, config.DefaultEbookTypes, nil)
	require.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestFormatSelectionMatches(t *testing.T) {
	sel := FormatSelection{Audio: "mp3", Ebook: "epub"}

	assert.True(t, sel.Matches("CD1/01.MP3"))
	assert.True(t, sel.Matches("book.epub"))
	assert.False(t, sel.Matches("book.m4b"))
	assert.False(t, sel.Matches("mp3"))
	assert.False(t, FormatSelection{}.Matches("a."))
}
