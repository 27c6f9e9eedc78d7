// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"errors"
	"path"
	"strings"
)

// ErrUnsupportedContent is returned when a torrent has no file in any of the
// accepted formats, or its metadata names a media type that is never linked.
var ErrUnsupportedContent = errors.New("unsupported content")

// FormatSelection holds the chosen audio and ebook extensions, lowercase and
// without the leading dot. Either may be empty.
type FormatSelection struct {
	Audio string
	Ebook string
}

// Empty reports whether neither kind was selected.
func (s FormatSelection) Empty() bool {
	return s.Audio == "" && s.Ebook == ""
}

// Matches reports whether name has one of the selected extensions.
func (s FormatSelection) Matches(name string) bool {
	ext := fileExt(name)
	if ext == "" {
		return false
	}
	return ext == s.Audio || ext == s.Ebook
}

// SelectFormats picks, independently for audio and ebook, the first ranked
// extension that at least one file carries.
func SelectFormats(audioTypes, ebookTypes []string, files []string) (FormatSelection, error) {
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		if ext := fileExt(f); ext != "" {
			present[ext] = struct{}{}
		}
	}

	sel := FormatSelection{
		Audio: firstPresent(audioTypes, present),
		Ebook: firstPresent(ebookTypes, present),
	}
	if sel.Empty() {
		return sel, ErrUnsupportedContent
	}
	return sel, nil
}

func firstPresent(ranked []string, present map[string]struct{}) string {
	for _, ext := range ranked {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if _, ok := present[ext]; ok {
			return ext
		}
	}
	return ""
}

func fileExt(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(name)), "."))
}
