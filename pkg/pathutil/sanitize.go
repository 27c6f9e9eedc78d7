// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathutil builds filesystem safe names for library directories.
package pathutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxSegmentBytes is the longest name most filesystems accept for a single
// path component.
const MaxSegmentBytes = 255

var illegalChars = strings.NewReplacer(
	"<", "", ">", "", ":", "", `"`, "",
	"/", "", `\`, "", "|", "", "?", "", "*", "",
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizePathSegment turns s into a single path component that is valid on
// Linux, macOS and Windows. The result is NFC normalized, never empty and at
// most MaxSegmentBytes long.
func SanitizePathSegment(s string) string {
	s = norm.NFC.String(s)
	s = illegalChars.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = truncate(s, MaxSegmentBytes)
	s = strings.TrimRight(s, ". ")

	if s == "" {
		return "_"
	}

	base := s
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if reservedNames[strings.ToUpper(base)] {
		s = "_" + s
	}

	return s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
