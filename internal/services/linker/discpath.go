// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var discDirPattern = regexp.MustCompile(`(?i)^(?:cd|disc|disk)\s*[-_.]?\s*0*(\d+)\b`)

// DiscPath maps a file path inside a torrent to its path relative to the
// book directory. The nearest ancestor directory named like "CD1", "Disc 02"
// or "disk-3" becomes "Disc N"; every other directory is dropped.
func DiscPath(torrentPath string) string {
	parts := strings.FieldsFunc(torrentPath, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return ""
	}

	name := parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		if n, ok := discNumber(parts[i]); ok {
			return path.Join("Disc "+strconv.Itoa(n), name)
		}
	}
	return name
}

func discNumber(dir string) (int, bool) {
	m := discDirPattern.FindStringSubmatch(strings.TrimSpace(dir))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
