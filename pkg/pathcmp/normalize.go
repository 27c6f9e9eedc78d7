// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathcmp provides shared path normalization helpers used for
// cross-platform path comparisons. qBittorrent paths are generally forward-slashed,
// so we normalize using path semantics (not filepath).
package pathcmp

import (
	"path"
	"strings"
)

// NormalizePath normalizes a file path for comparison by:
// - Converting backslashes to forward slashes
// - Removing trailing slashes (preserving Windows drive roots like C:/)
// - Cleaning the path (removing . and .. where possible)
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	// Convert backslashes to forward slashes for cross-platform comparison.
	p = strings.ReplaceAll(p, "\\", "/")

	// Handle Windows drive paths specially to preserve C:/ (path.Clean turns it into C:).
	if len(p) >= 2 && ((p[0] >= 'A' && p[0] <= 'Z') || (p[0] >= 'a' && p[0] <= 'z')) && p[1] == ':' {
		drive := p[:2] // "C:"
		rest := p[2:]  // "/foo/bar" or "/" or "" (drive-relative)

		// Bare drive letter (C:) is drive-relative.
		if rest == "" {
			return drive
		}

		rest = path.Clean(rest)
		// Ensure drive root stays as C:/ not C:
		if rest == "/" || rest == "." {
			return drive + "/"
		}
		return drive + rest
	}

	// Non-Windows path: standard cleaning.
	p = path.Clean(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// HasPathPrefix reports whether p equals prefix or lies beneath it, comparing
// whole path components: "/data" matches "/data/x" but not "/data2".
func HasPathPrefix(p, prefix string) bool {
	p = NormalizePath(p)
	prefix = NormalizePath(prefix)
	if p == "" || prefix == "" {
		return false
	}
	if p == prefix {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(p, prefix)
	}
	return strings.HasPrefix(p, prefix+"/")
}

// Mapping rewrites paths under From to the same relative location under To.
type Mapping struct {
	From string
	To   string
}

// MapPath applies the mapping with the longest matching From prefix to p.
// It returns p normalized and false when no mapping applies.
func MapPath(p string, mappings []Mapping) (string, bool) {
	np := NormalizePath(p)

	best := -1
	bestLen := -1
	for i, m := range mappings {
		from := NormalizePath(m.From)
		if !HasPathPrefix(np, from) {
			continue
		}
		if len(from) > bestLen {
			best = i
			bestLen = len(from)
		}
	}
	if best < 0 {
		return np, false
	}

	from := NormalizePath(mappings[best].From)
	rest := strings.TrimPrefix(strings.TrimPrefix(np, from), "/")
	to := NormalizePath(mappings[best].To)
	if rest == "" {
		return to, true
	}
	return path.Join(to, rest), true
}
