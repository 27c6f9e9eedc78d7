// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"errors"
	"slices"
	"strings"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/pkg/pathcmp"
)

// ErrNoLibrary means no configured library accepts the torrent yet.
var ErrNoLibrary = errors.New("no matching library")

// ResolveLibrary returns the first rule, in configured order, whose path or
// category predicate and tag filter both accept the torrent. savePath must
// already be mapped to the local filesystem. Rip directory rules are never
// returned.
func ResolveLibrary(rules []config.LibraryRule, savePath, category string, tags []string) *config.LibraryRule {
	for i := range rules {
		rule := &rules[i]

		switch rule.Kind() {
		case config.LibraryKindRipDir:
			continue
		case config.LibraryKindDownloadDir:
			if savePath == "" || !pathcmp.HasPathPrefix(savePath, rule.DownloadDir) {
				continue
			}
		case config.LibraryKindCategory:
			if rule.Category == "" || rule.Category != category {
				continue
			}
		}

		if tagsAccepted(rule, tags) {
			return rule
		}
	}
	return nil
}

func tagsAccepted(rule *config.LibraryRule, tags []string) bool {
	has := func(want string) bool {
		return slices.ContainsFunc(tags, func(t string) bool {
			return strings.EqualFold(strings.TrimSpace(t), want)
		})
	}

	for _, deny := range rule.DenyTags {
		if has(deny) {
			return false
		}
	}
	if len(rule.AllowTags) == 0 {
		return true
	}
	return slices.ContainsFunc(rule.AllowTags, has)
}
