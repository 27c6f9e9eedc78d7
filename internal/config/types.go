// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	DataDir      string `mapstructure:"data_dir"`
	DatabasePath string `mapstructure:"database_path"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogPath       string `mapstructure:"log_path"`
	LogMaxSize    int    `mapstructure:"log_max_size"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Interval between link cycles. Watch triggers an early cycle when a
	// download directory changes, at most once per WatchDebounce.
	Interval      time.Duration `mapstructure:"interval"`
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`

	LinkConcurrency             int      `mapstructure:"link_concurrency"`
	ExcludeNarratorInLibraryDir bool     `mapstructure:"exclude_narrator_in_library_dir"`
	AudioTypes                  []string `mapstructure:"audio_types"`
	EbookTypes                  []string `mapstructure:"ebook_types"`

	OnInvalid OnInvalidConfig `mapstructure:"on_invalid"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Clients   []ClientConfig  `mapstructure:"clients"`
	Libraries []LibraryRule   `mapstructure:"libraries"`
}

// OnInvalidConfig is applied to a client torrent whose content cannot be linked.
type OnInvalidConfig struct {
	Category string   `mapstructure:"category"`
	Tags     []string `mapstructure:"tags"`
}

// Enabled reports whether any remediation is configured.
func (o OnInvalidConfig) Enabled() bool {
	return o.Category != "" || len(o.Tags) > 0
}

// TrackerConfig holds tracker search API connection details
type TrackerConfig struct {
	URL     string        `mapstructure:"url"`
	MamID   string        `mapstructure:"mam_id"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries uint          `mapstructure:"retries"`
}

// PathMapping rewrites a client-side path prefix to the local equivalent.
type PathMapping struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// ClientConfig holds one qBittorrent instance. Name doubles as the linker
// recorded on torrents it links.
type ClientConfig struct {
	Name         string        `mapstructure:"name"`
	URL          string        `mapstructure:"url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PathMappings []PathMapping `mapstructure:"path_mappings"`
}

type LibraryKind string

const (
	LibraryKindDownloadDir LibraryKind = "download_dir"
	LibraryKindCategory    LibraryKind = "category"
	LibraryKindRipDir      LibraryKind = "rip_dir"
)

type LinkMethod string

const (
	LinkMethodHardlink          LinkMethod = "hardlink"
	LinkMethodCopy              LinkMethod = "copy"
	LinkMethodHardlinkOrCopy    LinkMethod = "hardlink_or_copy"
	LinkMethodHardlinkOrSymlink LinkMethod = "hardlink_or_symlink"
	LinkMethodSymlink           LinkMethod = "symlink"
	LinkMethodReflink           LinkMethod = "reflink"
	LinkMethodReflinkOrCopy     LinkMethod = "reflink_or_copy"
	LinkMethodNoLink            LinkMethod = "no_link"
)

var validLinkMethods = map[LinkMethod]bool{
	LinkMethodHardlink:          true,
	LinkMethodCopy:              true,
	LinkMethodHardlinkOrCopy:    true,
	LinkMethodHardlinkOrSymlink: true,
	LinkMethodSymlink:           true,
	LinkMethodReflink:           true,
	LinkMethodReflinkOrCopy:     true,
	LinkMethodNoLink:            true,
}

// LibraryRule routes finished torrents into a library. Exactly one of
// DownloadDir, Category or RipDir is set.
type LibraryRule struct {
	Name        string     `mapstructure:"name"`
	DownloadDir string     `mapstructure:"download_dir"`
	Category    string     `mapstructure:"category"`
	RipDir      string     `mapstructure:"rip_dir"`
	AllowTags   []string   `mapstructure:"allow_tags"`
	DenyTags    []string   `mapstructure:"deny_tags"`
	LibraryDir  string     `mapstructure:"library_dir"`
	Method      LinkMethod `mapstructure:"method"`
	AudioTypes  []string   `mapstructure:"audio_types"`
	EbookTypes  []string   `mapstructure:"ebook_types"`
}

func (r *LibraryRule) Kind() LibraryKind {
	switch {
	case r.RipDir != "":
		return LibraryKindRipDir
	case r.DownloadDir != "":
		return LibraryKindDownloadDir
	default:
		return LibraryKindCategory
	}
}

// DisplayName returns Name, falling back to the value the rule matches on.
func (r *LibraryRule) DisplayName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.DownloadDir != "":
		return r.DownloadDir
	case r.Category != "":
		return r.Category
	default:
		return r.RipDir
	}
}
