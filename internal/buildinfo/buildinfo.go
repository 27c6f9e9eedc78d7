// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo exposes version metadata injected at link time.
package buildinfo

import (
	"fmt"
	"runtime"

	"github.com/goccy/go-json"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	// UserAgent is sent to the tracker and torrent clients.
	UserAgent string
)

func init() {
	UserAgent = fmt.Sprintf("shelf/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns a human readable multi-line version summary.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

// JSON returns the version metadata as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{Version, Commit, Date})
}
