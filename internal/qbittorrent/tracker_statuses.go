// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"regexp"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

var unregisteredPatterns = []string{
	"unregistered",
	"not registered",
	"torrent not found",
	"torrent does not exist",
	"this torrent does not exist",
	"unknown torrent",
	"infohash not found",
	"trumped",
	"nuked",
	"torrent is dead",
	"has been deleted",
	"retitled",
	"complete season uploaded",
	"i'm sorry dave, i can't do that",
}

var downPatterns = []string{
	"down",
	"forbidden",
	"unavailable",
	"bad gateway",
	"timed out",
	"timeout",
	"maintenance",
	"unreachable",
	"internal server error",
}

// stripURLs removes URLs so words inside them (".../forbidden-planet") are not
// mistaken for status text.
func stripURLs(message string) string {
	return urlPattern.ReplaceAllString(message, " ")
}

// TrackerMessageMatchesUnregistered reports whether a tracker message says the
// torrent is no longer registered with the tracker.
func TrackerMessageMatchesUnregistered(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}
	for _, p := range unregisteredPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// TrackerMessageMatchesDown reports whether a tracker message describes the
// tracker itself being unreachable. Text inside URLs is ignored.
func TrackerMessageMatchesDown(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(stripURLs(message)))
	if msg == "" {
		return false
	}
	for _, p := range downPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRealTracker filters out qBittorrent's pseudo trackers (DHT, PeX, LSD).
func IsRealTracker(tracker qbt.TorrentTracker) bool {
	u := strings.ToLower(tracker.Url)
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "udp://")
}

// TrackersReportUnregistered reports whether the most recent signal from a
// real tracker is "not registered". A tracker that is updating or not yet
// contacted carries no signal.
func TrackersReportUnregistered(trackers []qbt.TorrentTracker) bool {
	for _, tr := range trackers {
		if !IsRealTracker(tr) {
			continue
		}
		switch tr.Status {
		case qbt.TrackerStatusUpdating, qbt.TrackerStatusNotContacted, qbt.TrackerStatusDisabled:
			continue
		}
		if TrackerMessageMatchesUnregistered(tr.Message) {
			return true
		}
	}
	return false
}
