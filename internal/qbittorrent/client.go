// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent adapts go-qbittorrent to the linker's client interface.
package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/shelf/internal/config"
)

// WebAPI v2 shipped with qBittorrent 4.1; go-qbittorrent speaks nothing older.
var minWebAPIVersion = semver.MustParse("2.0.0")

// A listing failure triggers at most one re-login per interval.
const minReloginInterval = 30 * time.Second

type Client struct {
	*qbt.Client
	name string

	mu        sync.Mutex
	lastLogin time.Time
}

// NewClient logs in to the instance described by cfg and verifies its WebAPI version.
func NewClient(ctx context.Context, cfg config.ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(timeout.Seconds()),
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance %s: %w", cfg.Name, err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}
	if err := checkWebAPIVersion(webAPIVersion); err != nil {
		return nil, fmt.Errorf("qBittorrent instance %s: %w", cfg.Name, err)
	}

	client := &Client{
		Client:    qbtClient,
		name:      cfg.Name,
		lastLogin: time.Now(),
	}

	log.Debug().
		Str("client", cfg.Name).
		Str("host", cfg.URL).
		Str("webAPIVersion", webAPIVersion).
		Msg("qBittorrent client created successfully")

	return client, nil
}

// checkWebAPIVersion rejects instances older than WebAPI v2. An unknown
// version is allowed.
func checkWebAPIVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil
	}
	if v.LessThan(minWebAPIVersion) {
		return fmt.Errorf("unsupported WebAPI version %s, need %s or newer", version, minWebAPIVersion)
	}
	return nil
}

// Name is the configured instance name, recorded as the linker of torrents it links.
func (c *Client) Name() string {
	return c.name
}

// relogin refreshes an expired WebUI session.
func (c *Client) relogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastLogin) < minReloginInterval {
		return nil
	}
	if err := c.LoginCtx(ctx); err != nil {
		return fmt.Errorf("re-login to %s: %w", c.name, err)
	}
	c.lastLogin = time.Now()
	log.Debug().Str("client", c.name).Msg("qBittorrent session refreshed")
	return nil
}

// GetTorrents lists every torrent on the instance.
func (c *Client) GetTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		if loginErr := c.relogin(ctx); loginErr != nil {
			return nil, fmt.Errorf("list torrents on %s: %w", c.name, errors.Join(err, loginErr))
		}
		if torrents, err = c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{}); err != nil {
			return nil, fmt.Errorf("list torrents on %s: %w", c.name, err)
		}
	}
	return torrents, nil
}

// GetTorrent returns a single torrent by hash, or nil when the instance does not have it.
func (c *Client) GetTorrent(ctx context.Context, hash string) (*qbt.Torrent, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, fmt.Errorf("get torrent %s on %s: %w", hash, c.name, err)
	}
	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			return &torrents[i], nil
		}
	}
	return nil, nil
}

// GetFiles lists the files of a torrent.
func (c *Client) GetFiles(ctx context.Context, hash string) (qbt.TorrentFiles, error) {
	files, err := c.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get files of %s on %s: %w", hash, c.name, err)
	}
	if files == nil {
		return qbt.TorrentFiles{}, nil
	}
	return *files, nil
}

// GetTrackers returns the tracker connection diagnostics for a torrent.
func (c *Client) GetTrackers(ctx context.Context, hash string) ([]qbt.TorrentTracker, error) {
	trackers, err := c.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get trackers of %s on %s: %w", hash, c.name, err)
	}
	return trackers, nil
}

// AddTags adds tags to torrents without touching existing ones.
func (c *Client) AddTags(ctx context.Context, hashes []string, tags []string) error {
	if len(hashes) == 0 || len(tags) == 0 {
		return nil
	}
	if err := c.AddTagsCtx(ctx, hashes, strings.Join(tags, ",")); err != nil {
		return fmt.Errorf("add tags on %s: %w", c.name, err)
	}
	return nil
}

// SetCategory moves torrents to category.
func (c *Client) SetCategory(ctx context.Context, hashes []string, category string) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := c.SetCategoryCtx(ctx, hashes, category); err != nil {
		return fmt.Errorf("set category on %s: %w", c.name, err)
	}
	return nil
}

// SplitTags splits qBittorrent's comma separated tag list.
func SplitTags(tags string) []string {
	if strings.TrimSpace(tags) == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
