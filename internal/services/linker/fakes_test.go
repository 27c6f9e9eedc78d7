// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/internal/tracker"
)

const defaultTestTimeout = 5 * time.Second

type fakeProvider struct {
	mu     sync.Mutex
	byHash map[string]*models.Meta
	byID   map[int64]*models.Meta
	calls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byHash: make(map[string]*models.Meta),
		byID:   make(map[int64]*models.Meta),
	}
}

func (p *fakeProvider) TorrentByHash(_ context.Context, hash string) (*models.Meta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	m, ok := p.byHash[strings.ToLower(hash)]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	c := m.Clone()
	return &c, nil
}

func (p *fakeProvider) TorrentByID(_ context.Context, id int64) (*models.Meta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	m, ok := p.byID[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	c := m.Clone()
	return &c, nil
}

func (p *fakeProvider) set(hash string, meta *models.Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byHash[strings.ToLower(hash)] = meta
}

// barrierProvider holds every TorrentByHash call until n callers are waiting,
// then lets them all through at once.
type barrierProvider struct {
	*fakeProvider
	n int

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newBarrierProvider(p *fakeProvider, n int) *barrierProvider {
	return &barrierProvider{fakeProvider: p, n: n, release: make(chan struct{})}
}

func (b *barrierProvider) TorrentByHash(ctx context.Context, hash string) (*models.Meta, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	timer := time.NewTimer(defaultTestTimeout)
	defer timer.Stop()

	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("barrier: fewer concurrent lookups than expected")
	}
	return b.fakeProvider.TorrentByHash(ctx, hash)
}

type fakeClient struct {
	name string

	mu         sync.Mutex
	torrents   []qbt.Torrent
	files      map[string]qbt.TorrentFiles
	trackers   map[string][]qbt.TorrentTracker
	tags       map[string][]string
	categories map[string]string
	listErr    error
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{
		name:       name,
		files:      make(map[string]qbt.TorrentFiles),
		trackers:   make(map[string][]qbt.TorrentTracker),
		tags:       make(map[string][]string),
		categories: make(map[string]string),
	}
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) GetTorrents(context.Context) ([]qbt.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]qbt.Torrent, len(c.torrents))
	copy(out, c.torrents)
	return out, nil
}

func (c *fakeClient) GetTorrent(_ context.Context, hash string) (*qbt.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.torrents {
		if strings.EqualFold(c.torrents[i].Hash, hash) {
			t := c.torrents[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (c *fakeClient) GetFiles(_ context.Context, hash string) (qbt.TorrentFiles, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files[hash], nil
}

func (c *fakeClient) GetTrackers(_ context.Context, hash string) ([]qbt.TorrentTracker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackers[hash], nil
}

func (c *fakeClient) AddTags(_ context.Context, hashes []string, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hashes {
		c.tags[h] = append(c.tags[h], tags...)
	}
	return nil
}

func (c *fakeClient) SetCategory(_ context.Context, hashes []string, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hashes {
		c.categories[h] = category
	}
	return nil
}

// addTorrent registers a finished torrent whose files exist under savePath.
func (c *fakeClient) addTorrent(t *testing.T, hash, name, savePath, category string, files ...string) {
	t.Helper()

	tf := make(qbt.TorrentFiles, len(files))
	for i, f := range files {
		p := filepath.Join(savePath, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("content of "+f), 0o644))
		tf[i].Name = f
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.torrents = append(c.torrents, qbt.Torrent{
		Hash:     hash,
		Name:     name,
		SavePath: savePath,
		Category: category,
		Progress: 1,
	})
	c.files[hash] = tf
}

func (c *fakeClient) removeTorrent(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.torrents {
		if c.torrents[i].Hash == hash {
			c.torrents = append(c.torrents[:i], c.torrents[i+1:]...)
			return
		}
	}
}

func (c *fakeClient) update(hash string, fn func(t *qbt.Torrent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.torrents {
		if c.torrents[i].Hash == hash {
			fn(&c.torrents[i])
		}
	}
}

func testConfig(downloadDir, libraryDir string, method config.LinkMethod) *config.Config {
	return &config.Config{
		LinkConcurrency: 1,
		AudioTypes:      config.DefaultAudioTypes,
		EbookTypes:      config.DefaultEbookTypes,
		Tracker:         config.TrackerConfig{Timeout: time.Second, Retries: 1},
		Clients:         []config.ClientConfig{{Name: "qb"}},
		Libraries: []config.LibraryRule{{
			Name:        "audiobooks",
			DownloadDir: downloadDir,
			LibraryDir:  libraryDir,
			Method:      method,
		}},
	}
}

func bookMeta(mamID, title, author string) *models.Meta {
	return &models.Meta{
		IDs:       map[string]string{models.IDMam: mamID},
		Title:     title,
		Authors:   []string{author},
		MediaType: models.MediaTypeAudiobook,
		Source:    models.MetadataSourceTracker,
	}
}
