// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/shelf/internal/config"
)

type countingCycler struct {
	runs atomic.Int32
}

func (c *countingCycler) LinkTorrentsToLibrary(context.Context) (*CycleResult, error) {
	c.runs.Add(1)
	return &CycleResult{}, nil
}

func runScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return cancel
}

func TestSchedulerRunsImmediatelyAndOnTrigger(t *testing.T) {
	cycler := &countingCycler{}
	s := NewScheduler(cycler, &config.Config{Interval: time.Hour})

	runScheduler(t, s)

	require.Eventually(t, func() bool { return cycler.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Trigger()
	require.Eventually(t, func() bool { return cycler.runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerTicks(t *testing.T) {
	cycler := &countingCycler{}
	s := NewScheduler(cycler, &config.Config{Interval: 20 * time.Millisecond})

	runScheduler(t, s)

	require.Eventually(t, func() bool { return cycler.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerWatchesDownloadDirs(t *testing.T) {
	dl := t.TempDir()
	cycler := &countingCycler{}
	cfg := &config.Config{
		Interval:      time.Hour,
		Watch:         true,
		WatchDebounce: 10 * time.Millisecond,
		Libraries: []config.LibraryRule{
			{DownloadDir: dl, LibraryDir: t.TempDir()},
			{RipDir: "/not/watched", LibraryDir: "/x"},
		},
	}

	s := NewScheduler(cycler, cfg)
	assert.Equal(t, []string{dl}, s.dirs)

	runScheduler(t, s)
	require.Eventually(t, func() bool { return cycler.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The watcher starts before the first cycle, so this write is observed.
	require.NoError(t, os.WriteFile(filepath.Join(dl, "new.m4b"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return cycler.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerWatchesNestedDownloadDirs(t *testing.T) {
	dl := t.TempDir()
	book := filepath.Join(dl, "Some Book", "CD1")
	require.NoError(t, os.MkdirAll(book, 0o755))

	cycler := &countingCycler{}
	cfg := &config.Config{
		Interval:      time.Hour,
		Watch:         true,
		WatchDebounce: 10 * time.Millisecond,
		Libraries:     []config.LibraryRule{{DownloadDir: dl, LibraryDir: t.TempDir()}},
	}

	runScheduler(t, NewScheduler(cycler, cfg))
	require.Eventually(t, func() bool { return cycler.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(book, "01.mp3"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return cycler.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestAddWatchTree(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a/b", "c"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "c", "file.m4b"), []byte("x"), 0o644))

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer watcher.Close()

	added, err := addWatchTree(watcher, root)
	require.NoError(t, err)
	assert.Equal(t, 4, added)
	assert.ElementsMatch(t, []string{
		root,
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "b"),
		filepath.Join(root, "c"),
	}, watcher.WatchList())

	_, err = addWatchTree(watcher, filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestSchedulerDefaultInterval(t *testing.T) {
	s := NewScheduler(&countingCycler{}, &config.Config{})
	assert.Equal(t, 10*time.Minute, s.interval)
}
