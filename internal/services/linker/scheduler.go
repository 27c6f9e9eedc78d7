// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/pkg/debounce"
)

// Cycler runs one link cycle. *Service implements it.
type Cycler interface {
	LinkTorrentsToLibrary(ctx context.Context) (*CycleResult, error)
}

// Scheduler runs link cycles on an interval and, when watching is enabled,
// shortly after a download directory changes.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	debounce time.Duration
	watch    bool
	dirs     []string

	trigger chan struct{}
}

// NewScheduler creates a scheduler from the cycle settings in cfg.
func NewScheduler(cycler Cycler, cfg *config.Config) *Scheduler {
	var dirs []string
	for _, rule := range cfg.Libraries {
		if rule.Kind() == config.LibraryKindDownloadDir {
			dirs = append(dirs, rule.DownloadDir)
		}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		debounce: cfg.WatchDebounce,
		watch:    cfg.Watch,
		dirs:     dirs,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a cycle as soon as the current one, if any, finishes.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, running a cycle immediately and then on
// every tick or trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.watch && len(s.dirs) > 0 {
		stop, err := s.startWatcher(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("[LINKER] Filesystem watch disabled")
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.trigger:
			s.runCycle(ctx)
			ticker.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.cycler.LinkTorrentsToLibrary(ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) || ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("[LINKER] Link cycle failed")
	}
}

func (s *Scheduler) startWatcher(ctx context.Context) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := 0
	for _, dir := range s.dirs {
		if _, err := addWatchTree(watcher, dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("[LINKER] Cannot watch download directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil, errors.New("no download directory could be watched")
	}

	delay := s.debounce
	if delay <= 0 {
		delay = 30 * time.Second
	}
	debouncer := debounce.New(delay)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if _, err := addWatchTree(watcher, ev.Name); err != nil {
							log.Debug().Err(err).Str("dir", ev.Name).Msg("[LINKER] Cannot watch new directory")
						}
					}
				}
				log.Trace().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("[LINKER] Download directory changed")
				debouncer.Do(s.Trigger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("[LINKER] Watcher error")
			}
		}
	}()

	log.Info().Int("dirs", watched).Dur("debounce", delay).Msg("[LINKER] Watching download directories")

	return func() {
		_ = watcher.Close()
		<-done
		debouncer.Stop()
	}, nil
}

// addWatchTree watches root and every directory below it. fsnotify watches
// are not recursive. Unreadable subdirectories are skipped.
func addWatchTree(watcher *fsnotify.Watcher, root string) (int, error) {
	added := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Debug().Err(err).Str("dir", path).Msg("[LINKER] Skipping unreadable directory")
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			if path == root {
				return err
			}
			log.Debug().Err(err).Str("dir", path).Msg("[LINKER] Cannot watch directory")
			return fs.SkipDir
		}
		added++
		return nil
	})
	return added, err
}
