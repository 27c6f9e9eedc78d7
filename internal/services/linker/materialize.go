// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package linker

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/shelf/internal/config"
	"github.com/autobrr/shelf/internal/models"
	"github.com/autobrr/shelf/pkg/fsutil"
	"github.com/autobrr/shelf/pkg/hardlink"
)

// SidecarName is the metadata file written into every book directory.
const SidecarName = "metadata.json"

// ErrDestinationExists is returned when a library file already exists and is
// not the source file or a copy of it.
var ErrDestinationExists = errors.New("destination exists with different content")

// LinkPlan maps one torrent file onto the library.
type LinkPlan struct {
	Source   string
	Dest     string
	Relative string
}

// BuildLinkPlans plans every file whose extension was selected. Paths in
// files are relative to savePath, which must be a local path.
func BuildLinkPlans(savePath, libDir string, files []string, sel FormatSelection) ([]LinkPlan, error) {
	plans := make([]LinkPlan, 0, len(files))
	seen := make(map[string]string, len(files))

	for _, name := range files {
		if !sel.Matches(name) {
			continue
		}

		rel := DiscPath(name)
		if prev, ok := seen[rel]; ok {
			return nil, fmt.Errorf("files %q and %q both map to %q", prev, name, rel)
		}
		seen[rel] = name

		plans = append(plans, LinkPlan{
			Source:   filepath.Join(savePath, filepath.FromSlash(name)),
			Dest:     filepath.Join(libDir, filepath.FromSlash(rel)),
			Relative: rel,
		})
	}

	if len(plans) == 0 {
		return nil, ErrUnsupportedContent
	}
	return plans, nil
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// libraryDirFor picks the book directory under root. With narrators
// excluded, an existing narrator-inclusive directory still wins.
func (s *Service) libraryDirFor(root string, meta *models.Meta) (string, bool) {
	include := !s.cfg.ExcludeNarratorInLibraryDir

	dir, ok := LibraryDir(root, meta, include)
	if !ok {
		return "", false
	}
	if include {
		return dir, true
	}

	withNarrator, ok := LibraryDir(root, meta, true)
	if ok && withNarrator != dir && isDir(withNarrator) {
		return withNarrator, true
	}
	return dir, true
}

// materialize links every planned file into libDir using the rule's method,
// writes the sidecar and returns the sorted relative paths. no_link rules
// touch nothing and return no files.
func (s *Service) materialize(rule *config.LibraryRule, libDir string, plans []LinkPlan, meta *models.Meta) ([]string, error) {
	if rule.Method == config.LinkMethodNoLink {
		return nil, nil
	}

	unlock := s.locks.Lock(libDir)
	defer unlock()

	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	method := rule.Method
	if len(plans) > 0 {
		method = effectiveMethod(method, plans[0].Source, libDir)
	}

	files := make([]string, 0, len(plans))
	for _, p := range plans {
		if err := os.MkdirAll(filepath.Dir(p.Dest), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		if err := linkFile(method, p.Source, p.Dest); err != nil {
			return nil, fmt.Errorf("link %s: %w", p.Relative, err)
		}
		files = append(files, filepath.ToSlash(p.Relative))
	}

	if err := writeSidecar(libDir, meta); err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

// effectiveMethod skips straight to the fallback of a combined method when
// src and the library are on different filesystems.
func effectiveMethod(method config.LinkMethod, src, libDir string) config.LinkMethod {
	var fallback config.LinkMethod
	switch method {
	case config.LinkMethodHardlinkOrCopy, config.LinkMethodReflinkOrCopy:
		fallback = config.LinkMethodCopy
	case config.LinkMethodHardlinkOrSymlink:
		fallback = config.LinkMethodSymlink
	default:
		return method
	}

	same, err := fsutil.SameFilesystem(src, libDir)
	if err != nil || same {
		return method
	}
	log.Debug().Str("source", src).Str("library", libDir).Msgf("[LINKER] Different filesystems, using %s", fallback)
	return fallback
}

func linkFile(method config.LinkMethod, src, dst string) error {
	done, err := alreadyLinked(method, src, dst)
	if err != nil || done {
		return err
	}

	switch method {
	case config.LinkMethodHardlink:
		return fsutil.Hardlink(src, dst)
	case config.LinkMethodCopy:
		return fsutil.CopyFile(src, dst)
	case config.LinkMethodSymlink:
		return fsutil.Symlink(src, dst)
	case config.LinkMethodReflink:
		return fsutil.Reflink(src, dst)
	case config.LinkMethodHardlinkOrCopy:
		return withFallback(fsutil.Hardlink, fsutil.CopyFile, "copy", src, dst)
	case config.LinkMethodHardlinkOrSymlink:
		return withFallback(fsutil.Hardlink, fsutil.Symlink, "symlink", src, dst)
	case config.LinkMethodReflinkOrCopy:
		return withFallback(fsutil.Reflink, fsutil.CopyFile, "copy", src, dst)
	default:
		return fmt.Errorf("unknown link method %q", method)
	}
}

func withFallback(primary, fallback func(string, string) error, name, src, dst string) error {
	err := primary(src, dst)
	if err == nil || !errors.Is(err, fsutil.ErrUnsupported) {
		return err
	}
	log.Debug().Err(err).Str("dest", dst).Msgf("[LINKER] Falling back to %s", name)
	return fallback(src, dst)
}

// alreadyLinked reports whether dst already holds src. An unrelated file at
// dst is an error and is never replaced.
func alreadyLinked(method config.LinkMethod, src, dst string) (bool, error) {
	dstInfo, err := os.Lstat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if dstInfo.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(dst)
		if err != nil {
			return false, err
		}
		absSrc, err := filepath.Abs(src)
		if err != nil {
			return false, err
		}
		if filepath.Clean(target) == absSrc {
			return true, nil
		}
		return false, fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	}

	same, err := hardlink.SameFile(src, dst)
	if err != nil {
		return false, err
	}
	if same {
		return true, nil
	}

	if copies(method) {
		srcInfo, err := os.Stat(src)
		if err != nil {
			return false, err
		}
		if dstInfo.Mode().IsRegular() && srcInfo.Size() == dstInfo.Size() {
			return true, nil
		}
	}
	return false, fmt.Errorf("%s: %w", dst, ErrDestinationExists)
}

func copies(method config.LinkMethod) bool {
	switch method {
	case config.LinkMethodCopy, config.LinkMethodHardlinkOrCopy, config.LinkMethodReflink, config.LinkMethodReflinkOrCopy:
		return true
	}
	return false
}

// sidecar follows the Audiobookshelf metadata.json field names.
type sidecar struct {
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Authors     []string `json:"authors"`
	Narrators   []string `json:"narrators"`
	Series      []string `json:"series"`
	Genres      []string `json:"genres"`
	Tags        []string `json:"tags"`
	Description string   `json:"description,omitempty"`
	Isbn        string   `json:"isbn,omitempty"`
	Asin        string   `json:"asin,omitempty"`
	Language    string   `json:"language,omitempty"`
	Abridged    bool     `json:"abridged"`
}

func newSidecar(meta *models.Meta) sidecar {
	sc := sidecar{
		Title:       meta.Title,
		Subtitle:    meta.Edition,
		Authors:     nonNil(meta.Authors),
		Narrators:   nonNil(meta.Narrators),
		Genres:      nonNil(meta.Categories),
		Tags:        nonNil(meta.Flags),
		Description: meta.Description,
		Isbn:        meta.IDs[models.IDIsbn],
		Asin:        meta.IDs[models.IDAsin],
		Language:    strings.ToLower(meta.Language),
		Abridged:    slices.Contains(meta.Flags, "abridged"),
		Series:      make([]string, 0, len(meta.Series)),
	}
	for _, s := range meta.Series {
		sc.Series = append(sc.Series, s.String())
	}
	return sc
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// writeSidecar writes metadata.json atomically, leaving an identical file alone.
func writeSidecar(dir string, meta *models.Meta) error {
	data, err := json.MarshalIndent(newSidecar(meta), "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	data = append(data, '\n')

	target := filepath.Join(dir, SidecarName)
	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// removeLibraryFiles deletes the recorded files and the sidecar under dir,
// then prunes empty directories up to, not including, stopAt.
func removeLibraryFiles(dir string, files []string, stopAt string) error {
	var errs []error
	for _, rel := range append(slices.Clone(files), SidecarName) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	dirs := map[string]struct{}{}
	for _, rel := range files {
		for d := filepath.Dir(filepath.Join(dir, filepath.FromSlash(rel))); strings.HasPrefix(d, dir); d = filepath.Dir(d) {
			dirs[d] = struct{}{}
			if d == dir {
				break
			}
		}
	}
	dirs[dir] = struct{}{}

	// Deepest first so parents are empty by the time they are reached.
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	slices.SortFunc(ordered, func(a, b string) int { return len(b) - len(a) })
	for _, d := range ordered {
		_ = os.Remove(d)
	}

	stopAt = filepath.Clean(stopAt)
	for d := filepath.Dir(dir); d != stopAt && strings.HasPrefix(d, stopAt+string(filepath.Separator)); d = filepath.Dir(d) {
		if err := os.Remove(d); err != nil {
			break
		}
	}

	return errors.Join(errs...)
}
