// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands out isolated, already migrated databases to tests.
package testdb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/autobrr/shelf/internal/database"
)

type template struct {
	once sync.Once
	path string
	err  error
}

var (
	templatesMu sync.Mutex
	templates   = make(map[string]*template)
)

// Open returns a fresh database cloned from the migrated template for key.
// The database is closed when the test ends.
func Open(t *testing.T, key string) *database.DB {
	t.Helper()

	db, err := database.New(PathFromTemplate(t, key, "shelf.db"))
	if err != nil {
		t.Fatalf("open test DB %q: %v", key, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// PathFromTemplate returns a database file path inside t.TempDir holding a
// copy of the migrated template for key. Migrations run once per key.
func PathFromTemplate(t *testing.T, key, filename string) string {
	t.Helper()

	tpl := lookup(key)
	tpl.once.Do(func() {
		tpl.path, tpl.err = migrateTemplate(key)
	})
	if tpl.err != nil {
		t.Fatalf("prepare test DB template %q: %v", key, tpl.err)
	}

	dbPath := filepath.Join(t.TempDir(), filename)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := copyFile(tpl.path+suffix, dbPath+suffix, suffix != ""); err != nil {
			t.Fatalf("clone test DB template %q: %v", key, err)
		}
	}

	return dbPath
}

func lookup(key string) *template {
	templatesMu.Lock()
	defer templatesMu.Unlock()

	tpl, ok := templates[key]
	if !ok {
		tpl = &template{}
		templates[key] = tpl
	}
	return tpl
}

func migrateTemplate(key string) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("shelf-%s-template-", sanitizeKey(key)))
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		return "", err
	}
	return path, db.Close()
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "testdb"
	}

	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, key)
}

func copyFile(src, dst string, optional bool) error {
	in, err := os.Open(src)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
