// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

// Package hardlink identifies physical files so existing links can be recognized.
package hardlink

import (
	"errors"
	"os"
	"syscall"
)

// FileID uniquely identifies a physical file on disk: the (device, inode) pair.
// It is comparable and can be used as a map key.
type FileID struct {
	Dev uint64
	Ino uint64
}

// IsZero returns true if the FileID is the zero value (uninitialized).
func (f FileID) IsZero() bool {
	return f.Dev == 0 && f.Ino == 0
}

// GetFileID returns the FileID and link count for a file.
func GetFileID(fi os.FileInfo) (FileID, uint64, error) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return FileID{}, 0, errors.New("failed to get syscall.Stat_t")
	}
	return FileID{Dev: uint64(sys.Dev), Ino: sys.Ino}, uint64(sys.Nlink), nil //nolint:gosec,unconvert // Dev width differs per platform
}

// Stat returns the FileID and link count of the file at path without following
// a final symlink.
func Stat(path string) (FileID, uint64, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return FileID{}, 0, err
	}
	return GetFileID(fi)
}

// SameFile reports whether a and b are the same physical file, i.e. hardlinks
// of each other.
func SameFile(a, b string) (bool, error) {
	idA, _, err := Stat(a)
	if err != nil {
		return false, err
	}
	idB, _, err := Stat(b)
	if err != nil {
		return false, err
	}
	return idA == idB, nil
}
