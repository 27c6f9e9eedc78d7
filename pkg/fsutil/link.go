// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/autobrr/shelf/pkg/reflinktree"
)

// ErrUnsupported marks a link operation the filesystem cannot perform
// (cross-device, not permitted, not supported, too many links). Callers use
// it to decide whether a fallback strategy applies.
var ErrUnsupported = errors.New("link operation not supported")

type unsupportedError struct {
	op  string
	err error
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *unsupportedError) Unwrap() []error {
	return []error{ErrUnsupported, e.err}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnsupportedErrno(err) {
		return &unsupportedError{op: op, err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Hardlink creates dst as a hardlink to src.
func Hardlink(src, dst string) error {
	return classify("hardlink", os.Link(src, dst))
}

// Symlink creates dst as a symlink pointing at the absolute path of src.
func Symlink(src, dst string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	return classify("symlink", os.Symlink(abs, dst))
}

// Reflink creates dst as a copy-on-write clone of src.
func Reflink(src, dst string) error {
	return classify("reflink", reflinktree.Clone(src, dst))
}

// CopyFile copies src to dst byte for byte, preserving the permission bits,
// and syncs dst before returning. dst must not exist. A partial dst is
// removed on failure.
func CopyFile(src, dst string) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy: open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("copy: stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy: %s is not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copy: create destination: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("copy: sync: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy: close: %w", err)
	}
	return nil
}
