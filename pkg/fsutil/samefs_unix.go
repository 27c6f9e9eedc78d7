// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package fsutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

func sameFilesystem(path1, path2 string) (bool, error) {
	var st1, st2 unix.Stat_t
	if err := unix.Stat(path1, &st1); err != nil {
		return false, err
	}
	if err := unix.Stat(path2, &st2); err != nil {
		return false, err
	}
	return st1.Dev == st2.Dev, nil
}

func isUnsupportedErrno(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) ||
		errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EMLINK) ||
		errors.Is(err, unix.ENOSYS)
}
