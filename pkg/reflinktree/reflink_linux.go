// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build linux

// Package reflinktree creates copy-on-write clones of files.
package reflinktree

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	cloneRetries    = 5
	cloneRetryDelay = 10 * time.Millisecond
)

var (
	ioctlFileClone      = unix.IoctlFileClone
	ioctlFileCloneRange = unix.IoctlFileCloneRange
)

// Clone creates a reflink of src at dst. dst must not exist. On failure dst is
// removed and the error wraps the ioctl errno.
func Clone(src, dst string) (retErr error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		_ = dstFile.Close()
		if retErr != nil {
			_ = os.Remove(dst)
		}
	}()

	srcFd := int(srcFile.Fd())
	dstFd := int(dstFile.Fd())

	err = cloneWithRetry(dstFd, srcFd)
	if err == nil {
		return nil
	}
	if !shouldTryCloneRange(err) {
		return fmt.Errorf("ioctl FICLONE: %w", err)
	}

	cloneRange := unix.FileCloneRange{Src_fd: int64(srcFd)}
	if rangeErr := ioctlFileCloneRange(dstFd, &cloneRange); rangeErr != nil {
		return fmt.Errorf("ioctl FICLONERANGE: %w", rangeErr)
	}
	return nil
}

// cloneWithRetry retries FICLONE while the kernel reports EAGAIN, which
// happens when the source has pending writeback.
func cloneWithRetry(dstFd, srcFd int) error {
	var err error
	for attempt := range cloneRetries {
		err = ioctlFileClone(dstFd, srcFd)
		if !errors.Is(err, unix.EAGAIN) {
			return err
		}
		time.Sleep(cloneRetryDelay * time.Duration(attempt+1))
	}
	return err
}

func shouldTryCloneRange(err error) bool {
	return errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.ENOTTY) ||
		errors.Is(err, unix.ENOSYS)
}
