// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package reflinktree

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned on platforms without a clone ioctl.
var ErrNotSupported = fmt.Errorf("reflink not supported on this platform: %w", errors.ErrUnsupported)

func Clone(_, _ string) error {
	return ErrNotSupported
}
