// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package hardlink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.m4b")
	link := filepath.Join(dir, "link.m4b")
	other := filepath.Join(dir, "other.m4b")

	require.NoError(t, os.WriteFile(src, []byte("audio"), 0o644))
	require.NoError(t, os.Link(src, link))
	require.NoError(t, os.WriteFile(other, []byte("audio"), 0o644))

	same, err := SameFile(src, link)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = SameFile(src, other)
	require.NoError(t, err)
	assert.False(t, same)

	_, err = SameFile(src, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	id, nlink, err := Stat(src)
	require.NoError(t, err)
	assert.False(t, id.IsZero())
	assert.Equal(t, uint64(2), nlink)
}
