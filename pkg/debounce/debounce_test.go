// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_RunsOnce(t *testing.T) {
	d := New(30 * time.Millisecond)
	defer d.Stop()

	var runs, last atomic.Int32
	for i := range 5 {
		d.Do(func() {
			runs.Add(1)
			last.Store(int32(i))
		})
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int32(4), last.Load(), "latest submission wins")
}

func TestDebouncer_Queued(t *testing.T) {
	d := New(50 * time.Millisecond)
	defer d.Stop()

	assert.False(t, d.Queued())
	d.Do(func() {})
	assert.True(t, d.Queued())

	require.Eventually(t, func() bool { return !d.Queued() }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_WindowNotExtended(t *testing.T) {
	d := New(40 * time.Millisecond)
	defer d.Stop()

	var runs atomic.Int32
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.Do(func() { runs.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, runs.Load(), int32(2), "a steady stream still fires")
}

func TestDebouncer_StopFlushesPending(t *testing.T) {
	d := New(time.Hour)

	var runs atomic.Int32
	d.Do(func() { runs.Add(1) })
	d.Stop()
	assert.Equal(t, int32(1), runs.Load())

	d.Do(func() { runs.Add(1) })
	assert.Equal(t, int32(2), runs.Load(), "runs synchronously after stop")

	d.Stop()
	assert.Equal(t, int32(2), runs.Load())
}

func TestDebouncer_ZeroDelay(t *testing.T) {
	d := New(0)
	defer d.Stop()

	var runs atomic.Int32
	d.Do(func() { runs.Add(1) })

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
}
