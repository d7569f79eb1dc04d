// SPDX-License-Identifier: GPL-3.0-or-later

package progress_test

import (
	"sync"
	"testing"
	"time"

	"github.com/globalping/probe-core/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect() (*sync.Mutex, *[]progress.Envelope, func(progress.Envelope)) {
	var mu sync.Mutex
	var got []progress.Envelope
	return &mu, &got, func(e progress.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}
}

func TestBufferAppendFirstEmissionIsImmediate(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeAppend, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"rawOutput": "a"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 1)
	assert.Equal(t, "a", (*got)[0].Result.(map[string]any)["rawOutput"])
}

func TestBufferAppendConcatenatesAndThrottles(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeAppend, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"rawOutput": "a"})
	buf.PushProgress(map[string]any{"rawOutput": "b"})
	buf.PushProgress(map[string]any{"rawOutput": "c"})

	mu.Lock()
	require.Len(t, *got, 1, "throttled pushes must not emit before the timer fires")
	mu.Unlock()

	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 2)
	assert.Equal(t, "bc", (*got)[1].Result.(map[string]any)["rawOutput"])
}

func TestBufferResultClearsPendingAndIsTerminal(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeAppend, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"rawOutput": "a"})
	buf.PushProgress(map[string]any{"rawOutput": "b"})
	buf.PushResult(map[string]any{"status": "finished"})
	buf.PushProgress(map[string]any{"rawOutput": "late"})
	buf.PushResult(map[string]any{"status": "finished-again"})

	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 2, "no progress or result may follow PushResult")
	assert.Equal(t, "finished", (*got)[1].Result.(map[string]any)["status"])
}

func TestBufferOverwriteMarksEnvelopes(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeOverwrite, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"hop": 1})
	buf.PushProgress(map[string]any{"hop": 2})
	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 2)
	assert.True(t, (*got)[1].Overwrite)
	assert.Equal(t, 2, (*got)[1].Result.(map[string]any)["hop"])
}

func TestBufferDiffEmitsSuffix(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeDiff, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"rawOutput": "abc"})
	buf.PushProgress(map[string]any{"rawOutput": "abcdef"})
	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 2)
	assert.Equal(t, "abc", (*got)[0].Result)
	assert.Equal(t, "def", (*got)[1].Result)
	assert.False(t, (*got)[1].Overwrite)
}

func TestBufferTimerBoundIsAtLeast500ms(t *testing.T) {
	mu, got, emit := collect()
	buf := progress.NewBuffer(progress.ModeAppend, "m1", "t1", emit)

	buf.PushProgress(map[string]any{"rawOutput": "a"})
	t0 := time.Now()
	buf.PushProgress(map[string]any{"rawOutput": "b"})

	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 2)
	assert.GreaterOrEqual(t, time.Since(t0), 500*time.Millisecond)
}
