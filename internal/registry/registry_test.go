// SPDX-License-Identifier: GPL-3.0-or-later

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/globalping/probe-core/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDeleteLen(t *testing.T) {
	r := registry.New()
	r.Insert("m1")
	r.Insert("m2")
	assert.Equal(t, 2, r.Len())
	r.Delete("m1")
	assert.Equal(t, 1, r.Len())
}

func TestSweepRemovesOldEntries(t *testing.T) {
	r := registry.New()
	r.Insert("old")
	time.Sleep(20 * time.Millisecond)
	r.Insert("fresh")

	swept := r.Sweep(10 * time.Millisecond)
	require.Len(t, swept, 1)
	assert.Equal(t, "old", swept[0])
	assert.Equal(t, 1, r.Len())
}

func TestDrainReturnsTrueWhenEmpty(t *testing.T) {
	r := registry.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, r.Drain(ctx))
}
