// SPDX-License-Identifier: GPL-3.0-or-later

package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/globalping/probe-core/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransitionsToReadyWhenFamilySupported(t *testing.T) {
	var snapshots []status.Snapshot
	ping := func(ctx context.Context, target string, ipVersion int, packets int) bool {
		return ipVersion == 4 // only IPv4 succeeds
	}
	m := status.New(ping, func() bool { return true }, func(s status.Snapshot) {
		snapshots = append(snapshots, s)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.RunOnce(ctx)

	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, status.StateReady, last.State)
	assert.True(t, last.IPv4Support)
	assert.False(t, last.IPv6Support)
}

func TestUnbufferMissingBlocksReadiness(t *testing.T) {
	m := status.New(
		func(ctx context.Context, target string, ipVersion int, packets int) bool { return true },
		func() bool { return false },
		nil,
	)
	snap := m.RunOnce(context.Background())
	assert.Equal(t, status.StateUnbufferMissing, snap.State)
}
