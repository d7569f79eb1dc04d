// SPDX-License-Identifier: GPL-3.0-or-later

package parse_test

import (
	"testing"

	"github.com/globalping/probe-core/internal/parse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tracerouteFixture = ` 1  gw.local (192.168.1.1)  0.529 ms  0.402 ms
 2  * *
 3  core1.example.net (203.0.113.9)  10.123 ms  10.456 ms
`

func TestParseTracerouteFixture(t *testing.T) {
	hops := parse.ParseTraceroute(tracerouteFixture, nil)

	require.Len(t, hops, 3)
	assert.Equal(t, 1, hops[0].Hop)
	assert.Equal(t, "192.168.1.1", hops[0].IP)
	require.Len(t, hops[0].Timings, 2)
	require.NotNil(t, hops[0].Timings[0])
	assert.Equal(t, 0.5, *hops[0].Timings[0])

	assert.Equal(t, 2, hops[1].Hop)
	require.Len(t, hops[1].Timings, 2)
	assert.Nil(t, hops[1].Timings[0])
	assert.Nil(t, hops[1].Timings[1])

	assert.Equal(t, "203.0.113.9", hops[2].IP)
}

type fakeASN struct{}

func (fakeASN) Lookup(ip string) []int { return []int{64500} }

func TestParseTracerouteWithASNLookup(t *testing.T) {
	hops := parse.ParseTraceroute(tracerouteFixture, fakeASN{})
	require.NotEmpty(t, hops)
	assert.Equal(t, []int{64500}, hops[0].ASN)
}

func TestParseTracerouteEveryPrefixDoesNotPanic(t *testing.T) {
	for k := 0; k <= len(tracerouteFixture); k++ {
		assert.NotPanics(t, func() {
			parse.ParseTraceroute(tracerouteFixture[:k], nil)
		})
	}
}
