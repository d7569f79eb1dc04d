// SPDX-License-Identifier: GPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/parse"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent []proto.Frame
}

func (f *fakeTransport) Send(ctx context.Context, frame proto.Frame) error {
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeTransport) Recv(ctx context.Context) (proto.Frame, error) { return proto.Frame{}, nil }
func (f *fakeTransport) Close() error                                  { return nil }

func newTestSession() (*coordinator.Session, *fakeTransport) {
	tr := &fakeTransport{}
	return coordinator.NewSession(tr), tr
}

func TestDispatchRejectsInvalidOptions(t *testing.T) {
	session, tr := newTestSession()
	deps := &Deps{}

	req := proto.MeasurementRequest{
		MeasurementID: "m1",
		TestID:        "t1",
		Measurement:   json.RawMessage(`{"type":"ping","packets":999,"target":"example.com"}`),
	}

	Dispatch(deps)(context.Background(), session, req)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, proto.EventResult, tr.sent[0].Type)

	var payload proto.ResultPayload
	require.NoError(t, json.Unmarshal(tr.sent[0].Payload, &payload))
	resultMap, ok := payload.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(proto.StatusFailed), resultMap["status"])
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	session, tr := newTestSession()
	deps := &Deps{}

	req := proto.MeasurementRequest{
		MeasurementID: "m1",
		TestID:        "t1",
		Measurement:   json.RawMessage(`{"type":"traceroute6000"}`),
	}

	Dispatch(deps)(context.Background(), session, req)
	require.Len(t, tr.sent, 1)
}

func TestPingResultFromParsedBuildsTimingsAndStats(t *testing.T) {
	out := parse.PingOutput{
		ResolvedAddress:  "93.184.216.34",
		ResolvedHostname: "example.com",
		HasHeader:        true,
		Timings:          []parse.PingTiming{{TTL: 58, RTT: 12.3}},
		Stats:            parse.PingStats{Min: 10, Max: 15, Avg: 12, Total: 3, Rcv: 3, Loss: 0, HasStats: true},
	}

	result := pingResultFromParsed(proto.StatusFinished, "raw", out)
	require.Len(t, result.Timings, 1)
	assert.Equal(t, 58, *result.Timings[0].TTL)
	assert.Equal(t, 12.3, *result.Timings[0].RTT)
	assert.Equal(t, "93.184.216.34", *result.ResolvedAddress)
	require.NotNil(t, result.Stats.Drop)
	assert.Equal(t, 0, *result.Stats.Drop)
}

func TestDNSResultHasPrivateAnswerDetectsPrivateA(t *testing.T) {
	out := parse.DNSOutput{
		Answers: []parse.DNSAnswer{{Name: "gitlab.test.com.", Type: "A", Value: "192.168.0.1", TTL: 300}},
	}
	assert.True(t, dnsResultHasPrivateAnswer(out))

	out2 := parse.DNSOutput{
		Answers: []parse.DNSAnswer{{Name: "example.com.", Type: "A", Value: "93.184.216.34", TTL: 300}},
	}
	assert.False(t, dnsResultHasPrivateAnswer(out2))
}
