// SPDX-License-Identifier: GPL-3.0-or-later

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/globalping/probe-core/internal/proto"
)

// Session wraps a Transport with typed send/receive helpers for the
// events of spec.md §6. It holds no reconnect logic of its own; that is
// internal/lifecycle's job, which treats a Session as disposable and
// builds a fresh one on every reconnect attempt.
type Session struct {
	t Transport
}

// NewSession wraps an already-dialed Transport.
func NewSession(t Transport) *Session {
	return &Session{t: t}
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.t.Close()
}

// SendStatus emits probe:status:update.
func (s *Session) SendStatus(ctx context.Context, status string) error {
	return s.sendFrame(ctx, proto.EventStatusUpdate, proto.StatusUpdatePayload{Status: status})
}

// SendFamilySupport emits probe:isIPv4Supported:update /
// probe:isIPv6Supported:update.
func (s *Session) SendFamilySupport(ctx context.Context, ipv4, ipv6 bool) error {
	if err := s.sendFrame(ctx, proto.EventIPv4Support, proto.BoolUpdatePayload{Supported: ipv4}); err != nil {
		return err
	}
	return s.sendFrame(ctx, proto.EventIPv6Support, proto.BoolUpdatePayload{Supported: ipv6})
}

// SendAck emits probe:measurement:ack for a dispatched measurement.
func (s *Session) SendAck(ctx context.Context, measurementID, testID string) error {
	return s.sendFrame(ctx, proto.EventMeasurementAck, proto.AckPayload{MeasurementID: measurementID, TestID: testID})
}

// SendProgress emits probe:measurement:progress.
func (s *Session) SendProgress(ctx context.Context, measurementID, testID string, result any, overwrite bool) error {
	return s.sendFrame(ctx, proto.EventProgress, proto.ProgressPayload{
		MeasurementID: measurementID,
		TestID:        testID,
		Result:        result,
		Overwrite:     overwrite,
	})
}

// SendResult emits probe:measurement:result, the single terminal event
// for a measurement.
func (s *Session) SendResult(ctx context.Context, measurementID, testID string, result any) error {
	return s.sendFrame(ctx, proto.EventResult, proto.ResultPayload{
		MeasurementID: measurementID,
		TestID:        testID,
		Result:        result,
	})
}

func (s *Session) sendFrame(ctx context.Context, typ proto.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("coordinator: marshal %s payload: %w", typ, err)
	}
	return s.t.Send(ctx, proto.Frame{Type: typ, Payload: raw})
}

// Event is a decoded inbound frame: exactly one of its payload fields is
// non-nil, selected by Type.
type Event struct {
	Type         proto.EventType
	Measurement  *proto.MeasurementRequest
	Location     *proto.LocationPayload
	AdoptionCode *proto.AdoptionCodePayload
	APIError     *proto.APIErrorPayload
}

// ErrUnknownEvent is returned by Recv for an event type this probe does
// not understand; callers should log and continue rather than treat it
// as fatal, since the coordinator protocol may grow new event kinds.
type ErrUnknownEvent struct{ Type proto.EventType }

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("coordinator: unknown event %q", e.Type)
}

// Recv blocks for the next inbound frame and decodes it into an Event.
func (s *Session) Recv(ctx context.Context) (Event, error) {
	frame, err := s.t.Recv(ctx)
	if err != nil {
		return Event{}, err
	}

	switch frame.Type {
	case proto.EventMeasurementRequest:
		var req proto.MeasurementRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return Event{}, fmt.Errorf("coordinator: decode measurement request: %w", err)
		}
		return Event{Type: frame.Type, Measurement: &req}, nil

	case proto.EventConnectLocation:
		var loc proto.LocationPayload
		if err := json.Unmarshal(frame.Payload, &loc); err != nil {
			return Event{}, fmt.Errorf("coordinator: decode location: %w", err)
		}
		return Event{Type: frame.Type, Location: &loc}, nil

	case proto.EventSigkill:
		return Event{Type: frame.Type}, nil

	case proto.EventAdoptionCode:
		var code proto.AdoptionCodePayload
		if err := json.Unmarshal(frame.Payload, &code); err != nil {
			return Event{}, fmt.Errorf("coordinator: decode adoption code: %w", err)
		}
		return Event{Type: frame.Type, AdoptionCode: &code}, nil

	case proto.EventAPIError:
		var apiErr proto.APIErrorPayload
		if err := json.Unmarshal(frame.Payload, &apiErr); err != nil {
			return Event{}, fmt.Errorf("coordinator: decode api error: %w", err)
		}
		return Event{Type: frame.Type, APIError: &apiErr}, nil

	default:
		return Event{}, &ErrUnknownEvent{Type: frame.Type}
	}
}
