// SPDX-License-Identifier: GPL-3.0-or-later

package proto

import "encoding/json"

// EventType names the coordinator wire events of spec.md §6.
type EventType string

const (
	// Inbound (coordinator -> probe).
	EventConnectLocation    EventType = "api:connect:location"
	EventMeasurementRequest EventType = "probe:measurement:request"
	EventSigkill            EventType = "probe:sigkill"
	EventAdoptionCode       EventType = "probe:adoption:code"
	EventAPIError           EventType = "api:error"

	// Outbound (probe -> coordinator).
	EventStatusUpdate   EventType = "probe:status:update"
	EventIPv4Support    EventType = "probe:isIPv4Supported:update"
	EventIPv6Support    EventType = "probe:isIPv6Supported:update"
	EventMeasurementAck EventType = "probe:measurement:ack"
	EventProgress       EventType = "probe:measurement:progress"
	EventResult         EventType = "probe:measurement:result"
)

// Frame is the envelope every coordinator event is wrapped in, regardless
// of direction. Payload is re-unmarshaled by the caller once Type is known.
type Frame struct {
	Type    EventType       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ProgressPayload is the payload of an EventProgress frame.
type ProgressPayload struct {
	MeasurementID string `json:"measurementId"`
	TestID        string `json:"testId"`
	Result        any    `json:"result"`
	Overwrite     bool   `json:"overwrite,omitempty"`
}

// ResultPayload is the payload of an EventResult frame.
type ResultPayload struct {
	MeasurementID string `json:"measurementId"`
	TestID        string `json:"testId"`
	Result        any    `json:"result"`
}

// AckPayload is the payload of an EventMeasurementAck frame: the
// probe's acknowledgement that a dispatched measurement was accepted
// into its registry. Sent as a bare null on the wire in callback-style
// transports; kept as a struct here for symmetry with the other
// payloads even though both fields are usually redundant with the
// request that triggered it.
type AckPayload struct {
	MeasurementID string `json:"measurementId"`
	TestID        string `json:"testId"`
}

// HandshakeParams are the query parameters sent on every (re)connect,
// per spec.md §6. They are not a Frame payload: the transport encodes
// them into the connection URL, not an event.
type HandshakeParams struct {
	Version     string
	NodeVersion string
	UUID        string
	FakeIP      string // empty when unset
}

// StatusUpdatePayload is the payload of an EventStatusUpdate frame,
// carrying the probe's current self-test state (spec.md §5).
type StatusUpdatePayload struct {
	Status string `json:"status"` // "ready", "unbuffer-missing", "ping-test-failed", ...
}

// BoolUpdatePayload is the payload of EventIPv4Support/EventIPv6Support
// frames: a bare boolean, wrapped so it travels through the same
// Frame/Payload envelope as every other event.
type BoolUpdatePayload struct {
	Supported bool `json:"supported"`
}

// LocationPayload is the payload of an inbound EventConnectLocation
// frame.
type LocationPayload struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Continent string  `json:"continent"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AdoptionCodePayload is the payload of an inbound EventAdoptionCode
// frame, logged for the operator.
type AdoptionCodePayload struct {
	Code string `json:"code"`
}

// APIErrorPayload is the payload of an inbound EventAPIError frame.
type APIErrorPayload struct {
	Info struct {
		Code  string `json:"code"`
		Probe string `json:"probe,omitempty"`
		Cause string `json:"cause,omitempty"`
	} `json:"info"`
}
