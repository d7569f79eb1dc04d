// SPDX-License-Identifier: GPL-3.0-or-later

// Package proto holds the wire-level data model shared between the
// coordinator transport, the lifecycle, and the command handlers: measurement
// requests, per-tool options, final result schemas, and the sentinel errors
// of spec.md §7.
package proto

import "encoding/json"

// MeasurementRequest is the payload of a probe:measurement:request event.
// It is immutable for the lifetime of a measurement (spec.md §3).
type MeasurementRequest struct {
	MeasurementID string          `json:"measurementId"`
	TestID        string          `json:"testId"`
	Measurement   json.RawMessage `json:"measurement"`
}

// MeasurementKind names the measurement type discriminator carried inside
// MeasurementRequest.Measurement.
type MeasurementKind string

const (
	KindPing        MeasurementKind = "ping"
	KindTraceroute  MeasurementKind = "traceroute"
	KindMTR         MeasurementKind = "mtr"
	KindDNS         MeasurementKind = "dns"
	KindHTTP        MeasurementKind = "http"
)

// kindEnvelope is used only to sniff the "type" discriminator before
// unmarshaling into the tool-specific options struct.
type kindEnvelope struct {
	Type MeasurementKind `json:"type"`
}

// Sniff extracts the measurement kind from a raw measurement payload.
func Sniff(raw json.RawMessage) (MeasurementKind, error) {
	var env kindEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// Status is the terminal state of a final result.
type Status string

const (
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)
