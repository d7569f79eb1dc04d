// SPDX-License-Identifier: GPL-3.0-or-later

package proto

import "errors"

// Sentinel error kinds a handler can return from its validate/run path
// (spec.md §7). Handlers translate these into the fixed failed-result
// shapes rather than propagating raw tool errors to the coordinator.
var (
	// ErrInvalidOptions means the measurement request failed schema or
	// range validation before any probing started.
	ErrInvalidOptions = errors.New("invalid measurement options")

	// ErrPrivateIP means the target (or a resolved address) fell inside
	// a private, loopback, link-local, or otherwise reserved prefix.
	ErrPrivateIP = errors.New("private IP ranges are not allowed")

	// ErrTimeout means the measurement's wall-clock budget elapsed
	// before the underlying tool produced a final result.
	ErrTimeout = errors.New("measurement command timed out")

	// ErrToolFailure means the underlying subprocess or in-process tool
	// exited with a non-zero status or returned a transport error the
	// handler could not otherwise classify.
	ErrToolFailure = errors.New("measurement tool failed")

	// ErrTransport means the coordinator connection was lost or could
	// not be established; it never reaches a measurement result.
	ErrTransport = errors.New("transport error")
)
