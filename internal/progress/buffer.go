// SPDX-License-Identifier: GPL-3.0-or-later

// Package progress implements the per-measurement rate limiter described in
// spec.md §4.2: it coalesces partial updates flowing to the coordinator,
// emitting the first update immediately and throttling subsequent ones to
// at most one every 500ms, without ever dropping information in append mode.
package progress

import (
	"sync"
	"time"
)

// Mode selects how pushed partial values are combined before emission.
type Mode int

const (
	// ModeAppend concatenates pushed values field-by-field: strings
	// concatenate, nested objects merge recursively, other scalars use
	// last-writer-wins. Used by ping, traceroute, dns, and http.
	ModeAppend Mode = iota

	// ModeOverwrite keeps only the latest pushed value and marks emitted
	// envelopes with Overwrite:true so the coordinator replaces prior
	// partial state. Used by mtr.
	ModeOverwrite

	// ModeDiff treats pushed values as monotone snapshots of a growing
	// string; emissions carry only the suffix since the last emission.
	// Used by the in-process TCP-ping renderer.
	ModeDiff
)

const interval = 500 * time.Millisecond

// Envelope is what the buffer hands to its emit callback: the progress or
// final result surrounded by the measurement identity the coordinator
// needs to route it.
type Envelope struct {
	MeasurementID string
	TestID        string
	Result        any
	Overwrite     bool
	Final         bool // true for the single PushResult emission
}

// Buffer serializes partial emissions for a single measurement. The zero
// value is not usable; construct with [NewBuffer].
type Buffer struct {
	mode          Mode
	measurementID string
	testID        string
	emit          func(Envelope)
	now           func() time.Time

	mu          sync.Mutex
	accumulated map[string]any // ModeAppend/ModeOverwrite buffered value
	diffSnapshot string        // ModeDiff: most recent full snapshot
	diffEmitted  int           // ModeDiff: bytes of diffSnapshot already emitted
	hasPending  bool
	firstSeen   bool
	timer       *time.Timer
	lastEmit    time.Time
	resultSent  bool
}

// NewBuffer constructs a [*Buffer] in the given mode. emit is invoked
// synchronously from whichever goroutine triggers the emission (the
// pushing goroutine for the first push, the internal timer goroutine for
// throttled flushes); callers needing serialized delivery to a shared
// transport must make emit itself safe for concurrent use or serialize at
// that layer (the coordinator session does the latter).
func NewBuffer(mode Mode, measurementID, testID string, emit func(Envelope)) *Buffer {
	return &Buffer{
		mode:          mode,
		measurementID: measurementID,
		testID:        testID,
		emit:          emit,
		now:           time.Now,
	}
}

// PushProgress pushes one partial update into the buffer, per the timing
// rule in spec.md §4.2: the first call emits immediately; subsequent
// calls accumulate and flush on a 500ms timer armed after the last
// emission.
func (b *Buffer) PushProgress(value map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultSent {
		return
	}

	b.accumulate(value)

	if !b.firstSeen {
		b.firstSeen = true
		b.flushLocked()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(interval-b.now().Sub(b.lastEmit), b.onTimer)
	}
}

func (b *Buffer) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timer = nil
	if b.resultSent || !b.hasPending {
		return
	}
	b.flushLocked()
}

// flushLocked emits the currently buffered content. Caller must hold mu.
func (b *Buffer) flushLocked() {
	var payload any
	overwrite := false

	switch b.mode {
	case ModeOverwrite:
		payload = b.accumulated
		overwrite = true
	case ModeDiff:
		payload = b.diffSnapshot[b.diffEmitted:]
		b.diffEmitted = len(b.diffSnapshot)
	default: // ModeAppend
		payload = b.accumulated
		b.accumulated = nil
	}

	b.hasPending = false
	b.lastEmit = b.now()
	b.emit(Envelope{
		MeasurementID: b.measurementID,
		TestID:        b.testID,
		Result:        payload,
		Overwrite:     overwrite,
	})
}

// accumulate folds value into the buffered state. Caller must hold mu.
func (b *Buffer) accumulate(value map[string]any) {
	b.hasPending = true

	switch b.mode {
	case ModeOverwrite:
		b.accumulated = value
	case ModeDiff:
		if raw, ok := value["rawOutput"].(string); ok {
			b.diffSnapshot = raw
		}
	default: // ModeAppend
		if b.accumulated == nil {
			b.accumulated = make(map[string]any, len(value))
		}
		mergeInto(b.accumulated, value)
	}
}

// mergeInto merges src into dst per the append-mode contract: strings
// concatenate, nested maps merge recursively, everything else is
// last-writer-wins.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch sv := v.(type) {
		case string:
			if es, ok := existing.(string); ok {
				dst[k] = es + sv
				continue
			}
			dst[k] = sv
		case map[string]any:
			if em, ok := existing.(map[string]any); ok {
				mergeInto(em, sv)
				continue
			}
			dst[k] = sv
		default:
			dst[k] = sv
		}
	}
}

// PushResult clears any pending buffered content (the final result
// subsumes it), cancels the timer, and emits the final event. Safe to
// call even if no progress was ever pushed. Subsequent calls to
// PushProgress or PushResult are no-ops, enforcing the one-result law
// (spec.md §8, property 1).
func (b *Buffer) PushResult(final any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resultSent {
		return
	}
	b.resultSent = true
	b.hasPending = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	b.emit(Envelope{
		MeasurementID: b.measurementID,
		TestID:        b.testID,
		Result:        final,
		Final:         true,
	})
}
