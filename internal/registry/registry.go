// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry is the bounded in-flight job registry of the probe
// lifecycle's Job FSM: one entry per dispatched measurement, swept for
// leaks, drained on shutdown.
package registry

import (
	"context"
	"sync"
	"time"
)

// MaxAge is how long an entry may live before the sweeper considers it
// leaked and removes it (a defensive hedge; it does not stop the handler).
const MaxAge = 30 * time.Second

// SweepInterval is how often the sweeper runs.
const SweepInterval = 10 * time.Second

// DrainPollInterval is how often Drain polls for an empty registry.
const DrainPollInterval = 100 * time.Millisecond

// DrainDeadline bounds how long Drain waits before giving up.
const DrainDeadline = 60 * time.Second

// Registry tracks in-flight measurements by measurementId.
type Registry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]time.Time), now: time.Now}
}

// Insert records measurementId as started now. Unique key: measurementId.
func (r *Registry) Insert(measurementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[measurementID] = r.now()
}

// Delete removes measurementId, called on handler completion.
func (r *Registry) Delete(measurementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, measurementID)
}

// Len reports the number of in-flight entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep deletes entries older than maxAge, a leak hedge independent of
// whether the owning handler has actually completed.
func (r *Registry) Sweep(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []string
	now := r.now()
	for id, start := range r.entries {
		if now.Sub(start) > maxAge {
			swept = append(swept, id)
			delete(r.entries, id)
		}
	}
	return swept
}

// RunSweeper runs Sweep every SweepInterval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, onSwept func(measurementID string)) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.Sweep(MaxAge) {
				if onSwept != nil {
					onSwept(id)
				}
			}
		}
	}
}

// Drain waits for the registry to become empty, polling every
// DrainPollInterval, up to DrainDeadline. Returns false if the deadline
// elapsed with entries still in flight (the caller should force-exit).
func (r *Registry) Drain(ctx context.Context) bool {
	deadline := r.now().Add(DrainDeadline)
	ticker := time.NewTicker(DrainPollInterval)
	defer ticker.Stop()

	for {
		if r.Len() == 0 {
			return true
		}
		if r.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return r.Len() == 0
		case <-ticker.C:
		}
	}
}
