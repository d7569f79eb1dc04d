// SPDX-License-Identifier: GPL-3.0-or-later

// Package lifecycle is the probe's process supervisor: it owns the
// coordinator Session FSM (spec.md §4.7), reconnects with bounded backoff
// on transport errors, re-announces status and family support on every
// reconnect, dispatches inbound measurement requests to handlers while
// tracking them in the job registry, and drains in-flight work on SIGTERM.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/registry"
	"github.com/globalping/probe-core/internal/status"
)

// State is the Session FSM state of spec.md §4.7.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSigterm      State = "sigterm"
)

// ReconnectMinInterval and ReconnectMaxInterval bound the backoff applied
// between connection attempts (spec.md §4.7: "bounded backoff (100-500 ms
// configured)").
const (
	ReconnectMinInterval = 100 * time.Millisecond
	ReconnectMaxInterval = 500 * time.Millisecond
)

// Dialer opens a fresh coordinator Session. Supervisor calls it once per
// connection attempt; a failed attempt returns a non-nil error and no
// session.
type Dialer func(ctx context.Context) (*coordinator.Session, error)

// Handler processes one dispatched measurement on its own goroutine,
// sending zero or more progress events and then exactly one result event
// via session before returning. It must never panic; the supervisor
// recovers and converts a panic into a ToolFailure result as a last
// resort, but a well-behaved handler reports its own failures.
type Handler func(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest)

// Supervisor drives the Session FSM.
type Supervisor struct {
	dial    Dialer
	handle  Handler
	reg     *registry.Registry
	self    *status.Machine
	logger  *slog.Logger

	state chan State // unbuffered: Stop blocks on the final transition
	stop  chan struct{}

	sessionMu sync.Mutex
	session   *coordinator.Session // set only while runConnected holds a live session
}

// New constructs a Supervisor. self is the self-test machine whose
// snapshots are re-announced on every reconnect and whenever they change
// while connected: New subscribes to self so a mid-connection status flip
// (family support gained or lost on the periodic retest) is sent to
// whichever session is currently connected, not just announced at
// connect time.
func New(dial Dialer, handle Handler, reg *registry.Registry, self *status.Machine, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		dial:   dial,
		handle: handle,
		reg:    reg,
		self:   self,
		logger: logger,
		state:  make(chan State),
		stop:   make(chan struct{}),
	}
	self.Subscribe(s.onStatusChange)
	return s
}

// onStatusChange re-announces a changed self-test snapshot to the
// currently connected session, if any. A nil session (disconnected or
// reconnecting) is a no-op: the next connection's runConnected announces
// the latest snapshot once it lands.
func (s *Supervisor) onStatusChange(snap status.Snapshot) {
	s.sessionMu.Lock()
	session := s.session
	s.sessionMu.Unlock()
	if session == nil {
		return
	}

	ctx := context.Background()
	if err := session.SendStatus(ctx, string(snap.State)); err != nil {
		return
	}
	_ = session.SendFamilySupport(ctx, snap.IPv4Support, snap.IPv6Support)
}

// Run drives the FSM until ctx is cancelled or Stop is called. It never
// returns until the registry has drained or DrainDeadline has elapsed.
func (s *Supervisor) Run(ctx context.Context) {
	go s.self.Run(ctx)

	for {
		select {
		case <-s.stop:
			s.drain(ctx)
			return
		case <-ctx.Done():
			s.drain(ctx)
			return
		default:
		}

		session, err := s.connectWithBackoff(ctx)
		if err != nil {
			// ctx was cancelled while backing off.
			s.drain(ctx)
			return
		}

		s.runConnected(ctx, session)
	}
}

// Stop requests an orderly shutdown: no further measurements are
// accepted, and Run returns once in-flight ones complete or
// registry.DrainDeadline elapses.
func (s *Supervisor) Stop() {
	close(s.stop)
}

func (s *Supervisor) connectWithBackoff(ctx context.Context) (*coordinator.Session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ReconnectMinInterval
	b.MaxInterval = ReconnectMaxInterval
	b.MaxElapsedTime = 0 // retry until ctx is cancelled or Stop is called

	var session *coordinator.Session
	operation := func() error {
		select {
		case <-s.stop:
			return backoff.Permanent(errors.New("lifecycle: stop requested"))
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}

		sess, err := s.dial(ctx)
		if err != nil {
			s.logger.Info("coordinator dial failed, retrying", "error", err)
			return err
		}
		session = sess
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return session, nil
}

// runConnected announces status and dispatches inbound events until the
// transport errors out or Stop/ctx cancellation is observed.
func (s *Supervisor) runConnected(ctx context.Context, session *coordinator.Session) {
	defer session.Close()

	snap := s.self.Current()
	if err := session.SendStatus(ctx, string(snap.State)); err != nil {
		return
	}
	if err := session.SendFamilySupport(ctx, snap.IPv4Support, snap.IPv6Support); err != nil {
		return
	}

	s.sessionMu.Lock()
	s.session = session
	s.sessionMu.Unlock()
	defer func() {
		s.sessionMu.Lock()
		s.session = nil
		s.sessionMu.Unlock()
	}()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		event, err := session.Recv(ctx)
		if err != nil {
			var unknown *coordinator.ErrUnknownEvent
			if errors.As(err, &unknown) {
				s.logger.Info("ignoring unknown coordinator event", "event", unknown.Type)
				continue
			}
			s.logger.Info("coordinator transport error, reconnecting", "error", err)
			return
		}

		s.handleEvent(ctx, session, event)
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, session *coordinator.Session, event coordinator.Event) {
	switch {
	case event.Measurement != nil:
		s.dispatch(ctx, session, *event.Measurement)
	case event.Location != nil:
		s.logger.Info("coordinator location", "city", event.Location.City, "country", event.Location.Country)
	case event.AdoptionCode != nil:
		s.logger.Info("probe adoption code", "code", event.AdoptionCode.Code)
	case event.APIError != nil:
		s.logger.Info("coordinator reported error", "code", event.APIError.Info.Code, "cause", event.APIError.Info.Cause)
	case event.Type == proto.EventSigkill:
		s.logger.Info("coordinator requested immediate exit")
		s.Stop()
	}
}

func (s *Supervisor) dispatch(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest) {
	select {
	case <-s.stop:
		return // draining: reject new work silently
	default:
	}

	if snap := s.self.Current(); snap.State != status.StateReady {
		s.logger.Info("dropping measurement, probe not ready", "measurementId", req.MeasurementID, "state", snap.State)
		return // not ready: no ack, no result
	}

	s.reg.Insert(req.MeasurementID)
	if err := session.SendAck(ctx, req.MeasurementID, req.TestID); err != nil {
		s.reg.Delete(req.MeasurementID)
		return
	}

	go func() {
		defer s.reg.Delete(req.MeasurementID)
		defer s.recoverPanic(ctx, session, req)
		s.handle(ctx, session, req)
	}()
}

// recoverPanic converts a handler panic into the ToolFailure result
// contract (spec.md §7: "no handler ever throws past its own frame").
func (s *Supervisor) recoverPanic(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest) {
	if r := recover(); r != nil {
		s.logger.Info("handler panicked, reporting ToolFailure", "measurementId", req.MeasurementID, "panic", r)
		_ = session.SendResult(ctx, req.MeasurementID, req.TestID, proto.Failed("measurement tool failed"))
	}
}

func (s *Supervisor) drain(ctx context.Context) {
	if ok := s.reg.Drain(ctx); !ok {
		s.logger.Info("drain deadline exceeded, forcing exit", "inFlight", s.reg.Len())
	}
}
