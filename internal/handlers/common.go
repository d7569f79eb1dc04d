// SPDX-License-Identifier: GPL-3.0-or-later

// Package handlers implements the per-tool command handlers of spec.md
// §4.4: validate options, start the tool (subprocess or in-process
// client), stream output through the matching parser and progress
// buffer, apply the safety filter at every resolved-address sighting,
// and always conclude with exactly one result event.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/globalping/probe-core/internal/config"
	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/exec"
	"github.com/globalping/probe-core/internal/netcore"
	"github.com/globalping/probe-core/internal/progress"
	"github.com/globalping/probe-core/internal/proto"
)

// Deps are the shared dependencies every handler needs.
type Deps struct {
	Config *config.Config
	Netcfg *netcore.Config
	Logger *slog.Logger

	// UnbufferPath is the subprocess wrapper used for line-buffered
	// interactive tools (ping, traceroute, mtr, dig); spec.md §6's
	// glossary entry "Unbuffer". Defaults to "unbuffer" on PATH.
	UnbufferPath string
}

// Unbuffer returns the configured unbuffer wrapper path, defaulting to
// "unbuffer" on PATH.
func (d *Deps) Unbuffer() string {
	if d.UnbufferPath != "" {
		return d.UnbufferPath
	}
	return "unbuffer"
}

// CommandsTimeout returns the configured subprocess wall-clock timeout,
// defaulting to config.DefaultCommandsTimeoutSeconds.
func (d *Deps) CommandsTimeout() time.Duration {
	if d.Config != nil && d.Config.CommandsTimeoutSeconds > 0 {
		return time.Duration(d.Config.CommandsTimeoutSeconds) * time.Second
	}
	return time.Duration(config.DefaultCommandsTimeoutSeconds) * time.Second
}

// Dispatch builds a lifecycle.Handler that sniffs the measurement kind
// and routes to the matching per-tool handler.
func Dispatch(deps *Deps) func(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest) {
	return func(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest) {
		kind, err := proto.Sniff(req.Measurement)
		if err != nil {
			finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
			return
		}

		switch kind {
		case proto.KindPing:
			handlePing(ctx, deps, session, req)
		case proto.KindTraceroute:
			handleTraceroute(ctx, deps, session, req)
		case proto.KindMTR:
			handleMTR(ctx, deps, session, req)
		case proto.KindDNS:
			handleDNS(ctx, deps, session, req)
		case proto.KindHTTP:
			handleHTTP(ctx, deps, session, req)
		default:
			finalize(ctx, session, req, proto.Failed("Invalid options: unknown measurement type"))
		}
	}
}

// finalize sends a bare final result with no preceding progress, used
// for validation failures that occur before any buffer exists (spec.md
// §4.4 step 1).
func finalize(ctx context.Context, session *coordinator.Session, req proto.MeasurementRequest, result any) {
	_ = session.SendResult(ctx, req.MeasurementID, req.TestID, result)
}

// ipFlag returns "-4" or "-6" for the subprocess argument vectors,
// defaulting to IPv4 when ipVersion is unset.
func ipFlag(ipVersion int) string {
	if ipVersion == 6 {
		return "-6"
	}
	return "-4"
}

// runTool spawns tool through the unbuffer wrapper with the configured
// commands timeout (spec.md §4.4 step 3).
func (d *Deps) runTool(ctx context.Context, onLine func(string), tool string, args ...string) exec.Result {
	full := append([]string{tool}, args...)
	return exec.Run(ctx, d.CommandsTimeout(), onLine, d.Unbuffer(), full...)
}

// netcoreLogger returns deps.Logger as a netcore.SLogger, or the
// package's no-op default if unset; *slog.Logger already satisfies the
// interface since its Debug/Info signatures match.
func netcoreLogger(d *Deps) netcore.SLogger {
	if d.Logger == nil {
		return netcore.DefaultSLogger()
	}
	return d.Logger
}

// sessionEmit adapts a progress.Buffer's emit callback to the session:
// the single Final envelope becomes a result event, everything else
// becomes a progress event gated on inProgressUpdates.
func sessionEmit(ctx context.Context, session *coordinator.Session, inProgressUpdates bool) func(progress.Envelope) {
	return func(e progress.Envelope) {
		if e.Final {
			_ = session.SendResult(ctx, e.MeasurementID, e.TestID, e.Result)
			return
		}
		if inProgressUpdates {
			_ = session.SendProgress(ctx, e.MeasurementID, e.TestID, e.Result, e.Overwrite)
		}
	}
}

