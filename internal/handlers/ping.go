// SPDX-License-Identifier: GPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/parse"
	"github.com/globalping/probe-core/internal/progress"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/resolve"
	"github.com/globalping/probe-core/internal/safety"
	"github.com/globalping/probe-core/internal/tcping"
)

func handlePing(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest) {
	var opts proto.PingOptions
	if err := json.Unmarshal(req.Measurement, &opts); err != nil {
		finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
		return
	}
	if opts.Packets == 0 {
		opts.Packets = proto.DefaultPingPackets
	}
	if opts.Packets < proto.MinPingPackets || opts.Packets > proto.MaxPingPackets {
		finalize(ctx, session, req, proto.Failed(fmt.Sprintf("Invalid options: packets must be between %d and %d", proto.MinPingPackets, proto.MaxPingPackets)))
		return
	}
	if opts.Target == "" {
		finalize(ctx, session, req, proto.Failed("Invalid options: target is required"))
		return
	}

	if strings.EqualFold(opts.Protocol, "tcp") {
		handleTCPPing(ctx, deps, session, req, opts)
		return
	}
	handleICMPPing(ctx, deps, session, req, opts)
}

func handleICMPPing(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest, opts proto.PingOptions) {
	buf := progress.NewBuffer(progress.ModeAppend, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	args := []string{ipFlag(opts.IPVersion), "-O", "-c", itoa(opts.Packets), "-i", "0.5", "-w", "10", opts.Target}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var mu sync.Mutex
	var aborted bool
	onLine := func(line string) {
		mu.Lock()
		if aborted {
			mu.Unlock()
			return
		}
		mu.Unlock()

		out := parse.ParsePing(line)
		if out.ResolvedAddress != "" && safety.IsPrivate(out.ResolvedAddress) {
			mu.Lock()
			aborted = true
			mu.Unlock()
			abort()
			return
		}
		buf.PushProgress(map[string]any{"rawOutput": line + "\n"})
	}

	res := deps.runTool(runCtx, onLine, "ping", args...)

	mu.Lock()
	isAborted := aborted
	mu.Unlock()
	if isAborted {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	out := parse.ParsePing(res.Stdout)
	if !out.HasHeader {
		buf.PushResult(proto.Failed(res.Stdout))
		return
	}
	if safety.IsPrivate(out.ResolvedAddress) {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	rawOutput := res.Stdout
	status := proto.StatusFinished
	if res.TimedOut {
		rawOutput += proto.TimeoutSuffix
		status = proto.StatusFailed
	}

	buf.PushResult(pingResultFromParsed(status, rawOutput, out))
}

func pingResultFromParsed(status proto.Status, rawOutput string, out parse.PingOutput) proto.PingResult {
	timings := make([]proto.Timing, 0, len(out.Timings))
	for _, t := range out.Timings {
		ttl, rtt := t.TTL, t.RTT
		timings = append(timings, proto.Timing{TTL: &ttl, RTT: &rtt})
	}

	result := proto.PingResult{
		BaseResult: proto.BaseResult{Status: status, RawOutput: rawOutput},
		Timings:    timings,
	}
	if out.ResolvedAddress != "" {
		addr := out.ResolvedAddress
		result.ResolvedAddress = &addr
	}
	if out.ResolvedHostname != "" {
		host := out.ResolvedHostname
		result.ResolvedHostname = &host
	}
	if out.Stats.HasStats {
		min, max, avg, loss := out.Stats.Min, out.Stats.Max, out.Stats.Avg, out.Stats.Loss
		total, rcv := out.Stats.Total, out.Stats.Rcv
		drop := total - rcv
		result.Stats = proto.PingStats{Min: &min, Max: &max, Avg: &avg, Total: &total, Loss: &loss, Rcv: &rcv, Drop: &drop}
	}
	return result
}

// handleTCPPing runs the in-process TCP-connect ping (spec.md §4.5).
func handleTCPPing(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest, opts proto.PingOptions) {
	buf := progress.NewBuffer(progress.ModeDiff, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	port := opts.Port
	if port == 0 {
		port = proto.DefaultTCPPingPort
	}

	resolver := resolve.New(deps.Netcfg, netcoreLogger(deps), "")
	addr, err := resolver.Lookup(ctx, opts.Target, opts.IPVersion)
	if err != nil {
		var records []tcping.Record
		tcping.EmitResolutionError(func(r tcping.Record) { records = append(records, r) }, "Private IP ranges are not allowed.")
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: tcping.ToRawTCPOutput(records)})
		return
	}

	tcpOpts := tcping.Options{
		Address:  addr,
		Hostname: opts.Target,
		Port:     port,
		Packets:  opts.Packets,
		Logger:   netcoreLogger(deps),
	}

	var mu sync.Mutex
	var records []tcping.Record
	emit := func(r tcping.Record) {
		mu.Lock()
		records = append(records, r)
		snapshot := append([]tcping.Record(nil), records...)
		mu.Unlock()
		buf.PushProgress(map[string]any{"rawOutput": tcping.ToRawTCPOutput(snapshot)})
	}

	tcping.Ping(ctx, &net.Dialer{}, tcpOpts, emit)

	mu.Lock()
	final := append([]tcping.Record(nil), records...)
	mu.Unlock()

	buf.PushResult(proto.BaseResult{Status: proto.StatusFinished, RawOutput: tcping.ToRawTCPOutput(final)})
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
