// SPDX-License-Identifier: GPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/parse"
	"github.com/globalping/probe-core/internal/progress"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/safety"
)

func handleTraceroute(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest) {
	var opts proto.TracerouteOptions
	if err := json.Unmarshal(req.Measurement, &opts); err != nil {
		finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
		return
	}
	if opts.Target == "" {
		finalize(ctx, session, req, proto.Failed("Invalid options: target is required"))
		return
	}

	buf := progress.NewBuffer(progress.ModeAppend, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	args := []string{ipFlag(opts.IPVersion), "-m", "20", "-N", "20", "-w", "2", "-q", "2"}
	switch strings.ToLower(opts.Protocol) {
	case "tcp":
		args = append(args, "--tcp")
	case "udp":
		args = append(args, "--udp")
	}
	if opts.Port != 0 {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	args = append(args, opts.Target)

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

		for _, hop := range parse.ParseTraceroute(line, parse.NopASNLookup{}) {
			if hop.IP != "" && safety.IsPrivate(hop.IP) {
				mu.Lock()
				aborted = true
				mu.Unlock()
				abort()
				return
			}
		}
		buf.PushProgress(map[string]any{"rawOutput": line + "\n"})
	}

	res := deps.runTool(runCtx, onLine, "traceroute", args...)

	mu.Lock()
	isAborted := aborted
	mu.Unlock()
	if isAborted {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	hops := parse.ParseTraceroute(res.Stdout, parse.NopASNLookup{})
	for _, hop := range hops {
		if hop.IP != "" && safety.IsPrivate(hop.IP) {
			buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
			return
		}
	}

	rawOutput := res.Stdout
	status := proto.StatusFinished
	if res.TimedOut {
		rawOutput += proto.TimeoutSuffix
		status = proto.StatusFailed
	}

	buf.PushResult(tracerouteResultFromParsed(status, rawOutput, hops))
}

func tracerouteResultFromParsed(status proto.Status, rawOutput string, hops []parse.TracerouteHop) proto.TracerouteResult {
	out := make([]proto.TracerouteHop, 0, len(hops))
	for _, h := range hops {
		timings := make([]proto.HopTiming, 0, len(h.Timings))
		for _, t := range h.Timings {
			timings = append(timings, proto.HopTiming{RTT: t})
		}
		hop := proto.TracerouteHop{Hop: h.Hop, ASN: h.ASN, Timings: timings}
		if h.Host != "" {
			host := h.Host
			hop.Host = &host
		}
		if h.IP != "" {
			ip := h.IP
			hop.IP = &ip
		}
		out = append(out, hop)
	}
	return proto.TracerouteResult{
		BaseResult: proto.BaseResult{Status: status, RawOutput: rawOutput},
		Hops:       out,
	}
}
