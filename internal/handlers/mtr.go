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

func handleMTR(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest) {
	var opts proto.MTROptions
	if err := json.Unmarshal(req.Measurement, &opts); err != nil {
		finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
		return
	}
	if opts.Target == "" {
		finalize(ctx, session, req, proto.Failed("Invalid options: target is required"))
		return
	}
	if opts.Packets == 0 {
		opts.Packets = proto.DefaultMTRPackets
	}

	buf := progress.NewBuffer(progress.ModeOverwrite, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	args := []string{ipFlag(opts.IPVersion), "--raw", "--interval", "0.5", "--gracetime", "3", "--max-ttl", "30", "-c", strconv.Itoa(opts.Packets)}
	switch strings.ToLower(opts.Protocol) {
	case "tcp":
		args = append(args, "--tcp")
	case "udp":
		args = append(args, "--udp")
	}
	if opts.Port != 0 {
		args = append(args, "-P", strconv.Itoa(opts.Port))
	}
	args = append(args, opts.Target)

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	state := parse.NewMTRState(parse.NopASNLookup{})

	var mu sync.Mutex
	var aborted bool
	onLine := func(line string) {
		mu.Lock()
		if aborted {
			mu.Unlock()
			return
		}
		changed := state.Feed(line)
		snapshot := state.Snapshot()
		mu.Unlock()

		for _, hop := range snapshot {
			if hop.IP != "" && safety.IsPrivate(hop.IP) {
				mu.Lock()
				aborted = true
				mu.Unlock()
				abort()
				return
			}
		}
		if changed {
			buf.PushProgress(map[string]any{"rawOutput": mtrResultFromSnapshot(proto.StatusFinished, "", snapshot)})
		}
	}

	res := deps.runTool(runCtx, onLine, "mtr", args...)

	mu.Lock()
	isAborted := aborted
	mu.Unlock()
	if isAborted {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	finalState := parse.NewMTRState(parse.NopASNLookup{})
	finalState.Feed(res.Stdout)
	hops := finalState.Snapshot()
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

	buf.PushResult(mtrResultFromSnapshot(status, rawOutput, hops))
}

func mtrResultFromSnapshot(status proto.Status, rawOutput string, hops []parse.MTRHop) proto.MTRResult {
	out := make([]proto.MTRHop, 0, len(hops))
	for _, h := range hops {
		hop := proto.MTRHop{Hop: h.Hop, ASN: h.ASN, Stats: mtrStatsFromParsed(h.Stats)}
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
	return proto.MTRResult{
		BaseResult: proto.BaseResult{Status: status, RawOutput: rawOutput},
		Hops:       out,
	}
}

func mtrStatsFromParsed(s parse.MTRHopStats) proto.MTRHopStats {
	total, rcv, drop := s.Total, s.Rcv, s.Drop
	loss, min, avg, max := s.Loss, s.Min, s.Avg, s.Max
	stDev, jMin, jAvg, jMax := s.StDev, s.JMin, s.JAvg, s.JMax
	return proto.MTRHopStats{
		Total: &total, Rcv: &rcv, Drop: &drop, Loss: &loss,
		Min: &min, Avg: &avg, Max: &max, StDev: &stDev,
		JMin: &jMin, JAvg: &jAvg, JMax: &jMax,
	}
}
