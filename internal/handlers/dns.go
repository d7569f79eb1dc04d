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

func handleDNS(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest) {
	var opts proto.DNSOptions
	if err := json.Unmarshal(req.Measurement, &opts); err != nil {
		finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
		return
	}
	if opts.Target == "" {
		finalize(ctx, session, req, proto.Failed("Invalid options: target is required"))
		return
	}

	buf := progress.NewBuffer(progress.ModeAppend, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	args := []string{opts.Target}
	if opts.Resolver != "" {
		args = append(args, "@"+opts.Resolver)
	}
	if opts.Query.Reverse {
		args = append(args, "-x", opts.Target)
	} else if opts.Query.Type != "" {
		args = append(args, "-t", opts.Query.Type)
	}
	args = append(args, ipFlag(opts.IPVersion))
	if opts.Port != 0 {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	args = append(args, "+timeout=3", "+tries=2", "+nocookie", "+nsid")
	if opts.Query.Trace {
		args = append(args, "+trace")
	}
	if strings.EqualFold(opts.Protocol, "tcp") {
		args = append(args, "+tcp")
	}

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

		out := parse.ParseDNS(line, opts.Query.Trace)
		if dnsResultHasPrivateAnswer(out) {
			mu.Lock()
			aborted = true
			mu.Unlock()
			abort()
			return
		}
		buf.PushProgress(map[string]any{"rawOutput": line + "\n"})
	}

	res := deps.runTool(runCtx, onLine, "dig", args...)

	mu.Lock()
	isAborted := aborted
	mu.Unlock()
	if isAborted {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	out := parse.ParseDNS(res.Stdout, opts.Query.Trace)
	if dnsResultHasPrivateAnswer(out) {
		buf.PushResult(proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage})
		return
	}

	rawOutput := res.Stdout
	status := proto.StatusFinished
	if res.TimedOut {
		rawOutput += proto.TimeoutSuffix
		status = proto.StatusFailed
	}

	buf.PushResult(dnsResultFromParsed(status, rawOutput, out))
}

// dnsResultHasPrivateAnswer applies the safety filter to every A/AAAA
// answer across the flat and +trace shapes (spec.md §4.3).
func dnsResultHasPrivateAnswer(out parse.DNSOutput) bool {
	check := func(answers []parse.DNSAnswer) bool {
		for _, a := range answers {
			if (a.Type == "A" || a.Type == "AAAA") && safety.IsPrivate(a.Value) {
				return true
			}
		}
		return false
	}
	if check(out.Answers) {
		return true
	}
	for _, hop := range out.Hops {
		if check(hop.Answers) {
			return true
		}
	}
	return false
}

func dnsResultFromParsed(status proto.Status, rawOutput string, out parse.DNSOutput) proto.DNSResult {
	result := proto.DNSResult{
		BaseResult: proto.BaseResult{Status: status, RawOutput: rawOutput},
		Timings:    proto.DNSTimings{Total: out.QueryTimeMs},
	}
	if out.StatusCode != "" {
		name := out.StatusCode
		result.StatusCodeName = &name
		if code, ok := parse.RcodeToInt(name); ok {
			result.StatusCode = &code
		}
	}
	if out.Server != "" {
		server := out.Server
		result.Resolver = &server
	}
	if len(out.Hops) > 0 {
		hops := make([]proto.DNSHop, 0, len(out.Hops))
		for _, h := range out.Hops {
			hops = append(hops, proto.DNSHop{Server: h.Server, Answers: dnsAnswersFromParsed(h.Answers)})
		}
		result.Hops = hops
		return result
	}
	result.Answers = dnsAnswersFromParsed(out.Answers)
	return result
}

func dnsAnswersFromParsed(answers []parse.DNSAnswer) []proto.DNSAnswer {
	out := make([]proto.DNSAnswer, 0, len(answers))
	for _, a := range answers {
		out = append(out, proto.DNSAnswer{Name: a.Name, TTL: a.TTL, Class: a.Class, Type: a.Type, Value: a.Value})
	}
	return out
}
