// SPDX-License-Identifier: GPL-3.0-or-later

// Package parse turns the raw text or line-oriented output of the wrapped
// diagnostic binaries (ping, traceroute, mtr, dig) into structured records.
// Every function here is pure: no I/O, no clock reads. Each parser must be
// safe to call on any prefix of its input, returning the best partial
// interpretation rather than panicking, so handlers can drive it
// incrementally as subprocess output arrives.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// Grammar for GNU iputils ping run with -O (prints "no answer yet" for
// drops), matching the canonical container image:
//
//	PING host (1.2.3.4) 56(84) bytes of data.
//	64 bytes from host (1.2.3.4): icmp_seq=1 ttl=58 time=12.3 ms
//	no answer yet for icmp_seq=2
//	...
//	--- host ping statistics ---
//	3 packets transmitted, 2 received, 33.3333% packet loss, time 2003ms
//	rtt min/avg/max/mdev = 10.123/12.345/15.678/1.234 ms
var (
	pingHeaderRe = regexp.MustCompile(`^PING\s+(\S+)\s+\(([^)]+)\)`)
	pingReplyRe  = regexp.MustCompile(`bytes from[^:]*:\s*icmp_seq=(\d+)\s+ttl=(\d+)\s+time=([\d.]+)\s*ms`)
	pingLossRe   = regexp.MustCompile(`(\d+)\s+packets transmitted,\s*(\d+)\s+received,.*?([\d.]+)%\s+packet loss`)
	pingRttRe    = regexp.MustCompile(`rtt min/avg/max/mdev\s*=\s*([\d.]+)/([\d.]+)/([\d.]+)/[\d.]+\s*ms`)
)

// PingTiming is one per-packet sample.
type PingTiming struct {
	TTL int
	RTT float64
}

// PingStats is the aggregate summary block.
type PingStats struct {
	Min, Max, Avg float64
	Total, Rcv    int
	Loss          float64
	HasStats      bool
}

// PingOutput is the best-effort structured interpretation of a ping
// invocation's stdout, complete or partial.
type PingOutput struct {
	ResolvedHostname string
	ResolvedAddress  string
	HasHeader        bool
	Timings          []PingTiming
	Stats            PingStats
}

// ParsePing parses raw ping stdout, or any prefix of it. If the header
// line is absent, HasHeader is false and callers should treat the
// measurement as a parse failure (spec: "if header absent, return
// {status:failed, rawOutput}").
func ParsePing(raw string) PingOutput {
	var out PingOutput

	if m := pingHeaderRe.FindStringSubmatch(raw); m != nil {
		out.HasHeader = true
		out.ResolvedHostname = m[1]
		out.ResolvedAddress = m[2]
	}

	for _, m := range pingReplyRe.FindAllStringSubmatch(raw, -1) {
		ttl, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		rtt, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		out.Timings = append(out.Timings, PingTiming{TTL: ttl, RTT: round1(rtt)})
	}

	if m := pingLossRe.FindStringSubmatch(raw); m != nil {
		total, _ := strconv.Atoi(m[1])
		rcv, _ := strconv.Atoi(m[2])
		loss, _ := strconv.ParseFloat(m[3], 64)
		out.Stats.HasStats = true
		out.Stats.Total = total
		out.Stats.Rcv = rcv
		out.Stats.Loss = round2(loss)
	}

	if m := pingRttRe.FindStringSubmatch(raw); m != nil {
		out.Stats.HasStats = true
		out.Stats.Min, _ = strconv.ParseFloat(m[1], 64)
		out.Stats.Avg, _ = strconv.ParseFloat(m[2], 64)
		out.Stats.Max, _ = strconv.ParseFloat(m[3], 64)
		out.Stats.Min = round2(out.Stats.Min)
		out.Stats.Avg = round2(out.Stats.Avg)
		out.Stats.Max = round2(out.Stats.Max)
	}

	return out
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// lineScanner splits raw into lines, dropping the empty element left by a
// trailing newline; a last line without a newline is kept. Used by the
// parsers (traceroute, mtr) that need line boundaries rather than
// whole-buffer regex scans.
func lineScanner(raw string) []string {
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
