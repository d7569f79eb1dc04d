// SPDX-License-Identifier: GPL-3.0-or-later

package parse

import (
	"math"
	"strconv"
	"strings"
)

// MTRHopStats is the streaming aggregate mtr keeps per hop.
type MTRHopStats struct {
	Total, Rcv, Drop int
	Loss             float64
	Min, Max, Avg    float64
	StDev            float64
	JMin, JMax, JAvg float64

	m2        float64 // Welford sum of squared deviations, internal to variance
	lastRTT   float64
	hasLast   bool
	jitterSum float64
	jitterN   int
}

// MTRHop is one hop's identity plus its current streaming stats.
type MTRHop struct {
	Hop  int
	Host string
	IP   string
	ASN  []int
	Stats MTRHopStats
}

// MTRState is the parser's running model of an `mtr --raw` stream. The raw
// format is line-oriented: "h <hop> <ip>", "d <hop> <host>", "x <hop> <seq>"
// (xmit), "p <hop> <seq> <rtt_us>" (reply). Construct with NewMTRState; the
// zero value is not usable.
type MTRState struct {
	hops  []*MTRHop
	index map[int]int // hop number -> index into hops
	asn   ASNLookup
}

// NewMTRState constructs an MTRState. asn may be nil.
func NewMTRState(asn ASNLookup) *MTRState {
	if asn == nil {
		asn = NopASNLookup{}
	}
	return &MTRState{index: make(map[int]int), asn: asn}
}

// Feed applies every line in chunk (including a last line without a
// trailing newline) to the running state and
// reports whether any hop's state changed (the handler forwards a
// snapshot through the overwrite-mode buffer only on change).
func (s *MTRState) Feed(chunk string) (changed bool) {
	for _, line := range lineScanner(chunk) {
		if s.feedLine(line) {
			changed = true
		}
	}
	return changed
}

func (s *MTRState) feedLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}

	hopNum, err := strconv.Atoi(fields[1])
	if err != nil {
		return false
	}
	hop := s.hopFor(hopNum)

	switch fields[0] {
	case "h":
		if len(fields) < 3 {
			return false
		}
		hop.IP = fields[2]
		hop.ASN = s.asn.Lookup(hop.IP)
		return true
	case "d":
		if len(fields) < 3 {
			return false
		}
		hop.Host = strings.Join(fields[2:], " ")
		return true
	case "x":
		hop.Stats.Total++
		return true
	case "p":
		if len(fields) < 4 {
			return false
		}
		rttUs, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return false
		}
		hop.Stats.recordReply(rttUs / 1000)
		return true
	default:
		return false
	}
}

func (s *MTRState) hopFor(n int) *MTRHop {
	if idx, ok := s.index[n]; ok {
		return s.hops[idx]
	}
	hop := &MTRHop{Hop: n}
	s.index[n] = len(s.hops)
	s.hops = append(s.hops, hop)
	return hop
}

// Snapshot returns the current per-hop state, in hop order.
func (s *MTRState) Snapshot() []MTRHop {
	out := make([]MTRHop, len(s.hops))
	for i, h := range s.hops {
		out[i] = *h
		out[i].Stats.Drop = out[i].Stats.Total - out[i].Stats.Rcv
		if out[i].Stats.Total > 0 {
			out[i].Stats.Loss = round2(float64(out[i].Stats.Drop) / float64(out[i].Stats.Total) * 100)
		}
	}
	return out
}

// recordReply folds one successful reply (in ms) into the Welford running
// mean/variance and the jitter accumulator (mean of absolute differences
// between consecutive RTTs).
func (s *MTRHopStats) recordReply(rttMs float64) {
	s.Rcv++
	if s.Rcv == 1 {
		s.Min, s.Max, s.Avg = rttMs, rttMs, rttMs
	} else {
		if rttMs < s.Min {
			s.Min = rttMs
		}
		if rttMs > s.Max {
			s.Max = rttMs
		}
		delta := rttMs - s.Avg
		s.Avg += delta / float64(s.Rcv)
		s.m2 += delta * (rttMs - s.Avg)
		if s.Rcv > 1 {
			s.StDev = math.Sqrt(s.m2 / float64(s.Rcv-1))
		}
	}

	if s.hasLast {
		diff := math.Abs(rttMs - s.lastRTT)
		s.jitterSum += diff
		s.jitterN++
		jAvg := s.jitterSum / float64(s.jitterN)
		s.JAvg = jAvg
		if s.jitterN == 1 || diff < s.JMin {
			s.JMin = diff
		}
		if s.jitterN == 1 || diff > s.JMax {
			s.JMax = diff
		}
	}
	s.lastRTT = rttMs
	s.hasLast = true
}
