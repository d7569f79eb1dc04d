// SPDX-License-Identifier: GPL-3.0-or-later

package parse

import (
	"regexp"
	"strconv"
)

// Grammar for `traceroute -N 20 -w 2 -q 2`:
//
//	traceroute to host (1.2.3.4), 30 hops max, 60 byte packets
//	 1  gw.local (192.168.1.1)  0.529 ms  0.402 ms
//	 2  * *
//	 3  10.0.0.1 (10.0.0.1)  10.123 ms  10.456 ms
var (
	tracerouteHopRe  = regexp.MustCompile(`^\s*(\d+)\s+(.*)$`)
	tracerouteHostRe = regexp.MustCompile(`^(\S+)\s+\(([^)]+)\)`)
	tracerouteRttRe  = regexp.MustCompile(`([\d.]+)\s*ms`)
)

// ASNLookup maps a resolved IP address to the AS numbers announcing it.
// Out of scope per spec §1 ("DNS resolution library... used via a minimal
// interface"): the traceroute/mtr parsers accept one and degrade to an
// empty asn[] when it is absent or returns nothing, exactly matching
// "ASN is extracted only if the output layer that maps IP -> ASN is
// enabled".
type ASNLookup interface {
	Lookup(ip string) []int
}

// NopASNLookup always returns no ASNs; the default when no lookup
// collaborator is configured.
type NopASNLookup struct{}

// Lookup implements ASNLookup.
func (NopASNLookup) Lookup(string) []int { return nil }

// TracerouteHop is one structured hop.
type TracerouteHop struct {
	Hop     int
	Host    string
	IP      string
	ASN     []int
	Timings []*float64 // nil entry means "*" (no reply)
}

// ParseTraceroute parses raw traceroute stdout, or any prefix of it, into
// hops in order. asn may be nil, in which case ASN is left empty for every
// hop.
func ParseTraceroute(raw string, asn ASNLookup) []TracerouteHop {
	if asn == nil {
		asn = NopASNLookup{}
	}

	var hops []TracerouteHop
	for _, line := range lineScanner(raw) {
		m := tracerouteHopRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hopNum, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		rest := m[2]

		hop := TracerouteHop{Hop: hopNum}
		if hm := tracerouteHostRe.FindStringSubmatch(rest); hm != nil {
			hop.Host = hm[1]
			hop.IP = hm[2]
			hop.ASN = asn.Lookup(hop.IP)
		}

		for _, token := range splitProbeTokens(rest) {
			if token == "*" {
				hop.Timings = append(hop.Timings, nil)
				continue
			}
			if rm := tracerouteRttRe.FindStringSubmatch(token); rm != nil {
				v, err := strconv.ParseFloat(rm[1], 64)
				if err != nil {
					continue
				}
				rtt := round1(v)
				hop.Timings = append(hop.Timings, &rtt)
			}
		}

		hops = append(hops, hop)
	}
	return hops
}

// splitProbeTokens extracts the per-probe fragments of a hop line's
// remainder: either "<float> ms" pairs or bare "*" timeouts.
func splitProbeTokens(rest string) []string {
	var out []string
	for _, m := range tracerouteProbeRe.FindAllString(rest, -1) {
		out = append(out, m)
	}
	return out
}

var tracerouteProbeRe = regexp.MustCompile(`[\d.]+\s*ms|\*`)
