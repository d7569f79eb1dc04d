// SPDX-License-Identifier: GPL-3.0-or-later

package parse

import (
	"regexp"
	"strconv"
)

// Grammar for `dig` textual output:
//
//	;; ->>HEADER<<- opcode: QUERY, status: NOERROR, id: 1234
//	;; ANSWER SECTION:
//	example.com.		86400	IN	A	93.184.216.34
//	;; Query time: 23 msec
//	;; SERVER: 8.8.8.8#53(8.8.8.8)
//
// `+trace` repeats the header/answer/server blocks once per delegation
// hop, each preceded by a line like ";; Received NNN bytes from A#53(A) in T ms".
var (
	dnsStatusRe  = regexp.MustCompile(`status:\s*([A-Z]+)`)
	dnsAnswerRe  = regexp.MustCompile(`(?m)^(\S+)\s+(\d+)\s+(IN)\s+(\S+)\s+(.+)$`)
	dnsQueryTmRe = regexp.MustCompile(`Query time:\s*(\d+)\s*msec`)
	dnsServerRe  = regexp.MustCompile(`SERVER:\s*([^#\s]+)`)
	dnsTraceRe   = regexp.MustCompile(`Received \d+ bytes from ([^#\s]+)`)
)

// DNSAnswer is one resource record.
type DNSAnswer struct {
	Name, Class, Type, Value string
	TTL                      int
}

// DNSHop is one delegation block of a +trace run.
type DNSHop struct {
	Server  string
	Answers []DNSAnswer
}

// DNSOutput is the structured interpretation of a dig invocation's stdout.
type DNSOutput struct {
	StatusCode string // dig's textual status, e.g. NOERROR, NXDOMAIN, REFUSED
	Answers    []DNSAnswer
	Server     string
	QueryTimeMs *float64
	Hops       []DNSHop // populated only for +trace
}

// rcodeNames maps dig's textual RCODE to the numeric value from the IANA
// DNS RCODE registry, the same table miekg/dns's dns.RcodeToString inverts.
var rcodeNames = map[string]int{
	"NOERROR":  0,
	"FORMERR":  1,
	"SERVFAIL": 2,
	"NXDOMAIN": 3,
	"NOTIMP":   4,
	"REFUSED":  5,
	"YXDOMAIN": 6,
	"YXRRSET":  7,
	"NXRRSET":  8,
	"NOTAUTH":  9,
	"NOTZONE":  10,
	"BADSIG":   16,
	"BADVERS":  16,
	"BADKEY":   17,
	"BADTIME":  18,
	"BADMODE":  19,
	"BADNAME":  20,
	"BADALG":   21,
	"BADTRUNC": 22,
	"BADCOOKIE": 23,
}

// RcodeToInt maps dig's textual RCODE name to its numeric value. ok is
// false for a name outside the known table (e.g. dig printed nothing).
func RcodeToInt(name string) (code int, ok bool) {
	code, ok = rcodeNames[name]
	return code, ok
}

// ParseDNS parses raw dig stdout, or any prefix of it. When trace is true,
// the output is split into one DNSHop per delegation block instead of a
// flat Answers list.
func ParseDNS(raw string, trace bool) DNSOutput {
	var out DNSOutput

	if m := dnsStatusRe.FindStringSubmatch(raw); m != nil {
		out.StatusCode = m[1]
	}
	if m := dnsQueryTmRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.QueryTimeMs = &v
		}
	}
	if m := dnsServerRe.FindStringSubmatch(raw); m != nil {
		out.Server = m[1]
	}

	if !trace {
		out.Answers = parseAnswers(raw)
		return out
	}

	blocks := splitTraceBlocks(raw)
	for _, b := range blocks {
		hop := DNSHop{Answers: parseAnswers(b)}
		if m := dnsTraceRe.FindStringSubmatch(b); m != nil {
			hop.Server = m[1]
		} else if m := dnsServerRe.FindStringSubmatch(b); m != nil {
			hop.Server = m[1]
		}
		out.Hops = append(out.Hops, hop)
	}
	return out
}

func parseAnswers(block string) []DNSAnswer {
	var answers []DNSAnswer
	for _, m := range dnsAnswerRe.FindAllStringSubmatch(block, -1) {
		ttl, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		answers = append(answers, DNSAnswer{
			Name:  m[1],
			TTL:   ttl,
			Class: m[3],
			Type:  m[4],
			Value: m[5],
		})
	}
	return answers
}

// splitTraceBlocks divides a +trace transcript into its delegation blocks,
// each one the text between consecutive "Received ... bytes from" markers
// (dig emits that line once per server it queried during the walk).
func splitTraceBlocks(raw string) []string {
	locs := dnsTraceRe.FindAllStringIndex(raw, -1)
	if locs == nil {
		return []string{raw}
	}
	var blocks []string
	for i, loc := range locs {
		start := loc[0]
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, raw[start:end])
	}
	return blocks
}
