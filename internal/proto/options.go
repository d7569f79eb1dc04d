// SPDX-License-Identifier: GPL-3.0-or-later

package proto

// CommonOptions are the fields every tool accepts (spec.md §3).
type CommonOptions struct {
	InProgressUpdates bool `json:"inProgressUpdates"`
	IPVersion         int  `json:"ipVersion"`
}

// PingOptions is the normalized, schema-checked record for a ping
// measurement (spec.md §4.4.1). Protocol selects ICMP (the default, shells
// out to `unbuffer ping`) or TCP (the in-process TCP-connect ping, §4.5).
type PingOptions struct {
	CommonOptions
	Target   string `json:"target"`
	Packets  int    `json:"packets"`
	Protocol string `json:"protocol,omitempty"` // "icmp" (default) or "tcp"
	Port     int    `json:"port,omitempty"`     // only meaningful for Protocol=="tcp"
}

// TracerouteOptions is the normalized record for a traceroute measurement
// (spec.md §4.4.2).
type TracerouteOptions struct {
	CommonOptions
	Target   string `json:"target"`
	Protocol string `json:"protocol,omitempty"` // "icmp" (default), "tcp", or "udp"
	Port     int    `json:"port,omitempty"`
}

// MTROptions is the normalized record for an mtr measurement (spec.md
// §4.4.3).
type MTROptions struct {
	CommonOptions
	Target   string `json:"target"`
	Protocol string `json:"protocol,omitempty"` // "icmp" (default), "tcp", or "udp"
	Port     int    `json:"port,omitempty"`
	Packets  int    `json:"packets"`
}

// DNSOptions is the normalized record for a dns measurement (spec.md
// §4.4.4).
type DNSOptions struct {
	CommonOptions
	Target   string `json:"target"`
	Query    DNSQuery `json:"query"`
	Resolver string   `json:"resolver,omitempty"`
	Port     int      `json:"port,omitempty"`
	Protocol string   `json:"protocol,omitempty"` // "udp" (default) or "tcp"
}

// DNSQuery is the embedded query sub-record of DNSOptions.
type DNSQuery struct {
	Type  string `json:"type,omitempty"`  // resource record type, e.g. "A"; ignored when Reverse
	Trace bool   `json:"trace,omitempty"`
	Reverse bool `json:"reverse,omitempty"` // -x mode
}

// HTTPRequest is the embedded request sub-record of HTTPOptions (spec.md
// §4.4.5).
type HTTPRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query,omitempty"`
	Host    string            `json:"host,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HTTPOptions is the normalized record for an http measurement.
type HTTPOptions struct {
	CommonOptions
	Target   string      `json:"target"`
	Protocol string      `json:"protocol"` // "HTTP", "HTTPS", or "HTTP2"
	Port     int         `json:"port,omitempty"`
	Request  HTTPRequest `json:"request"`
	Resolver string      `json:"resolver,omitempty"`
}

// Defaults applied when the coordinator omits an optional field (spec.md
// §4.4.1-§4.4.5).
const (
	DefaultPingPackets      = 3
	MinPingPackets          = 1
	MaxPingPackets          = 16
	DefaultTracerouteMaxTTL = 20
	DefaultMTRPackets       = 10
	DefaultHTTPPort         = 80
	DefaultHTTPSPort        = 443
	DefaultTCPPingPort      = 80
)
