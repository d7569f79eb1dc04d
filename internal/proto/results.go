// SPDX-License-Identifier: GPL-3.0-or-later

package proto

// Every final result embeds BaseResult. Numeric fields the spec calls out
// as "explicit null" are pointer types so that an absent measurement (e.g.
// stats for a hop that never replied) marshals as JSON null instead of 0.

// BaseResult is embedded by every tool's final result.
type BaseResult struct {
	Status    Status `json:"status"`
	RawOutput string `json:"rawOutput"`
}

// Timing is a single ping-like timing sample.
type Timing struct {
	TTL *int     `json:"ttl"`
	RTT *float64 `json:"rtt"`
}

// PingStats is the aggregate block of a ping final result.
type PingStats struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Total *int     `json:"total"`
	Loss  *float64 `json:"loss"`
	Rcv   *int     `json:"rcv"`
	Drop  *int     `json:"drop"`
}

// PingResult is the final result schema of spec.md §4.4.1.
type PingResult struct {
	BaseResult
	ResolvedAddress  *string    `json:"resolvedAddress"`
	ResolvedHostname *string    `json:"resolvedHostname"`
	Timings          []Timing   `json:"timings"`
	Stats            PingStats  `json:"stats"`
}

// HopTiming is one RTT sample within a traceroute/mtr hop.
type HopTiming struct {
	RTT *float64 `json:"rtt"`
}

// TracerouteHop is one hop of a traceroute final result.
type TracerouteHop struct {
	Hop     int         `json:"hop"`
	Host    *string     `json:"host"`
	IP      *string     `json:"ip"`
	ASN     []int       `json:"asn"`
	Timings []HopTiming `json:"timings"`
}

// TracerouteResult is the final result schema of spec.md §4.4.2.
type TracerouteResult struct {
	BaseResult
	ResolvedAddress  *string         `json:"resolvedAddress"`
	ResolvedHostname *string         `json:"resolvedHostname"`
	Hops             []TracerouteHop `json:"hops"`
}

// MTRHopStats is the richer per-hop aggregate mtr computes (spec.md
// §4.4.3), in place of traceroute's plain timings list.
type MTRHopStats struct {
	Total *int     `json:"total"`
	Rcv   *int     `json:"rcv"`
	Drop  *int     `json:"drop"`
	Loss  *float64 `json:"loss"`
	Min   *float64 `json:"min"`
	Avg   *float64 `json:"avg"`
	Max   *float64 `json:"max"`
	StDev *float64 `json:"stDev"`
	JMin  *float64 `json:"jMin"`
	JAvg  *float64 `json:"jAvg"`
	JMax  *float64 `json:"jMax"`
}

// MTRHop is one hop of an mtr final result.
type MTRHop struct {
	Hop   int          `json:"hop"`
	Host  *string      `json:"host"`
	IP    *string      `json:"ip"`
	ASN   []int        `json:"asn"`
	Stats MTRHopStats  `json:"stats"`
}

// MTRResult is the final result schema of spec.md §4.4.3.
type MTRResult struct {
	BaseResult
	ResolvedAddress  *string  `json:"resolvedAddress"`
	ResolvedHostname *string  `json:"resolvedHostname"`
	Hops             []MTRHop `json:"hops"`
}

// DNSAnswer is one resource record in a dns final result.
type DNSAnswer struct {
	Name  string `json:"name"`
	TTL   int    `json:"ttl"`
	Class string `json:"class"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DNSHop is one delegation step of a +trace dns measurement.
type DNSHop struct {
	Answers []DNSAnswer `json:"answers"`
	Server  string      `json:"server"`
}

// DNSTimings is the timings block of a dns final result.
type DNSTimings struct {
	Total *float64 `json:"total"`
}

// DNSResult is the final result schema of spec.md §4.4.4.
type DNSResult struct {
	BaseResult
	StatusCode     *int        `json:"statusCode"`
	StatusCodeName *string     `json:"statusCodeName"`
	Answers        []DNSAnswer `json:"answers,omitempty"`
	Hops           []DNSHop    `json:"hops,omitempty"`
	Timings        DNSTimings  `json:"timings"`
	Resolver       *string     `json:"resolver"`
}

// HTTPTimings is the phase-by-phase timing block of an http final result
// (spec.md §4.6).
type HTTPTimings struct {
	Total     *float64 `json:"total"`
	DNS       *float64 `json:"dns"`
	TCP       *float64 `json:"tcp"`
	TLS       *float64 `json:"tls"`
	FirstByte *float64 `json:"firstByte"`
	Download  *float64 `json:"download"`
}

// TLSCertName is the {C,O,CN} / {CN,alt} shape used for issuer/subject.
type TLSCertName struct {
	C   string   `json:"C,omitempty"`
	O   string   `json:"O,omitempty"`
	CN  string   `json:"CN,omitempty"`
	Alt []string `json:"alt,omitempty"`
}

// TLSDetail is the HTTP final result's tls block (spec.md §3).
type TLSDetail struct {
	Authorized  bool        `json:"authorized"`
	Protocol    string      `json:"protocol"`
	Cipher      string      `json:"cipher"`
	CreatedAt   string      `json:"createdAt"`
	ExpiresAt   string      `json:"expiresAt"`
	Issuer      TLSCertName `json:"issuer"`
	Subject     TLSCertName `json:"subject"`
	KeyType     string      `json:"keyType"`
	KeyBits     int         `json:"keyBits"`
	Serial      string      `json:"serialNumber"`
	Fingerprint string      `json:"fingerprint"`
	PublicKey   string      `json:"publicKey"`
}

// HTTPResult is the final result schema of spec.md §4.4.5.
type HTTPResult struct {
	BaseResult
	ResolvedAddress *string           `json:"resolvedAddress"`
	Headers         map[string]string `json:"headers"`
	RawHeaders      string            `json:"rawHeaders"`
	RawBody         string            `json:"rawBody"`
	Truncated       bool              `json:"truncated"`
	StatusCode      *int              `json:"statusCode"`
	StatusCodeName  *string           `json:"statusCodeName"`
	Timings         HTTPTimings       `json:"timings"`
	TLS             *TLSDetail        `json:"tls"`
}

// Failed builds a minimal failed BaseResult with rawOutput set to msg, the
// shape every handler falls back to on InvalidOptions/PrivateIP/Timeout/
// ToolFailure (spec.md §7).
func Failed(msg string) BaseResult {
	return BaseResult{Status: StatusFailed, RawOutput: msg}
}

// PrivateIPMessage is the fixed rawOutput text for a private-IP abort.
const PrivateIPMessage = "Private IP ranges are not allowed."

// TimeoutSuffix is appended to accumulated output when a measurement hits
// its wall-clock timeout (spec.md §7).
const TimeoutSuffix = "\n\nThe measurement command timed out."
