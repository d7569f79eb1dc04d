// SPDX-License-Identifier: GPL-3.0-or-later

// Package safety classifies IP addresses as private/reserved, implementing
// the probe's target safety policy: measurements may not touch private or
// reserved network ranges, even transitively (a traceroute hop, a DNS
// answer, an HTTP redirect target).
package safety

import "net/netip"

// privatePrefixes enumerates the ranges spec.md §4.3 requires us to reject.
var privatePrefixes = mustParsePrefixes(
	// IPv4 private ranges.
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	// IPv4 loopback.
	"127.0.0.0/8",
	// IPv4 link-local.
	"169.254.0.0/16",
	// IPv4 CGNAT.
	"100.64.0.0/10",
	// IPv4 reserved/multicast/broadcast.
	"0.0.0.0/8",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
	// IPv6 ULA.
	"fc00::/7",
	// IPv6 link-local.
	"fe80::/10",
	// IPv6 loopback.
	"::1/128",
	// IPv6 multicast.
	"ff00::/8",
	// IPv6 reserved / unspecified / IPv4-mapped.
	"::/128",
	"64:ff9b::/96",
	"2001::/32",
	"2001:db8::/32",
	"::ffff:0:0/96",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			panic("safety: invalid prefix literal: " + cidr)
		}
		out = append(out, prefix)
	}
	return out
}

// IsPrivate reports whether addr is a private, loopback, link-local,
// CGNAT, reserved, multicast, or broadcast address and therefore not a
// valid measurement target per spec.md §4.3.
//
// An unparseable address is treated as private (fail closed).
func IsPrivate(addr string) bool {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return true
	}
	return IsPrivateAddr(a)
}

// IsPrivateAddr is the [netip.Addr] counterpart of [IsPrivate].
func IsPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range privatePrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// FirstPublic returns the first address in addrs whose family matches
// ipVersion (4 or 6; 0 accepts either) and that is not private per
// [IsPrivateAddr]. The second return value is false when no address
// qualifies, matching spec.md §4.3's in-process DNS resolution rule:
// "if nothing public remains ... fail the measurement".
func FirstPublic(addrs []netip.Addr, ipVersion int) (netip.Addr, bool) {
	for _, a := range addrs {
		if ipVersion == 4 && !a.Is4() && !a.Is4In6() {
			continue
		}
		if ipVersion == 6 && (a.Is4() || a.Is4In6()) {
			continue
		}
		if IsPrivateAddr(a) {
			continue
		}
		return a, true
	}
	return netip.Addr{}, false
}
