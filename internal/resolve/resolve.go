// SPDX-License-Identifier: GPL-3.0-or-later

// Package resolve implements the self-resolution step the in-process HTTP
// client and TCP-ping use to turn a hostname into a safety-filtered
// address: a DNS-over-UDP exchange against a configured resolver, built on
// top of internal/netcore's composable dial pipeline rather than the
// standard resolver, so the lookup gets the same structured logging and
// span correlation as every other netcore operation.
package resolve

import (
	"context"
	"errors"
	"net/netip"
	"slices"

	"github.com/bassosimone/dnscodec"
	"github.com/globalping/probe-core/internal/netcore"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/safety"
	"github.com/miekg/dns"
)

// DefaultResolver is used when a measurement's options.resolver is empty.
const DefaultResolver = "1.1.1.1:53"

// ErrNoPublicAddress is returned when every candidate address is private,
// or none exist for the requested family.
var ErrNoPublicAddress = errors.New("resolve: no public address for requested ip version")

// Resolver resolves a hostname to a single safety-filtered address,
// picking the first public address of the requested family.
type Resolver struct {
	cfg      *netcore.Config
	logger   netcore.SLogger
	resolver string // "ip:port" of the DNS server to query
}

// New constructs a Resolver. resolver is an "ip:port" DNS server address;
// an empty string selects [DefaultResolver].
func New(cfg *netcore.Config, logger netcore.SLogger, resolver string) *Resolver {
	if resolver == "" {
		resolver = DefaultResolver
	}
	if cfg == nil {
		cfg = netcore.NewConfig()
	}
	if logger == nil {
		logger = netcore.DefaultSLogger()
	}
	return &Resolver{cfg: cfg, logger: logger, resolver: resolver}
}

// Lookup resolves host for the given IP version (4 or 6; 0 tries 4 then
// 6) and returns the first public address, per the safety filter's
// FirstPublic rule. If target is already a literal address, it is
// returned as-is after a safety check (no network I/O).
func (r *Resolver) Lookup(ctx context.Context, host string, ipVersion int) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if safety.IsPrivateAddr(addr) {
			return netip.Addr{}, proto.ErrPrivateIP
		}
		return addr, nil
	}

	var addrs []netip.Addr
	if ipVersion != 6 {
		if a, err := r.exchange(ctx, host, dns.TypeA); err == nil {
			addrs = append(addrs, a...)
		}
	}
	if ipVersion != 4 {
		if a, err := r.exchange(ctx, host, dns.TypeAAAA); err == nil {
			addrs = append(addrs, a...)
		}
	}

	addr, ok := safety.FirstPublic(addrs, ipVersion)
	if !ok {
		return netip.Addr{}, ErrNoPublicAddress
	}
	return addr, nil
}

func (r *Resolver) exchange(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	serverAddr, err := netip.ParseAddrPort(r.resolver)
	if err != nil {
		return nil, err
	}

	epntOp := netcore.NewEndpointFunc(serverAddr)
	connectOp := netcore.NewConnectFunc(r.cfg, "udp", r.logger)
	observeOp := netcore.NewObserveConnFunc(r.cfg, r.logger)
	autoCancelOp := netcore.NewCancelWatchFunc()
	wrapOp := netcore.NewDNSOverUDPConnFunc(r.cfg, r.logger)

	dialPipe := netcore.Compose5(epntOp, connectOp, observeOp, autoCancelOp, wrapOp)

	dnsConn, err := dialPipe.Call(ctx, netcore.Unit{})
	if err != nil {
		return nil, err
	}
	defer dnsConn.Close()

	query := dnscodec.NewQuery(host, qtype)
	resp, err := dnsConn.Exchange(ctx, query)
	if err != nil {
		return nil, err
	}

	var rawAddrs []string
	switch qtype {
	case dns.TypeAAAA:
		rawAddrs, err = resp.RecordsAAAA()
	default:
		rawAddrs, err = resp.RecordsA()
	}
	if err != nil {
		return nil, err
	}

	addrs := make([]netip.Addr, 0, len(rawAddrs))
	for _, raw := range rawAddrs {
		a, err := netip.ParseAddr(raw)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
	return addrs, nil
}
