// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcping implements the in-process TCP-connect ping: a native
// TCP-handshake-timing loop used when a ping measurement's protocol is
// "tcp" instead of shelling out to ICMP ping.
package tcping

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/globalping/probe-core/internal/netcore"
)

// Options configures one tcping run.
type Options struct {
	Address  netip.Addr
	Hostname string
	Port     int
	Packets  int
	Interval time.Duration // default 500ms
	Timeout  time.Duration // per-attempt connect timeout, default 2000ms
	Logger   netcore.SLogger // defaults to netcore.DefaultSLogger()
}

// RecordKind discriminates the record stream emitted by Ping.
type RecordKind string

const (
	RecordStart      RecordKind = "start"
	RecordProbe      RecordKind = "probe"
	RecordStatistics RecordKind = "statistics"
	RecordError      RecordKind = "error"
)

// Record is one emission of the tcping stream, in the order the spec
// requires: one start, one probe per attempt (attempt order), one
// statistics, OR a single error record in place of everything else.
type Record struct {
	Kind    RecordKind
	Address string
	Hostname string
	Port    int
	Seq     int
	RTT     time.Duration // -1 (via Success=false) on failure
	Success bool
	Stats   Statistics
	Message string
}

// Statistics is the aggregate block emitted after every attempt resolves.
type Statistics struct {
	Total, Rcv, Drop int
	Loss             float64
	Min, Avg, Max, Mdev time.Duration
	Elapsed          time.Duration
}

// Dialer abstracts the TCP connect step so tests can substitute a fake.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Ping runs the TCP-ping loop described in the in-process TCP ping design:
// packets attempts are scheduled at fixed i*interval offsets from the loop
// start regardless of completion order, each timed from dial-start to
// successful connect. emit is called synchronously, once per record, in
// final emission order; callers wanting progress updates should render
// through ToRawTCPOutput via a progress buffer in diff mode.
func Ping(ctx context.Context, dialer Dialer, opts Options, emit func(Record)) Statistics {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2000 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = netcore.DefaultSLogger()
	}

	loopStart := time.Now()
	emit(Record{Kind: RecordStart, Address: opts.Address.String(), Hostname: opts.Hostname, Port: opts.Port})

	type attemptResult = struct {
		seq     int
		rtt     time.Duration
		success bool
	}
	results := make([]attemptResult, opts.Packets)
	done := make(chan attemptResult, opts.Packets)

	for i := 0; i < opts.Packets; i++ {
		seq := i
		delay := time.Duration(i) * opts.Interval
		go func() {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				done <- attemptResult{seq: seq, success: false}
				return
			}
			rtt, ok := attempt(ctx, dialer, opts)
			LogAttempt(opts.Logger, opts.Address.String(), seq, rtt, ok)
			done <- attemptResult{seq: seq, rtt: rtt, success: ok}
		}()
	}

	for i := 0; i < opts.Packets; i++ {
		r := <-done
		results[r.seq] = r
	}

	for _, r := range results {
		rtt := r.rtt
		if !r.success {
			rtt = -1
		}
		emit(Record{
			Kind:     RecordProbe,
			Address:  opts.Address.String(),
			Hostname: opts.Hostname,
			Port:     opts.Port,
			Seq:      r.seq,
			RTT:      rtt,
			Success:  r.success,
		})
	}

	stats := aggregate(results, time.Since(loopStart))
	emit(Record{Kind: RecordStatistics, Stats: stats})
	return stats
}

// EmitResolutionError emits the single error record used when DNS
// resolution fails or yields only private addresses, per the design's
// "emit a single error record and stop" rule.
func EmitResolutionError(emit func(Record), message string) {
	emit(Record{Kind: RecordError, Message: message})
}

func attempt(ctx context.Context, dialer Dialer, opts Options) (time.Duration, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	t0 := time.Now()
	addr := net.JoinHostPort(opts.Address.String(), fmt.Sprintf("%d", opts.Port))
	conn, err := dialer.DialContext(attemptCtx, "tcp", addr)
	if err != nil {
		return 0, false
	}
	rtt := time.Since(t0)
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	_ = conn.Close()
	return rtt, true
}

func aggregate(results []struct {
	seq     int
	rtt     time.Duration
	success bool
}, elapsed time.Duration) Statistics {
	var stats Statistics
	stats.Total = len(results)

	var rtts []time.Duration
	for _, r := range results {
		if r.success {
			stats.Rcv++
			rtts = append(rtts, r.rtt)
		}
	}
	stats.Drop = stats.Total - stats.Rcv
	if stats.Total > 0 {
		stats.Loss = float64(stats.Drop) / float64(stats.Total) * 100
	}
	stats.Elapsed = elapsed

	if len(rtts) == 0 {
		return stats
	}
	stats.Min, stats.Max = rtts[0], rtts[0]
	var sum time.Duration
	for _, r := range rtts {
		if r < stats.Min {
			stats.Min = r
		}
		if r > stats.Max {
			stats.Max = r
		}
		sum += r
	}
	stats.Avg = sum / time.Duration(len(rtts))

	var devSum time.Duration
	for _, r := range rtts {
		d := r - stats.Avg
		if d < 0 {
			d = -d
		}
		devSum += d
	}
	stats.Mdev = devSum / time.Duration(len(rtts))
	return stats
}

// ToRawTCPOutput renders a finished record stream into the ping-like
// textual shape used for rawOutput.
func ToRawTCPOutput(records []Record) string {
	var b strings.Builder
	for _, r := range records {
		switch r.Kind {
		case RecordStart:
			fmt.Fprintf(&b, "PING %s (%s) on port %d.\n", r.Hostname, r.Address, r.Port)
		case RecordProbe:
			if r.Success {
				fmt.Fprintf(&b, "Reply from %s (%s) on port %d: tcp_conn=%d time=%.1f ms\n",
					r.Hostname, r.Address, r.Port, r.Seq+1, float64(r.RTT)/float64(time.Millisecond))
			} else {
				fmt.Fprintf(&b, "No reply from %s (%s) on port %d: tcp_conn=%d\n",
					r.Hostname, r.Address, r.Port, r.Seq+1)
			}
		case RecordStatistics:
			s := r.Stats
			fmt.Fprintf(&b, "\n--- ping statistics ---\n")
			fmt.Fprintf(&b, "%d packets transmitted, %d received, %.0f%% packet loss, time %d ms\n",
				s.Total, s.Rcv, s.Loss, s.Elapsed.Milliseconds())
			if s.Rcv > 0 {
				fmt.Fprintf(&b, "rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n",
					ms(s.Min), ms(s.Avg), ms(s.Max), ms(s.Mdev))
			}
		case RecordError:
			fmt.Fprintf(&b, "%s\n", r.Message)
		}
	}
	return b.String()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// LogAttempt mirrors netcore's structured connect logging idiom for the
// tcping package's own attempts; Ping calls it once per attempt, alongside
// the record stream.
func LogAttempt(logger netcore.SLogger, addr string, seq int, rtt time.Duration, success bool) {
	logger.Info("tcpingAttempt",
		slog.String("address", addr),
		slog.Int("seq", seq),
		slog.Duration("rtt", rtt),
		slog.Bool("success", success),
	)
}
