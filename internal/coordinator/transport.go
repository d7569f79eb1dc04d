// SPDX-License-Identifier: GPL-3.0-or-later

// Package coordinator implements the probe's persistent duplex session to
// the coordinator (spec.md §6): a framed event channel carrying inbound
// dispatch events and outbound status/progress/result events. The channel
// itself is built on internal/netcore's composable dial pipeline rather
// than a ready-made duplex-messaging client, since none of the libraries
// available to this module speak the coordinator's event protocol; the
// wire framing is newline-delimited JSON frames, one per line, which keeps
// the transport readable with a plain bufio.Scanner on either end.
package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/globalping/probe-core/internal/netcore"
	"github.com/globalping/probe-core/internal/proto"
)

// Transport is a connected, framed duplex channel to the coordinator.
// Send is safe for concurrent use; Recv is only ever called from the
// single coordinating goroutine.
type Transport interface {
	Send(ctx context.Context, frame proto.Frame) error
	Recv(ctx context.Context) (proto.Frame, error)
	Close() error
}

// Dial opens a Transport to (addr, port), optionally over TLS with SNI set
// to sniHost, sending params as the line-delimited handshake frame the
// server expects as its first read. This mirrors internal/resolve's dial
// pipeline: endpoint injection, connect, observe, cancel-watch, composed
// with [netcore.Compose4].
func Dial(ctx context.Context, cfg *netcore.Config, logger netcore.SLogger, addr netip.Addr, port uint16, sniHost string, useTLS bool, params proto.HandshakeParams) (Transport, error) {
	endpoint := netip.AddrPortFrom(addr, port)

	epntOp := netcore.NewEndpointFunc(endpoint)
	connectOp := netcore.NewConnectFunc(cfg, "tcp", logger)
	observeOp := netcore.NewObserveConnFunc(cfg, logger)
	autoCancelOp := netcore.NewCancelWatchFunc()

	dialPipe := netcore.Compose4(epntOp, connectOp, observeOp, autoCancelOp)
	conn, err := dialPipe.Call(ctx, netcore.Unit{})
	if err != nil {
		return nil, err
	}

	if useTLS {
		tlsOp := netcore.NewTLSHandshakeFunc(cfg, &tls.Config{ServerName: sniHost}, logger)
		tlsConn, err := tlsOp.Call(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	t := &streamTransport{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}
	if err := t.sendHandshake(params); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// streamTransport implements Transport as newline-delimited JSON frames
// over a net.Conn. Send serializes concurrent writers with a mutex,
// matching the "writes are serialized by the transport" requirement.
type streamTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

var _ Transport = (*streamTransport)(nil)

func (t *streamTransport) sendHandshake(params proto.HandshakeParams) error {
	line, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return t.writeLine(line)
}

func (t *streamTransport) Send(ctx context.Context, frame proto.Frame) error {
	line, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return t.writeLine(line)
}

func (t *streamTransport) writeLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.conn.Write(append(bytes.TrimRight(line, "\n"), '\n')); err != nil {
		return fmt.Errorf("coordinator: write: %w", err)
	}
	return nil
}

func (t *streamTransport) Recv(ctx context.Context) (proto.Frame, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			return proto.Frame{}, fmt.Errorf("coordinator: read: %w", err)
		}
	}
	var frame proto.Frame
	if err := json.Unmarshal(bytes.TrimSpace(line), &frame); err != nil {
		return proto.Frame{}, fmt.Errorf("coordinator: decode frame: %w", err)
	}
	return frame, nil
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}
