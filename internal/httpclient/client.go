// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpclient implements the in-process HTTP(S) client: rather than
// driving the request through net/http's transport, it assembles its own
// TCP + optional TLS + HTTP/1.1 exchange on top of internal/netcore's
// Connect/Observe/CancelWatch/TLSHandshake pipeline, so every phase (dns,
// tcp, tls, firstByte, download) is timed precisely, as the measurement
// result schema requires.
package httpclient

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/globalping/probe-core/internal/netcore"
	"github.com/globalping/probe-core/internal/resolve"
	"github.com/klauspost/compress/zstd"
)

// DownloadLimit is the body accumulation cap (spec.md §4.6).
const DownloadLimit = 10_000

// RequestTimeout is the overall wall-clock budget for one request.
const RequestTimeout = 10 * time.Second

// Options configures one HTTP measurement.
type Options struct {
	Host       string // hostname used for SNI, Host header, and resolution
	Address    string // pre-resolved dial address; resolved from Host if empty
	Port       int
	Protocol   string // "HTTP", "HTTPS", or "HTTP2"
	Method     string
	Path       string
	Query      string
	HostHeader string
	Headers    map[string]string
	IPVersion  int
	Resolver   string
}

// TLSDetail mirrors proto.TLSDetail but stays decoupled from the wire
// schema so this package has no upward dependency on internal/proto.
type TLSDetail struct {
	Authorized bool
	Protocol   string
	Cipher     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IssuerCN, IssuerO, IssuerC string
	SubjectCN  string
	SubjectAlt []string
	KeyType    string
	KeyBits    int
	Serial     string
	Fingerprint string
	PublicKey   string
}

// Progress is one partial update; Final is set on the last one.
type Progress struct {
	RawOutput string
	Final     bool
}

// Result is the terminal outcome of one request.
type Result struct {
	ResolvedAddress string
	Headers         map[string]string
	RawHeaders      string
	RawBody         string
	Truncated       bool
	StatusCode      int
	StatusCodeName  string
	TLS             *TLSDetail
	TimingsMs       Timings
	Err             error // non-nil -> failed result; RawOutput below applies
	RawOutput       string
}

// Timings is the phase-by-phase breakdown, nil pointer meaning "not
// reached" (e.g. TLS for a plaintext request).
type Timings struct {
	Total, DNS, TCP, TLS, FirstByte, Download *float64
}

// Do executes one HTTP(S) request. progress is invoked with each partial
// update as the response streams in (spec.md §4.4.5's rawOutput shape:
// "HTTP/<version> <code>\n<headers>\n\n<bodyChunk>" on first chunk, then
// bare body chunks). A request that fails because RequestTimeout elapsed
// returns Err set, RawOutput "Request timeout." and no timings.
func Do(ctx context.Context, cfg *netcore.Config, logger netcore.SLogger, opts Options, progress func(Progress)) (res Result) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	defer func() {
		if res.Err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = Result{ResolvedAddress: res.ResolvedAddress, Err: res.Err, RawOutput: "Request timeout."}
		}
	}()

	if cfg == nil {
		cfg = netcore.NewConfig()
	}
	if logger == nil {
		logger = netcore.DefaultSLogger()
	}

	start := time.Now()
	elapsed := func() float64 { return msSince(start) }

	var timings Timings
	record := func(dst **float64) {
		v := elapsed()
		*dst = &v
	}

	address := opts.Address
	if address == "" {
		t0 := elapsed()
		addr, err := resolveTarget(ctx, cfg, logger, opts)
		if err != nil {
			return Result{Err: err, RawOutput: err.Error()}
		}
		address = addr
		dns := elapsed() - t0
		timings.DNS = &dns
	}

	port := opts.Port
	if port == 0 {
		if strings.EqualFold(opts.Protocol, "HTTP") {
			port = 80
		} else {
			port = 443
		}
	}

	ipAddr, err := netip.ParseAddr(address)
	if err != nil {
		return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
	}
	endpoint := netip.AddrPortFrom(ipAddr, uint16(port))

	epntOp := netcore.NewEndpointFunc(endpoint)
	connectOp := netcore.NewConnectFunc(cfg, "tcp", logger)
	observeOp := netcore.NewObserveConnFunc(cfg, logger)
	autoCancelOp := netcore.NewCancelWatchFunc()
	dialPipe := netcore.Compose4(epntOp, connectOp, observeOp, autoCancelOp)

	// autoCancelOp binds conn's lifetime to ctx, so the headers/body reads
	// below unblock on timeout instead of hanging on a silent peer.
	conn, err := dialPipe.Call(ctx, netcore.Unit{})
	if err != nil {
		return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
	}
	defer conn.Close()
	record(&timings.TCP)
	tcpElapsed := *timings.TCP
	if timings.DNS != nil {
		tcpElapsed -= *timings.DNS
	}
	timings.TCP = &tcpElapsed

	var tlsDetail *TLSDetail
	plain := strings.EqualFold(opts.Protocol, "HTTP")
	if !plain {
		alpn := []string{"http/1.1"}
		if strings.EqualFold(opts.Protocol, "HTTP2") {
			alpn = []string{"h2"}
		}
		tlsOp := netcore.NewTLSHandshakeFunc(cfg, &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: true,
			NextProtos:         alpn,
		}, logger)
		tconn, err := tlsOp.Call(ctx, conn)
		if err != nil {
			return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
		}
		state := tconn.ConnectionState()
		if strings.EqualFold(opts.Protocol, "HTTP2") && state.NegotiatedProtocol != "h2" {
			tconn.Close()
			err := errors.New("HTTP/2 is not supported by the server.")
			return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
		}
		conn = tconn
		tlsElapsed := elapsed()
		if timings.TCP != nil {
			tlsElapsed -= *timings.TCP
		}
		if timings.DNS != nil {
			tlsElapsed -= *timings.DNS
		}
		timings.TLS = &tlsElapsed
		tlsDetail = extractTLSDetail(state)
	}

	if err := writeRequest(conn, opts); err != nil {
		return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
	}
	firstByte := elapsed()
	for _, p := range []*float64{timings.DNS, timings.TCP, timings.TLS} {
		if p != nil {
			firstByte -= *p
		}
	}
	timings.FirstByte = &firstByte

	statusCode, statusName := parseStatusLine(statusLine)

	tp := textproto.NewReader(reader)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return Result{ResolvedAddress: address, Err: err, RawOutput: err.Error()}
	}
	var rawHeaderLines []string
	rawHeaderLines = append(rawHeaderLines, strings.TrimRight(statusLine, "\r\n"))
	headers := make(map[string]string, len(mimeHeader))
	for k, v := range mimeHeader {
		joined := strings.Join(v, ", ")
		headers[strings.ToLower(k)] = joined
		rawHeaderLines = append(rawHeaderLines, k+": "+joined)
	}
	rawHeaders := strings.Join(rawHeaderLines, "\n")

	bodyReader := decompressReader(reader, headers["content-encoding"])

	var body strings.Builder
	truncated := false
	buf := make([]byte, 4096)
	firstChunk := true
	for body.Len() < DownloadLimit {
		n, rerr := bodyReader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			remaining := DownloadLimit - body.Len()
			if len(chunk) > remaining {
				chunk = chunk[:remaining]
				truncated = true
			}
			body.Write(chunk)

			if progress != nil {
				if firstChunk {
					progress(Progress{RawOutput: rawHeaders + "\n\n" + string(chunk)})
				} else {
					progress(Progress{RawOutput: string(chunk)})
				}
			}
			firstChunk = false
		}
		if truncated {
			break
		}
		if rerr != nil {
			if rerr != io.EOF {
				err = rerr
			}
			break
		}
	}

	downloadElapsed := elapsed()
	for _, p := range []*float64{timings.DNS, timings.TCP, timings.TLS, timings.FirstByte} {
		if p != nil {
			downloadElapsed -= *p
		}
	}
	timings.Download = &downloadElapsed
	total := elapsed()
	timings.Total = &total

	rawOutput := rawHeaders + "\n\n" + body.String()

	return Result{
		ResolvedAddress: address,
		Headers:         headers,
		RawHeaders:      rawHeaders,
		RawBody:         body.String(),
		Err:             err,
		Truncated:       truncated,
		StatusCode:      statusCode,
		StatusCodeName:  statusName,
		TLS:             tlsDetail,
		TimingsMs:       timings,
		RawOutput:       rawOutput,
	}
}

func resolveTarget(ctx context.Context, cfg *netcore.Config, logger netcore.SLogger, opts Options) (string, error) {
	r := resolve.New(cfg, logger, opts.Resolver)
	addr, err := r.Lookup(ctx, opts.Host, opts.IPVersion)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func writeRequest(w io.Writer, opts Options) error {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	if opts.Query != "" {
		path += "?" + opts.Query
	}
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)

	// Header order is part of the observable contract: inherited user
	// headers first, then the fixed set, in this exact order.
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, opts.Headers[k])
	}

	fmt.Fprintf(&b, "Accept-Encoding: gzip, deflate, br, zstd\r\n")

	host := opts.HostHeader
	if host == "" {
		host = opts.Host
	}
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	fmt.Fprintf(&b, "User-Agent: globalping-probe/1.0\r\n")
	fmt.Fprintf(&b, "Connection: close\r\n\r\n")

	_, err := w.Write([]byte(b.String()))
	return err
}

func parseStatusLine(line string) (int, string) {
	fields := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(fields) < 2 {
		return 0, ""
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, ""
	}
	name := ""
	if len(fields) == 3 {
		name = fields[2]
	}
	return code, name
}

func decompressReader(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		if zr, err := gzip.NewReader(r); err == nil {
			return zr
		}
		return r
	case "deflate":
		return flate.NewReader(r)
	case "br":
		return brotli.NewReader(r)
	case "zstd":
		if zr, err := zstd.NewReader(r); err == nil {
			return zr.IOReadCloser()
		}
		return r
	default:
		return r
	}
}

func extractTLSDetail(state tls.ConnectionState) *TLSDetail {
	d := &TLSDetail{
		Authorized: len(state.VerifiedChains) > 0,
		Protocol:   tls.VersionName(state.Version),
		Cipher:     tls.CipherSuiteName(state.CipherSuite),
	}
	if len(state.PeerCertificates) == 0 {
		return d
	}
	cert := state.PeerCertificates[0]
	d.CreatedAt = cert.NotBefore
	d.ExpiresAt = cert.NotAfter
	d.IssuerCN = cert.Issuer.CommonName
	if len(cert.Issuer.Organization) > 0 {
		d.IssuerO = cert.Issuer.Organization[0]
	}
	if len(cert.Issuer.Country) > 0 {
		d.IssuerC = cert.Issuer.Country[0]
	}
	d.SubjectCN = cert.Subject.CommonName
	d.SubjectAlt = cert.DNSNames
	d.Serial = strings.ToUpper(cert.SerialNumber.Text(16))
	sum := sha256.Sum256(cert.Raw)
	d.Fingerprint = colonHex(sum[:])
	d.KeyType, d.KeyBits, d.PublicKey = describeKey(cert)
	return d
}

func colonHex(b []byte) string {
	h := hex.EncodeToString(b)
	var parts []string
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, strings.ToUpper(h[i:i+2]))
	}
	return strings.Join(parts, ":")
}

func msSince(t0 time.Time) float64 {
	return float64(time.Since(t0)) / float64(time.Millisecond)
}
