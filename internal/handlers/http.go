// SPDX-License-Identifier: GPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/globalping/probe-core/internal/coordinator"
	"github.com/globalping/probe-core/internal/httpclient"
	"github.com/globalping/probe-core/internal/progress"
	"github.com/globalping/probe-core/internal/proto"
	"github.com/globalping/probe-core/internal/safety"
)

func handleHTTP(ctx context.Context, deps *Deps, session *coordinator.Session, req proto.MeasurementRequest) {
	var opts proto.HTTPOptions
	if err := json.Unmarshal(req.Measurement, &opts); err != nil {
		finalize(ctx, session, req, proto.Failed("Invalid options: "+err.Error()))
		return
	}
	if opts.Target == "" {
		finalize(ctx, session, req, proto.Failed("Invalid options: target is required"))
		return
	}

	buf := progress.NewBuffer(progress.ModeAppend, req.MeasurementID, req.TestID, sessionEmit(ctx, session, opts.InProgressUpdates))

	port := opts.Port
	if port == 0 {
		if opts.Protocol == "HTTPS" || opts.Protocol == "HTTP2" {
			port = proto.DefaultHTTPSPort
		} else {
			port = proto.DefaultHTTPPort
		}
	}

	clientOpts := httpclient.Options{
		Host:       opts.Target,
		Port:       port,
		Protocol:   opts.Protocol,
		Method:     opts.Request.Method,
		Path:       opts.Request.Path,
		Query:      opts.Request.Query,
		HostHeader: opts.Request.Host,
		Headers:    opts.Request.Headers,
		IPVersion:  opts.IPVersion,
		Resolver:   opts.Resolver,
	}

	onProgress := func(p httpclient.Progress) {
		if p.Final {
			return
		}
		buf.PushProgress(map[string]any{"rawOutput": p.RawOutput})
	}

	result := httpclient.Do(ctx, deps.Netcfg, netcoreLogger(deps), clientOpts, onProgress)

	buf.PushResult(httpResultFromClient(result))
}

func httpResultFromClient(result httpclient.Result) proto.HTTPResult {
	status := proto.StatusFinished
	rawOutput := result.RawOutput
	if result.Err != nil {
		status = proto.StatusFailed
		if rawOutput == "" {
			rawOutput = fmt.Sprintf("%s", result.Err)
		}
	}

	if result.ResolvedAddress != "" && safety.IsPrivate(result.ResolvedAddress) {
		return proto.HTTPResult{BaseResult: proto.BaseResult{Status: proto.StatusFailed, RawOutput: proto.PrivateIPMessage}}
	}

	out := proto.HTTPResult{
		BaseResult: proto.BaseResult{Status: status, RawOutput: rawOutput},
		Headers:    result.Headers,
		RawHeaders: result.RawHeaders,
		RawBody:    result.RawBody,
		Truncated:  result.Truncated,
		Timings: proto.HTTPTimings{
			Total:     result.TimingsMs.Total,
			DNS:       result.TimingsMs.DNS,
			TCP:       result.TimingsMs.TCP,
			TLS:       result.TimingsMs.TLS,
			FirstByte: result.TimingsMs.FirstByte,
			Download:  result.TimingsMs.Download,
		},
	}
	if result.ResolvedAddress != "" {
		addr := result.ResolvedAddress
		out.ResolvedAddress = &addr
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		out.StatusCode = &code
	}
	if result.StatusCodeName != "" {
		name := result.StatusCodeName
		out.StatusCodeName = &name
	}
	if result.TLS != nil {
		out.TLS = tlsDetailFromClient(result.TLS)
	}
	return out
}

func tlsDetailFromClient(tls *httpclient.TLSDetail) *proto.TLSDetail {
	return &proto.TLSDetail{
		Authorized: tls.Authorized,
		Protocol:   tls.Protocol,
		Cipher:     tls.Cipher,
		CreatedAt:  tls.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:  tls.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Issuer:     proto.TLSCertName{C: tls.IssuerC, O: tls.IssuerO, CN: tls.IssuerCN},
		Subject:    proto.TLSCertName{CN: tls.SubjectCN, Alt: tls.SubjectAlt},
		KeyType:    tls.KeyType,
		KeyBits:    tls.KeyBits,
		Serial:     tls.Serial,
		Fingerprint: tls.Fingerprint,
		PublicKey:  tls.PublicKey,
	}
}
