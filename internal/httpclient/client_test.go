// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/globalping/probe-core/internal/httpclient"
	"github.com/globalping/probe-core/internal/netcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection, reads the request line, and
// writes back the given raw HTTP/1.1 response.
func serveOnce(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(response))
	}()

	return ln.Addr().String()
}

func TestDoPlainHTTP200WithBody(t *testing.T) {
	addr := serveOnce(t, "HTTP/1.1 200 OK\r\ntest: abc\r\nContent-Length: 6\r\n\r\n200 Ok")
	host, port := splitHostPort(t, addr)

	res := httpclient.Do(context.Background(), netcore.NewConfig(), netcore.DefaultSLogger(), httpclient.Options{
		Host:     host,
		Address:  host,
		Port:     port,
		Protocol: "HTTP",
		Method:   "GET",
		Path:     "/200",
		Query:    "abc=def",
	}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "OK", res.StatusCodeName)
	assert.Equal(t, "abc", res.Headers["test"])
	assert.Equal(t, "6", res.Headers["content-length"])
	assert.Equal(t, "200 Ok", res.RawBody)
	assert.False(t, res.Truncated)
	assert.Nil(t, res.TLS)
}

func TestDoBodyTruncatesAt10000Bytes(t *testing.T) {
	body := strings.Repeat("x", 15000)
	resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	addr := serveOnce(t, resp)
	host, port := splitHostPort(t, addr)

	res := httpclient.Do(context.Background(), netcore.NewConfig(), netcore.DefaultSLogger(), httpclient.Options{
		Host: host, Address: host, Port: port, Protocol: "HTTP", Path: "/",
	}, nil)

	require.NoError(t, res.Err)
	assert.Len(t, res.RawBody, 10000)
	assert.True(t, res.Truncated)
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return host, port
}
