/*
MIT License

Copyright (c) 2020 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package httpclient implements the HTTP/1.1 protocol client of spec.md
// §4.5: it owns a client.Session and a streaming response parser, and
// reports can-retry the way spec.md restricts it (false only on 400 and
// 404).
//
// Grounded on nabbar-golib's httpcli package, which also centers on
// *http.Client/*http.Request/*http.Response rather than a hand-rolled
// wire parser; here the transport is a client.Session instead of
// net/http's own dialer, since the gateway needs the shared
// connect/read-deadline rules of spec.md §4.4.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/gateway"
)

// Response is the result of a send, including the retry hint of spec.md
// §4.5.
type Response struct {
	StatusCode int
	Body       []byte
	CanRetry   bool
	KeepAlive  bool
}

// Client is one checked-out HTTP/1.1 connection.
type Client struct {
	sess   *client.Session
	reader *bufio.Reader
	host   string
}

// Dial connects a fresh Client to hostport, per spec.md §4.4's connect
// rules.
func Dial(ctx context.Context, hostport string, readBaseMs int64) (*Client, error) {
	s := client.NewSession(client.DefaultConnectTimeout, readBaseMs)
	if err := s.Connect(ctx, hostport); err != nil {
		return nil, err
	}
	return &Client{sess: s, host: hostport}, nil
}

// Close shuts the underlying session down fully.
func (c *Client) Close() error { return c.sess.Shutdown(true) }

// SendRequest serializes an HTTP/1.1 request with Host, Content-Length,
// and Connection headers (Connection policy derived from keepAlive), and
// waits for the server to respond in full, per spec.md §4.5.
func (c *Client) SendRequest(ctx context.Context, path string, method gateway.Method, body []byte, keepAlive bool) (*Response, error) {
	req, err := http.NewRequest(method.String(), "http://"+c.host+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Host = c.host
	req.ContentLength = int64(len(body))
	if keepAlive {
		req.Header.Set("Connection", "keep-alive")
	} else {
		req.Header.Set("Connection", "close")
	}

	var buf bytes.Buffer
	if err = req.Write(&buf); err != nil {
		return nil, err
	}
	if err = c.sess.Write(ctx, buf.Bytes()); err != nil {
		return nil, err
	}

	if c.reader == nil {
		c.reader = bufio.NewReader(sessionReader{c.sess})
	}

	rsp, err := c.getResponse(req)
	if err != nil {
		return nil, err
	}

	closeNow := !keepAlive || rsp.StatusCode == 0
	if closeNow {
		_ = c.sess.Shutdown(true)
	}
	return rsp, nil
}

// getResponse runs the streaming parser to completion, per spec.md
// §4.5's "get_response runs a streaming parser to completion under the
// read deadline".
func (c *Client) getResponse(req *http.Request) (*Response, error) {
	resp, err := http.ReadResponse(c.reader, req)
	if err != nil {
		if err == io.EOF {
			_ = c.sess.Shutdown(true)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = c.sess.Shutdown(true)
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		CanRetry:   resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound,
		KeepAlive:  !resp.Close,
	}, nil
}

// sessionReader adapts client.Session.ReadSome to io.Reader for bufio,
// scaling the per-Read deadline with the caller's buffer size exactly as
// Session.ReadSome already does.
type sessionReader struct{ s *client.Session }

func (r sessionReader) Read(p []byte) (int, error) { return r.s.ReadSome(p) }
