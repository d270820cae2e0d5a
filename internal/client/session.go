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

// Package client implements the connection/session layer shared by the
// HTTP, msgpack-RPC, and raw protocol clients (spec.md §4.4-§4.9): one
// TCP session type with connect/read/write deadlines, a one-shot future
// for request/response correlation, and a per-destination client cache.
//
// Grounded on nabbar-golib's httpcli package (connection + deadline
// handling shape: httpcli/cli.go, httpcli/network.go) and on the
// documented surface of its socket/client package (socket/*_test.go),
// whose non-test source was not present in the retrieval pack.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the Session connection state machine of spec.md §4.4:
// Closed -> Connecting -> Open -> Closed.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

const (
	// DefaultConnectTimeout is the spec.md §4.4 default connect deadline.
	DefaultConnectTimeout = 5 * time.Second
	oneMB                 = 1024 * 1024
)

// Session wraps a single TCP socket plus the deadline rules of spec.md
// §4.4. It is safe for concurrent use: a Write while the session is
// Connecting blocks (yields, in fiber terms) until the state leaves
// Connecting.
type Session struct {
	connectTimeout time.Duration
	readBaseMs     int64 // read_to_ms

	state atomic.Int32

	mu   sync.Mutex
	conn net.Conn

	notConnecting chan struct{} // closed and replaced whenever state leaves Connecting
}

// NewSession returns a Session ready to Connect. readBaseMs is the fixed
// part of the read-deadline formula (read_to_ms + bytes/1MB), per
// spec.md §4.4.
func NewSession(connectTimeout time.Duration, readBaseMs int64) *Session {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	s := &Session{
		connectTimeout: connectTimeout,
		readBaseMs:     readBaseMs,
		notConnecting:  make(chan struct{}),
	}
	close(s.notConnecting) // starts Closed, not Connecting
	s.state.Store(int32(StateClosed))
	return s
}

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.mu.Lock()
	wasConnecting := State(s.state.Load()) == StateConnecting
	s.state.Store(int32(st))
	if wasConnecting && st != StateConnecting {
		close(s.notConnecting)
	} else if st == StateConnecting {
		s.notConnecting = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *Session) waitNotConnecting(ctx context.Context) error {
	s.mu.Lock()
	ch := s.notConnecting
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect resolves hostport and dials it under connectTimeout (or ctx's
// own deadline if shorter). On timeout the dial is cancelled and the
// session returns to Closed, per spec.md §4.4.
func (s *Session) Connect(ctx context.Context, hostport string) error {
	s.setState(StateConnecting)

	cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(cctx, "tcp", hostport)
	if err != nil {
		s.setState(StateClosed)
		if cctx.Err() != nil {
			return ErrConnectTimeout.Error(err)
		}
		return ErrConnectFailed.Error(err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateOpen)
	return nil
}

// Write performs an async write with no separate timer (errors close the
// socket), per spec.md §4.4. Concurrent callers block while the session
// is Connecting.
func (s *Session) Write(ctx context.Context, b []byte) error {
	if err := s.waitNotConnecting(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.State() != StateOpen {
		return ErrClosed.Error()
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	if _, err := conn.Write(b); err != nil {
		_ = s.Shutdown(true)
		return ErrWriteFailed.Error(err)
	}
	return nil
}

// readDeadline implements "read_to_ms + bytes/1MB" from spec.md §4.4.
func (s *Session) readDeadline(bufLen int) time.Duration {
	ms := s.readBaseMs + int64(bufLen)/oneMB
	return time.Duration(ms) * time.Millisecond
}

// ReadSome reads at least one byte into buf, returning the number read.
// On deadline expiry the socket is cancelled (closed), per spec.md §4.4.
func (s *Session) ReadSome(buf []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.State() != StateOpen {
		return 0, ErrClosed.Error()
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline(len(buf))))
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			_ = s.Shutdown(true)
			return n, ErrReadTimeout.Error(err)
		}
		return n, err
	}
	return n, nil
}

// ReadExact fills buf completely, honoring the same scaled deadline for
// the whole operation.
func (s *Session) ReadExact(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.State() != StateOpen {
		return ErrClosed.Error()
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline(len(buf))))
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				_ = s.Shutdown(true)
				return ErrReadTimeout.Error(err)
			}
			return err
		}
	}
	return nil
}

// Shutdown half-closes (closeFull=false) or fully closes the socket. It
// is idempotent, per spec.md §4.4.
func (s *Session) Shutdown(closeFull bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.setState(StateClosed)
		return nil
	}

	var err error
	if !closeFull {
		if tc, ok := conn.(*net.TCPConn); ok {
			err = tc.CloseWrite()
		} else {
			err = conn.Close()
		}
	} else {
		err = conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.setState(StateClosed)
	}
	return err
}

// Conn exposes the underlying net.Conn, for the raw byte-pump used by the
// port-forward manager (spec.md §4.14), which needs direct io.Copy
// access rather than the framed Read/Write helpers above.
func (s *Session) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
