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

// Package rpcclient implements the msgpack-RPC protocol client of
// spec.md §4.6: a monotonic msgid per call, a single background reader
// goroutine that completes a msgid -> client.Future table, a 10 MiB
// per-message ceiling, and an all-futures-fail policy on any read error.
//
// Grounded on nabbar-golib's httpcli/network.go framed-read idiom
// (length-prefixed streaming read loop) and enriched from the wider
// example corpus by adopting github.com/vmihailenco/msgpack/v5 as the
// wire codec, since the pack's own RPC-shaped dependency
// (github.com/ugorji/go/codec) is the closest in-pack analogue but the
// msgpack/v5 decoder streams directly off an io.Reader, which this
// client's single-reader-goroutine design needs.
package rpcclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/obslog"
)

const (
	// maxMessageSize is spec.md §4.6's "10 MiB per-message ceiling".
	maxMessageSize = 10 * 1024 * 1024

	requestType  = 0
	responseType = 1
)

// Client is one long-lived msgpack-RPC connection, shared by every
// concurrent caller targeting the same destination (spec.md §4.9).
type Client struct {
	sess      *client.Session
	enc       *msgpack.Encoder
	dec       *msgpack.Decoder
	msgReader *sessionReader

	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*client.Future

	readOnce sync.Once
}

// Dial connects a new RPC client to hostport.
func Dial(ctx context.Context, hostport string, readBaseMs int64) (*Client, error) {
	s := client.NewSession(client.DefaultConnectTimeout, readBaseMs)
	if err := s.Connect(ctx, hostport); err != nil {
		return nil, err
	}
	c := &Client{
		sess:    s,
		pending: make(map[uint32]*client.Future),
	}
	c.enc = msgpack.NewEncoder(sessionWriter{s})
	reader := &sessionReader{s: s}
	c.msgReader = reader
	dec := msgpack.NewDecoder(reader)
	dec.UseLooseInterfaceDecoding(true)
	c.dec = dec
	return c, nil
}

// Close tears the session down and fails every outstanding future.
func (c *Client) Close() error {
	err := c.sess.Shutdown(true)
	c.failAll(client.ErrClosed.Error())
	return err
}

// Call assigns a monotonic msgid, writes [0, msgid, method, params], and
// waits (via client.Future) for the matching [1, msgid, err, result], per
// spec.md §4.6. The background reader goroutine is spawned lazily on the
// first outstanding request.
func (c *Client) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) ([]byte, error) {
	c.readOnce.Do(func() { go c.readLoop() })

	id := c.nextID.Add(1)
	fut := client.NewFuture(timeout, func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	})

	c.mu.Lock()
	c.pending[id] = fut
	c.mu.Unlock()

	req := []interface{}{requestType, id, method, params}

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	return fut.Wait(ctx)
}

func (c *Client) readLoop() {
	for {
		c.msgReader.reset()
		var msg []msgpack.RawMessage
		if err := c.dec.Decode(&msg); err != nil {
			if err == errMessageTooLarge {
				c.failAll(client.ErrResponseTooLarge.Error())
				_ = c.sess.Shutdown(true)
				return
			}
			c.failAll(err)
			return
		}
		if len(msg) != 4 {
			continue
		}

		var typ int
		if err := msgpack.Unmarshal(msg[0], &typ); err != nil || typ != responseType {
			continue
		}
		var id uint32
		if err := msgpack.Unmarshal(msg[1], &id); err != nil {
			continue
		}

		c.mu.Lock()
		fut, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			continue
		}

		var errMsg string
		_ = msgpack.Unmarshal(msg[2], &errMsg)
		if errMsg != "" {
			fut.Complete(nil, client.ErrRPCServerError.Errorf("%s", errMsg))
			continue
		}
		fut.Complete(msg[3], nil)
	}
}

// failAll completes every outstanding future with err and empties the
// table, per spec.md §4.6's "on any read error ... completes ALL
// outstanding futures with the error string and can_retry=true".
func (c *Client) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*client.Future)
	c.mu.Unlock()

	for id, fut := range pending {
		obslog.DebugLevel.Logf("rpc client: failing msgid %d: %v", id, err)
		fut.Complete(nil, err)
	}
}

type sessionWriter struct{ s *client.Session }

func (w sessionWriter) Write(p []byte) (int, error) {
	if err := w.s.Write(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

var errMessageTooLarge = errors.New("rpc message exceeds size ceiling")

// sessionReader enforces the 10 MiB per-message ceiling of spec.md §4.6
// by counting bytes consumed since the last reset (one reset per
// Decode call in readLoop).
type sessionReader struct {
	s    *client.Session
	read int
}

func (r *sessionReader) reset() { r.read = 0 }

func (r *sessionReader) Read(p []byte) (int, error) {
	if r.read >= maxMessageSize {
		return 0, errMessageTooLarge
	}
	n, err := r.s.ReadSome(p)
	r.read += n
	return n, err
}
