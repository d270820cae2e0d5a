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

// Package rawclient implements the raw framed protocol client of
// spec.md §4.7: 4-byte big-endian sequence, 4-byte big-endian length,
// payload; the same sequence/future correlation and single-reader-
// goroutine pattern as the msgpack-RPC client, with no size ceiling.
//
// Grounded on nabbar-golib's httpcli/network.go framed-read loop
// (fixed-size header read followed by a payload read of the decoded
// length).
package rawclient

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/obslog"
)

const headerSize = 8 // 4-byte seq + 4-byte length

// Client is one long-lived raw-framed connection, shared by every
// concurrent caller targeting the same destination (spec.md §4.9).
type Client struct {
	sess *client.Session

	writeMu sync.Mutex
	nextSeq atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*client.Future

	readOnce sync.Once
}

// Dial connects a new raw client to hostport.
func Dial(ctx context.Context, hostport string, readBaseMs int64) (*Client, error) {
	s := client.NewSession(client.DefaultConnectTimeout, readBaseMs)
	if err := s.Connect(ctx, hostport); err != nil {
		return nil, err
	}
	return &Client{sess: s, pending: make(map[uint32]*client.Future)}, nil
}

// Close tears the session down and fails every outstanding future.
func (c *Client) Close() error {
	err := c.sess.Shutdown(true)
	c.failAll(client.ErrClosed.Error())
	return err
}

// Send assigns a monotonic sequence number, writes the framed payload,
// and waits for the matching framed response.
func (c *Client) Send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	c.readOnce.Do(func() { go c.readLoop() })

	seq := c.nextSeq.Add(1)
	fut := client.NewFuture(timeout, func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	})

	c.mu.Lock()
	c.pending[seq] = fut
	c.mu.Unlock()

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], seq)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	c.writeMu.Lock()
	err := c.sess.Write(ctx, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return nil, err
	}

	return fut.Wait(ctx)
}

func (c *Client) readLoop() {
	header := make([]byte, headerSize)
	for {
		if err := c.sess.ReadExact(header); err != nil {
			c.failAll(err)
			return
		}
		seq := binary.BigEndian.Uint32(header[0:4])
		length := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if length > 0 {
			if err := c.sess.ReadExact(payload); err != nil {
				c.failAll(err)
				return
			}
		}

		c.mu.Lock()
		fut, ok := c.pending[seq]
		delete(c.pending, seq)
		c.mu.Unlock()
		if !ok {
			continue
		}
		fut.Complete(payload, nil)
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*client.Future)
	c.mu.Unlock()

	for seq, fut := range pending {
		obslog.DebugLevel.Logf("raw client: failing seq %d: %v", seq, err)
		fut.Complete(nil, err)
	}
}
