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

package client

import (
	"context"
	"sync"
)

// HTTPClient is the minimal surface the pool needs from an HTTP protocol
// client to check it in and out; internal/client/httpclient.Client
// satisfies it.
type HTTPClient interface {
	Close() error
}

// StreamClient is the minimal surface shared by the long-lived RPC and
// Raw clients, which multiplex concurrently over one socket rather than
// being checked out per call.
type StreamClient interface {
	Close() error
}

const (
	// MaxHTTPClientsPerDestination is spec.md §4.9's "at most 100 HTTP
	// clients concurrently" per "host:port" destination.
	MaxHTTPClientsPerDestination = 100
)

// destState is the per-"host:port" bookkeeping of spec.md §4.9: a LIFO
// stack of idle HTTP clients plus a live-count cap, and a single
// long-lived stream client shared by every caller targeting that
// destination.
type destState struct {
	mu       sync.Mutex
	idleHTTP []HTTPClient
	liveHTTP int
	stream   StreamClient
}

// Manager is the Client Pool of spec.md §4.9: per-thread (here,
// per-engine.Pool-id, via one Manager instance per Registry slot) state
// keyed by destination "host:port".
//
// Grounded on nabbar-golib's httpcli connection-reuse idiom (checkout /
// checkin of a pooled *http.Client-like object) generalized to the three
// protocol kinds FIBP needs.
type Manager struct {
	mu    sync.Mutex
	dests map[string]*destState
}

// NewManager returns an empty per-destination client pool.
func NewManager() *Manager {
	return &Manager{dests: make(map[string]*destState)}
}

func (m *Manager) dest(key string) *destState {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dests[key]
	if !ok {
		d = &destState{}
		m.dests[key] = d
	}
	return d
}

// CheckoutHTTP returns an idle client for key if one is stacked, or calls
// factory to build a new one if the per-destination cap has not been
// reached. It returns ErrDestinationCapReached ("Send Service Request
// Failed.") once MaxHTTPClientsPerDestination live clients already exist.
func (m *Manager) CheckoutHTTP(key string, factory func() (HTTPClient, error)) (HTTPClient, error) {
	d := m.dest(key)

	d.mu.Lock()
	if n := len(d.idleHTTP); n > 0 {
		c := d.idleHTTP[n-1]
		d.idleHTTP = d.idleHTTP[:n-1]
		d.mu.Unlock()
		return c, nil
	}
	if d.liveHTTP >= MaxHTTPClientsPerDestination {
		d.mu.Unlock()
		return nil, ErrDestinationCapReached.Error()
	}
	d.liveHTTP++
	d.mu.Unlock()

	c, err := factory()
	if err != nil {
		d.mu.Lock()
		d.liveHTTP--
		d.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// CheckinHTTP returns c to key's idle stack (LIFO: most-recently-used
// client is reused first, matching nabbar-golib's pooled-connection
// warm-reuse preference).
func (m *Manager) CheckinHTTP(key string, c HTTPClient) {
	d := m.dest(key)
	d.mu.Lock()
	d.idleHTTP = append(d.idleHTTP, c)
	d.mu.Unlock()
}

// DiscardHTTP drops c instead of returning it to the idle stack (used
// after a connection error), freeing its slot in the per-destination cap.
func (m *Manager) DiscardHTTP(key string, c HTTPClient) {
	_ = c.Close()
	d := m.dest(key)
	d.mu.Lock()
	d.liveHTTP--
	d.mu.Unlock()
}

// Stream returns the single long-lived client for key, dialing it with
// factory on first use. RPC and Raw clients multiplex all concurrent
// callers over this one instance, per spec.md §4.9. Unlike CheckoutHTTP,
// a failed dial is never memoized: every call that finds no live stream
// retries factory under the lock, so a down upstream reports a fresh
// error on every attempt instead of caching the first failure.
func (m *Manager) Stream(key string, factory func() (StreamClient, error)) (StreamClient, error) {
	d := m.dest(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return d.stream, nil
	}

	s, err := factory()
	if err != nil {
		return nil, err
	}
	d.stream = s
	return s, nil
}

// DiscardStream drops the live stream client for key so the next Stream
// call redials, used after the shared connection reports an error.
func (m *Manager) DiscardStream(key string, c StreamClient) {
	d := m.dest(key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == c {
		_ = c.Close()
		d.stream = nil
	}
}

// Close closes every idle HTTP client and every stream client across all
// destinations, used during gateway shutdown.
func (m *Manager) Close(_ context.Context) {
	m.mu.Lock()
	dests := make([]*destState, 0, len(m.dests))
	for _, d := range m.dests {
		dests = append(dests, d)
	}
	m.mu.Unlock()

	for _, d := range dests {
		d.mu.Lock()
		for _, c := range d.idleHTTP {
			_ = c.Close()
		}
		d.idleHTTP = nil
		if d.stream != nil {
			_ = d.stream.Close()
		}
		d.mu.Unlock()
	}
}
