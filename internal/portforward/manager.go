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

// Package portforward implements the Port-Forward Server of spec.md
// §4.14: dynamic ephemeral-port listeners bound to a (service, protocol)
// pair discovered via the registry KV watcher, retired once their agent
// set empties.
//
// Grounded on nabbar-golib's httpserver accept-loop shape (listener ->
// per-connection goroutine -> graceful shutdown) generalized from an
// HTTP handler to a raw byte pump.
package portforward

import (
	"io"
	"net"
	"sync"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

const slabSize = 10 * 1024

const forwardRetries = 3

// listener is one dynamic port-forward binding: a live net.Listener plus
// the set of agent ids currently requiring it.
type listener struct {
	mu         sync.Mutex
	ln         net.Listener
	serviceKey string
	styp       gateway.ServiceType
	agents     map[string]struct{}
}

// Manager owns every live port-forward listener, keyed by the handle
// part of the registry key and shared by every agent that requests
// that handle, per spec.md §4.10 point 3 / §4.14.
type Manager struct {
	mu      sync.Mutex
	byKey   map[string]*listener // handle -> listener
	routing *gateway.RoutingTable
	dial    func(network, addr string) (net.Conn, error)
}

// NewManager builds an empty port-forward manager. routing is consulted
// to choose an upstream for each accepted connection.
func NewManager(routing *gateway.RoutingTable) *Manager {
	return &Manager{
		byKey:   make(map[string]*listener),
		routing: routing,
		dial:    net.Dial,
	}
}

// EnsureForward implements discovery.PortForwardSink: binds a new
// ephemeral listener for (serviceKey, styp) the first time this
// handle is seen, or adds agentID to the existing
// listener's agent set if one already serves this handle.
func (m *Manager) EnsureForward(agentID, handle, serviceKey string, styp gateway.ServiceType) error {
	key := handle

	m.mu.Lock()
	if l, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		l.mu.Lock()
		l.agents[agentID] = struct{}{}
		l.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return ErrListenFailed.Error(err)
	}

	l := &listener{
		ln:         ln,
		serviceKey: serviceKey,
		styp:       styp,
		agents:     map[string]struct{}{agentID: {}},
	}

	m.mu.Lock()
	m.byKey[key] = l
	m.mu.Unlock()

	obslog.InfoLevel.Logf("portforward: listening on %s for service %q (agent %q)", ln.Addr(), serviceKey, agentID)
	go m.acceptLoop(l)
	return nil
}

// ReleaseForward implements discovery.PortForwardSink: drops agentID
// from the handle's agent set, closing and discarding the listener once
// the set is empty, per spec.md §4.14's retirement rule.
func (m *Manager) ReleaseForward(agentID, handle string) {
	key := handle

	m.mu.Lock()
	l, ok := m.byKey[key]
	if ok {
		delete(m.byKey, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	delete(l.agents, agentID)
	empty := len(l.agents) == 0
	l.mu.Unlock()

	if empty {
		obslog.InfoLevel.Logf("portforward: retiring listener %s (agent set empty)", l.ln.Addr())
		_ = l.ln.Close()
	} else {
		m.mu.Lock()
		m.byKey[key] = l
		m.mu.Unlock()
	}
}

// Port returns the bound port of the listener serving handle, for tests
// and for reporting the dynamic binding externally; every agent sharing
// the handle gets the same port.
func (m *Manager) Port(agentID, handle string) (uint16, bool) {
	m.mu.Lock()
	l, ok := m.byKey[handle]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return uint16(l.ln.Addr().(*net.TCPAddr).Port), true
}

func (m *Manager) acceptLoop(l *listener) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go m.handleConn(l, conn)
	}
}

// handleConn implements spec.md §4.14's byte pump: one upstream
// ClientSession with no deadlines, a second goroutine for
// upstream->client, this goroutine for client->upstream, each running
// until EOF or error and then half-closing the other side.
func (m *Manager) handleConn(l *listener, client net.Conn) {
	defer client.Close()

	upstream, err := m.dialUpstream(l)
	if err != nil {
		obslog.WarnLevel.Logf("portforward: %v", err)
		return
	}
	defer upstream.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, slabSize)
		_, _ = io.CopyBuffer(client, upstream, buf)
		closeWrite(client)
	}()

	buf := make([]byte, slabSize)
	_, _ = io.CopyBuffer(upstream, client, buf)
	closeWrite(upstream)
	<-done
}

func closeWrite(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// dialUpstream implements spec.md §4.14 step 2: chooses an upstream via
// the routing table, with a one-level fallback from Custom to HTTP, and
// up to forwardRetries attempts across different nodes.
func (m *Manager) dialUpstream(l *listener) (net.Conn, error) {
	styp := l.styp
	nodes, ok := m.routing.Lookup(styp, l.serviceKey)
	if (!ok || len(nodes) == 0) && styp == gateway.CustomService {
		styp = gateway.HTTPService
		nodes, ok = m.routing.Lookup(styp, l.serviceKey)
	}
	if !ok || len(nodes) == 0 {
		return nil, ErrNoUpstream.Error()
	}

	var lastErr error
	for attempt := 0; attempt < forwardRetries && attempt < len(nodes); attempt++ {
		node, found := m.routing.Pick(styp, l.serviceKey, uint64(attempt))
		if !found {
			continue
		}
		conn, err := m.dial("tcp", node.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoUpstream.Error()
	}
	return nil, lastErr
}
