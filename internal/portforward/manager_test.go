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

package portforward

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/fibp/internal/gateway"
)

// startUpstreamEcho listens once and echoes every line it reads back
// with a "echo:" prefix, standing in for the forwarded service in
// end-to-end byte-pump tests.
func startUpstreamEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				_, _ = conn.Write([]byte("echo:" + line))
			}
			if err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestEnsureForwardBindsListenerAndPumpsBytes(t *testing.T) {
	upstream := startUpstreamEcho(t)
	host, port, _ := net.SplitHostPort(upstream)

	routing := gateway.NewRoutingTable()
	routing.Replace(gateway.RawService, "relay-dev", []gateway.ServiceNode{{Host: host, Port: port}})

	m := NewManager(routing)
	require.NoError(t, m.EnsureForward("agent-0001", "h1", "relay-dev", gateway.RawService))

	fport, ok := m.Port("agent-0001", "h1")
	require.True(t, ok)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(fport))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo:hello\n", line)
}

func TestEnsureForwardSharesListenerAcrossAgents(t *testing.T) {
	routing := gateway.NewRoutingTable()
	m := NewManager(routing)

	require.NoError(t, m.EnsureForward("agent-0001", "h1", "svc-dev", gateway.HTTPService))
	p1, _ := m.Port("agent-0001", "h1")

	require.NoError(t, m.EnsureForward("agent-0002", "h1", "svc-dev", gateway.HTTPService))
	p2, _ := m.Port("agent-0002", "h1")

	assert.Equal(t, p1, p2, "same handle should share one listener regardless of agent id")
}

func TestReleaseForwardRetiresListenerOnceEmpty(t *testing.T) {
	routing := gateway.NewRoutingTable()
	m := NewManager(routing)

	require.NoError(t, m.EnsureForward("agent-0001", "h1", "svc-dev", gateway.HTTPService))
	require.NoError(t, m.EnsureForward("agent-0002", "h1", "svc-dev", gateway.HTTPService))

	m.ReleaseForward("agent-0001", "h1")
	_, ok := m.Port("agent-0001", "h1")
	assert.True(t, ok, "listener stays alive while agent-0002 still needs it")

	m.ReleaseForward("agent-0002", "h1")
	_, ok = m.Port("agent-0001", "h1")
	assert.False(t, ok, "listener must be retired once its agent set is empty")
}

func TestDialUpstreamFallsBackFromCustomToHTTP(t *testing.T) {
	routing := gateway.NewRoutingTable()
	routing.Replace(gateway.HTTPService, "svc-dev", []gateway.ServiceNode{{Host: "10.0.0.9", Port: "80"}})

	m := NewManager(routing)
	var dialedNetwork, dialedAddr string
	m.dial = func(network, addr string) (net.Conn, error) {
		dialedNetwork, dialedAddr = network, addr
		return nil, errors.New("no real dial in this test")
	}

	l := &listener{serviceKey: "svc-dev", styp: gateway.CustomService}
	_, err := m.dialUpstream(l)
	require.Error(t, err)
	assert.Equal(t, "tcp", dialedNetwork)
	assert.Equal(t, "10.0.0.9:80", dialedAddr)
}

func TestDialUpstreamNoRouteReturnsErrNoUpstream(t *testing.T) {
	routing := gateway.NewRoutingTable()
	m := NewManager(routing)

	l := &listener{serviceKey: "ghost-dev", styp: gateway.HTTPService}
	_, err := m.dialUpstream(l)
	require.Error(t, err)
	assert.Equal(t, ErrNoUpstream.Message(), err.Error())
}

func TestDialUpstreamRetriesAcrossNodes(t *testing.T) {
	routing := gateway.NewRoutingTable()
	routing.Replace(gateway.RawService, "svc-dev", []gateway.ServiceNode{
		{Host: "10.0.0.1", Port: "1"},
		{Host: "10.0.0.2", Port: "2"},
	})

	m := NewManager(routing)
	var attempts []string
	m.dial = func(network, addr string) (net.Conn, error) {
		attempts = append(attempts, addr)
		if len(attempts) < 2 {
			return nil, errors.New("first node down")
		}
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	l := &listener{serviceKey: "svc-dev", styp: gateway.RawService}
	conn, err := m.dialUpstream(l)
	require.NoError(t, err)
	_ = conn.Close()
	require.Len(t, attempts, 2)
}
