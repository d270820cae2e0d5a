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

package forward

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/client/httpclient"
	"github.com/nabbar/fibp/internal/client/rawclient"
	"github.com/nabbar/fibp/internal/client/rpcclient"
	"github.com/nabbar/fibp/internal/engine"
	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

const (
	localTestService = "local_test"
	maxAttempts      = 3
	attemptStepMs    = 5000
	readBaseMs       = 200
)

// CallLogger is the subset of internal/logsink.Sink the Forward Manager
// needs, per spec.md §4.13's "one log slot reserved by the controller
// (startServiceCall), one sub-record per upstream attempt, closed by
// endServiceCall".
type CallLogger interface {
	StartServiceCall(svc string) uint64
	RecordAttempt(id uint64, host, port string, latency time.Duration, err error)
	EndServiceCall(id uint64)
}

type noopLogger struct{}

func (noopLogger) StartServiceCall(string) uint64                               { return 0 }
func (noopLogger) RecordAttempt(uint64, string, string, time.Duration, error) {}
func (noopLogger) EndServiceCall(uint64)                                        {}

// Manager is the Forward Manager of spec.md §4.13: the orchestrator
// tying service discovery, the client pool, the cache, and the
// transaction manager together.
//
// Grounded on nabbar-golib's httpserver request-lifecycle shape (accept
// -> handler -> response) generalized to call_services'/call_single's
// dispatch-retry-aggregate loop, and on its worker-pool fan-out/fan-in
// idiom reused here via internal/engine.Pool.
type Manager struct {
	routing *gateway.RoutingTable
	pool    *engine.Pool
	clients *client.Manager
	cache   *ServiceCache
	logger  CallLogger

	balanceMu sync.Mutex
	balance   map[string]*atomic.Uint64

	failureMu sync.Mutex
	failures  map[string]*atomic.Uint64
}

// NewManager builds a Forward Manager. logger may be nil, in which case
// call observability is a no-op (useful for tests).
func NewManager(routing *gateway.RoutingTable, pool *engine.Pool, clients *client.Manager, cache *ServiceCache, logger CallLogger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		routing:  routing,
		pool:     pool,
		clients:  clients,
		cache:    cache,
		logger:   logger,
		balance:  make(map[string]*atomic.Uint64),
		failures: make(map[string]*atomic.Uint64),
	}
}

// CallServices implements spec.md §4.13's call_services: batch dispatch,
// fan-out/fan-in, optional transaction; returns one response per request,
// in request order.
func (m *Manager) CallServices(ctx context.Context, reqs []gateway.ServiceCallReq, doTransaction bool) []gateway.ServiceCallRsp {
	rsps := make([]gateway.ServiceCallRsp, len(reqs))
	for i, r := range reqs {
		rsps[i].ServiceName = r.ServiceName
	}

	if doTransaction && !allHTTP(reqs) {
		rejectTransaction(rsps)
		return rsps
	}

	if len(reqs) == 1 {
		rsps[0] = m.CallSingle(ctx, reqs[0])
	} else {
		// Fan the batch out across the Pool's own workers (each call
		// still runs on a pool goroutine, not a goroutine of its own),
		// but use errgroup for the fan-in barrier so a caller-cancelled
		// ctx unblocks CallServices without waiting for every straggler.
		g, gctx := errgroup.WithContext(ctx)
		for i := range reqs {
			i := i
			g.Go(func() error {
				done := make(chan struct{})
				m.pool.ScheduleFromWorker(func() {
					rsps[i] = m.CallSingle(gctx, reqs[i])
					close(done)
				})
				select {
				case <-done:
				case <-gctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if doTransaction {
		runTransaction(ctx, reqs, rsps)
	}

	return rsps
}

// CallSingle implements spec.md §4.13's call_single.
func (m *Manager) CallSingle(ctx context.Context, req gateway.ServiceCallReq) gateway.ServiceCallRsp {
	rsp := gateway.ServiceCallRsp{ServiceName: req.ServiceName}

	if req.ServiceName == localTestService {
		rsp.Rsp = []byte(localTestService)
		return rsp
	}

	id := m.logger.StartServiceCall(req.ServiceName)
	defer m.logger.EndServiceCall(id)

	key := req.ServiceKey()
	nodes, ok := m.routing.Lookup(req.ServiceType, key)
	if !ok || len(nodes) == 0 {
		rsp.Error = ErrServiceNotFound.Message()
		return m.fallbackToCache(req, rsp)
	}

	idx := m.balanceIndex(key)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		node, found := m.routing.Pick(req.ServiceType, key, idx.Add(1))
		if !found {
			rsp.Error = ErrServiceNotFound.Message()
			return m.fallbackToCache(req, rsp)
		}

		timeout := time.Duration(attemptStepMs*attempt) * time.Millisecond
		start := time.Now()
		body, canRetry, err := m.dispatch(ctx, node, req, timeout)
		m.logger.RecordAttempt(id, node.Host, node.Port, time.Since(start), err)

		if err == nil {
			rsp.Rsp = body
			rsp.Host = node.Host
			rsp.Port = node.Port
			m.cache.Set(req, rsp)
			return rsp
		}

		lastErr = err
		m.recordFailure(key, err)

		if !canRetry {
			break
		}
	}

	rsp.Error = ErrReceiveFailed.Message() + lastErr.Error()
	return m.fallbackToCache(req, rsp)
}

// fallbackToCache implements "on total failure and enable_cache, fall
// through to a cache read" from spec.md §4.13.
func (m *Manager) fallbackToCache(req gateway.ServiceCallReq, failure gateway.ServiceCallRsp) gateway.ServiceCallRsp {
	if cached, ok := m.cache.Get(req); ok {
		return cached
	}
	return failure
}

func (m *Manager) balanceIndex(key string) *atomic.Uint64 {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()
	c, ok := m.balance[key]
	if !ok {
		c = &atomic.Uint64{}
		c.Store(rand.Uint64())
		m.balance[key] = c
	}
	return c
}

// recordFailure bumps the per-service failure counter and logs every
// 10th failure, a throttling rule carried over from the original
// implementation's per-service failure reporting (not present in the
// distilled spec, supplemented from original_source).
func (m *Manager) recordFailure(key string, err error) {
	m.failureMu.Lock()
	c, ok := m.failures[key]
	if !ok {
		c = &atomic.Uint64{}
		m.failures[key] = c
	}
	m.failureMu.Unlock()

	n := c.Add(1)
	if n%10 == 1 {
		obslog.WarnLevel.Logf("forward: service %q failure #%d: %v", key, n, err)
	}
}

// dispatch sends req to node over the protocol client.Manager checks out
// for req.ServiceType, returning the raw response body and a can-retry
// hint per spec.md §4.5/§4.6/§4.7.
func (m *Manager) dispatch(ctx context.Context, node gateway.ServiceNode, req gateway.ServiceCallReq, timeout time.Duration) ([]byte, bool, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := node.String()

	switch req.ServiceType {
	case gateway.HTTPService:
		return m.dispatchHTTP(dctx, addr, req)
	case gateway.RPCService:
		return m.dispatchRPC(dctx, addr, req, timeout)
	case gateway.RawService:
		return m.dispatchRaw(dctx, addr, req, timeout)
	default:
		return nil, false, ErrServiceNotFound.Error()
	}
}

func (m *Manager) dispatchHTTP(ctx context.Context, addr string, req gateway.ServiceCallReq) ([]byte, bool, error) {
	c, err := m.clients.CheckoutHTTP(addr, func() (client.HTTPClient, error) {
		return httpclient.Dial(ctx, addr, readBaseMs)
	})
	if err != nil {
		return nil, true, ErrSendFailed.Error(err)
	}
	hc := c.(*httpclient.Client)

	resp, err := hc.SendRequest(ctx, req.ServiceAPI, req.Method, req.ServiceReqData, true)
	if err != nil {
		m.clients.DiscardHTTP(addr, c)
		return nil, true, ErrSendFailed.Error(err)
	}
	if resp.KeepAlive {
		m.clients.CheckinHTTP(addr, c)
	} else {
		m.clients.DiscardHTTP(addr, c)
	}

	if resp.StatusCode >= 400 {
		return resp.Body, resp.CanRetry, ErrUpstreamStatus.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return resp.Body, true, nil
}

func (m *Manager) dispatchRPC(ctx context.Context, addr string, req gateway.ServiceCallReq, timeout time.Duration) ([]byte, bool, error) {
	s, err := m.clients.Stream(addr, func() (client.StreamClient, error) {
		return rpcclient.Dial(ctx, addr, readBaseMs)
	})
	if err != nil {
		return nil, true, ErrSendFailed.Error(err)
	}
	rc := s.(*rpcclient.Client)

	body, err := rc.Call(ctx, req.ServiceAPI, msgpack.RawMessage(req.ServiceReqData), timeout)
	if err != nil {
		m.clients.DiscardStream(addr, s)
		return nil, true, err
	}
	return body, true, nil
}

func (m *Manager) dispatchRaw(ctx context.Context, addr string, req gateway.ServiceCallReq, timeout time.Duration) ([]byte, bool, error) {
	s, err := m.clients.Stream(addr, func() (client.StreamClient, error) {
		return rawclient.Dial(ctx, addr, readBaseMs)
	})
	if err != nil {
		return nil, true, ErrSendFailed.Error(err)
	}
	rc := s.(*rawclient.Client)

	body, err := rc.Send(ctx, req.ServiceReqData, timeout)
	if err != nil {
		m.clients.DiscardStream(addr, s)
		return nil, true, err
	}
	return body, true, nil
}
