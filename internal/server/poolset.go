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

package server

import (
	"context"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/engine"
	"github.com/nabbar/fibp/internal/forward"
	"github.com/nabbar/fibp/internal/gateway"
)

// PoolPicker assigns each accepted connection (or, for the stateless
// HTTP front end, each request) to a thread slot, per spec.md §4.3's
// per-thread object registry and §4.9's "the Client Pool is per thread".
type PoolPicker interface {
	Pick() (*engine.Pool, *Controller)
}

// PoolSet is one thread slot of spec.md §4.3: its own worker Pool, its
// own client.Manager, and the Forward Manager/Controller built on both,
// so a protocol client checked out by one Pool's workers is never shared
// with another Pool's.
type PoolSet struct {
	Pool *engine.Pool
	Ctrl *Controller

	clients *client.Manager
}

// PoolRegistry is the engine.Registry-backed home for PoolSet, handing
// out ids round-robin across n slots to incoming connections exactly as
// spec.md §4.3 describes for the per-thread object registry.
type PoolRegistry struct {
	reg *engine.Registry[*PoolSet]
	rr  *engine.RoundRobin
}

// NewPoolRegistry builds a registry of n thread slots, each with its own
// Pool and client.Manager, sharing the routing table, response cache and
// call logger every slot's Forward Manager needs.
func NewPoolRegistry(n int, routing *gateway.RoutingTable, cache *forward.ServiceCache, logger forward.CallLogger) *PoolRegistry {
	reg := engine.NewRegistry(func(id int) *PoolSet {
		p := engine.New(id)
		cl := client.NewManager()
		fwd := forward.NewManager(routing, p, cl, cache, logger)
		return &PoolSet{Pool: p, Ctrl: NewController(fwd), clients: cl}
	})
	return &PoolRegistry{reg: reg, rr: engine.NewRoundRobin(n)}
}

// Pick assigns the next id round-robin and returns that slot's Pool and
// Controller, lazily creating the slot on its first pick.
func (r *PoolRegistry) Pick() (*engine.Pool, *Controller) {
	s := r.reg.Get(r.rr.Next())
	return s.Pool, s.Ctrl
}

// Stop stops every slot's Pool and closes every slot's client.Manager,
// used during gateway shutdown.
func (r *PoolRegistry) Stop(ctx context.Context) {
	r.reg.Each(func(_ int, s *PoolSet) {
		s.Pool.Stop(ctx)
		s.clients.Close(ctx)
	})
}

// singlePool is a PoolPicker of exactly one slot, used by tests that
// exercise a single front end without the round-robin fan-out.
type singlePool struct {
	pool *engine.Pool
	ctrl *Controller
}

func newSinglePool(pool *engine.Pool, ctrl *Controller) PoolPicker {
	return singlePool{pool: pool, ctrl: ctrl}
}

func (s singlePool) Pick() (*engine.Pool, *Controller) { return s.pool, s.ctrl }
