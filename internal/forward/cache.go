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
	"container/list"
	"sync"

	"github.com/nabbar/fibp/internal/gateway"
)

// DefaultCacheCapacity is spec.md §4.11's bounded Service Cache size.
const DefaultCacheCapacity = 1_000_000

// ServiceCache is the bounded Service Cache of spec.md §4.11: a
// map[fingerprint]ServiceCallRsp with LRLFU eviction. It is keyed by
// gateway.ServiceCallReq.Fingerprint rather than the request value
// itself, since the request contains a []byte body that cannot serve as
// a Go map key.
//
// Grounded on nabbar-golib's cache.Cache[K,V] interface shape
// (Load/Store/Delete), generalized from its time-based expiry (which
// FIBP's cache does not need - entries never expire on their own, only
// on capacity pressure or explicit overwrite) to capacity-bounded
// least-recently/least-frequently-used eviction, which no package in
// the corpus provides out of the box.
type ServiceCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key  string
	rsp  gateway.ServiceCallRsp
	freq uint32
}

// NewServiceCache returns an empty cache bounded at capacity entries.
func NewServiceCache(capacity int) *ServiceCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ServiceCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get implements spec.md §4.11's get rule: succeeds only if the entry
// exists and req.EnableCache is true; on hit it sets rsp.IsCached.
func (c *ServiceCache) Get(req gateway.ServiceCallReq) (gateway.ServiceCallRsp, bool) {
	if !req.EnableCache {
		return gateway.ServiceCallRsp{}, false
	}

	key := req.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return gateway.ServiceCallRsp{}, false
	}
	c.order.MoveToFront(el)
	ent := el.Value.(*cacheEntry)
	ent.freq++

	rsp := ent.rsp
	rsp.IsCached = true
	return rsp, true
}

// Set implements spec.md §4.11's set rule: writes only if rsp.Error is
// empty AND req.EnableCache is true.
func (c *ServiceCache) Set(req gateway.ServiceCallReq, rsp gateway.ServiceCallRsp) {
	if !req.EnableCache || rsp.Error != "" {
		return
	}
	key := req.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.rsp = rsp
		ent.freq++
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictLocked()
	}

	ent := &cacheEntry{key: key, rsp: rsp, freq: 1}
	el := c.order.PushFront(ent)
	c.items[key] = el
}

// evictLocked drops the least-frequently-used entry among the
// least-recently-used quarter of the list (on a tie, the less recently
// used one), approximating LRLFU without
// a full priority-queue rescan on every insert. Caller holds c.mu.
func (c *ServiceCache) evictLocked() {
	if c.order.Len() == 0 {
		return
	}

	scanLimit := c.order.Len() / 4
	if scanLimit < 1 {
		scanLimit = 1
	}

	var worst *list.Element
	var worstFreq uint32
	n := 0
	for el := c.order.Back(); el != nil && n < scanLimit; el, n = el.Prev(), n+1 {
		ent := el.Value.(*cacheEntry)
		if worst == nil || ent.freq < worstFreq {
			worst = el
			worstFreq = ent.freq
		}
	}
	if worst == nil {
		worst = c.order.Back()
	}

	ent := worst.Value.(*cacheEntry)
	delete(c.items, ent.key)
	c.order.Remove(worst)
}

// Len returns the current entry count, for tests.
func (c *ServiceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
