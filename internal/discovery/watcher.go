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

// Package discovery implements the Service Discovery Watcher of
// spec.md §4.10: four independent long-poll loops against a
// Consul-compatible HTTP registry, feeding a shared gateway.RoutingTable
// and the port-forward manager.
//
// Grounded on nabbar-golib's runner/ticker repeating-task shape (trimmed
// into ticker.go) for the loop discipline, and on its httpcli request
// style (explicit Host/query/header construction over *http.Client) for
// the registry HTTP calls.
package discovery

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

// atomic64 is a small named wrapper so long-poll index fields read as
// plain values in the struct below instead of atomic.Uint64 directly.
type atomic64 struct{ v atomic.Uint64 }

func (a *atomic64) load() uint64   { return a.v.Load() }
func (a *atomic64) store(x uint64) { a.v.Store(x) }

// PortForwardSink is how the port-forward key watcher hands discovered
// (agent, handle, service, protocol) bindings to the Port-Forward
// Manager, per spec.md §4.10 point 3. Implemented by
// internal/portforward.Manager.
type PortForwardSink interface {
	EnsureForward(agentID, handle string, serviceKey string, styp gateway.ServiceType) error
	ReleaseForward(agentID, handle string)
}

// Watcher owns the four discovery loops and the routing table they feed.
type Watcher struct {
	reg     *registryClient
	routing *gateway.RoutingTable
	sink    PortForwardSink

	clusterMu sync.RWMutex
	cluster   string

	tagsMu sync.Mutex
	tags   map[string][]string // service name -> registry tags

	kvGen     uint64
	seenKV    map[string]uint64 // key -> generation last observed, per spec.md §4.10 point 3

	servicesTicker *ticker
	clusterTicker  *ticker
	kvTicker       *ticker

	nodeMu      sync.Mutex
	nodeTickers map[string]*ticker

	servicesIndex atomic64
	clusterIndex  atomic64
	kvIndex       atomic64
}

// NewWatcher builds a Watcher polling addrs, publishing into routing, and
// forwarding port-forward bindings to sink.
func NewWatcher(addrs []string, routing *gateway.RoutingTable, sink PortForwardSink) *Watcher {
	w := &Watcher{
		reg:         newRegistryClient(addrs),
		routing:     routing,
		sink:        sink,
		cluster:     gateway.DefaultCluster,
		tags:        make(map[string][]string),
		seenKV:      make(map[string]uint64),
		nodeTickers: make(map[string]*ticker),
	}
	w.servicesTicker = newTicker(time.Second, w.pollServices)
	w.clusterTicker = newTicker(time.Second, w.pollCluster)
	w.kvTicker = newTicker(time.Second, w.pollPortForwardKeys)
	return w
}

// Start launches all four loops.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.servicesTicker.Start(ctx); err != nil {
		return err
	}
	if err := w.clusterTicker.Start(ctx); err != nil {
		return err
	}
	if err := w.kvTicker.Start(ctx); err != nil {
		return err
	}
	return nil
}

// Stop cancels every loop, including per-service node watchers spawned
// along the way.
func (w *Watcher) Stop(ctx context.Context) {
	_ = w.servicesTicker.Stop(ctx)
	_ = w.clusterTicker.Stop(ctx)
	_ = w.kvTicker.Stop(ctx)

	w.nodeMu.Lock()
	defer w.nodeMu.Unlock()
	for _, t := range w.nodeTickers {
		_ = t.Stop(ctx)
	}
}

// ClusterName returns the currently discovered cluster suffix, default
// "dev", per spec.md §4.10 point 4.
func (w *Watcher) ClusterName() string {
	w.clusterMu.RLock()
	defer w.clusterMu.RUnlock()
	return w.cluster
}

// pollServices implements spec.md §4.10 point 1: the service list
// watcher. On seeing a name for the first time it starts a dedicated
// node watcher.
func (w *Watcher) pollServices(ctx context.Context) error {
	var out map[string]catalogServiceEntry
	idx, err := w.reg.getJSON(ctx, "/v1/catalog/services", w.servicesIndex.load(), &out)
	if err != nil {
		return err
	}
	w.servicesIndex.store(idx)

	w.tagsMu.Lock()
	for name, tags := range out {
		w.tags[name] = tags
		if _, ok := w.nodeTickerExists(name); !ok {
			w.startNodeWatcher(ctx, name)
		}
	}
	w.tagsMu.Unlock()
	return nil
}

func (w *Watcher) nodeTickerExists(name string) (*ticker, bool) {
	w.nodeMu.Lock()
	defer w.nodeMu.Unlock()
	t, ok := w.nodeTickers[name]
	return t, ok
}

func (w *Watcher) startNodeWatcher(ctx context.Context, name string) {
	w.nodeMu.Lock()
	if _, ok := w.nodeTickers[name]; ok {
		w.nodeMu.Unlock()
		return
	}
	var idx atomic64
	t := newTicker(time.Second, func(ctx context.Context) error {
		return w.pollServiceNodes(ctx, name, &idx)
	})
	w.nodeTickers[name] = t
	w.nodeMu.Unlock()

	if err := t.Start(ctx); err != nil {
		obslog.WarnLevel.Logf("discovery: failed to start node watcher for %q: %v", name, err)
	}
}

// pollServiceNodes implements spec.md §4.10 point 2: fetches healthy
// nodes for name and replaces the routing table entry under write-lock.
func (w *Watcher) pollServiceNodes(ctx context.Context, name string, idx *atomic64) error {
	var out []healthEntry
	next, err := w.reg.getJSON(ctx, "/v1/health/service/"+name, idx.load(), &out)
	if err != nil {
		return err
	}
	idx.store(next)

	w.tagsMu.Lock()
	tags := w.tags[name]
	w.tagsMu.Unlock()
	styp, cluster := parseServiceTags(tags)

	nodes := make([]gateway.ServiceNode, 0, len(out))
	for _, e := range out {
		if !e.allChecksPassing() {
			continue
		}
		nodes = append(nodes, gateway.ServiceNode{
			Host: e.Service.Address,
			Port: strconv.Itoa(e.Service.Port),
		})
	}

	key := name + "-" + cluster
	w.routing.Replace(styp, key, nodes)
	return nil
}

// parseServiceTags maps registry tags to a ServiceType and cluster name,
// per spec.md §4.10's tag rules: "http"/"rpc"/"raw" select the protocol,
// any other tag is a cluster tag, and absence of a cluster tag defaults
// to "dev".
func parseServiceTags(tags []string) (gateway.ServiceType, string) {
	styp := gateway.HTTPService
	cluster := gateway.DefaultCluster

	for _, t := range tags {
		switch strings.ToLower(t) {
		case "http":
			styp = gateway.HTTPService
		case "rpc":
			styp = gateway.RPCService
		case "raw":
			styp = gateway.RawService
		default:
			if t != "" {
				cluster = t
			}
		}
	}
	return styp, cluster
}

// pollCluster implements spec.md §4.10 point 4.
func (w *Watcher) pollCluster(ctx context.Context) error {
	var out clusterResponse
	idx, err := w.reg.getJSON(ctx, "/api/local/get-cluster", w.clusterIndex.load(), &out)
	if err != nil {
		return err
	}
	w.clusterIndex.store(idx)

	name := out.ClusterName
	if name == "" {
		name = gateway.DefaultCluster
	}
	w.clusterMu.Lock()
	w.cluster = name
	w.clusterMu.Unlock()
	return nil
}

// pollPortForwardKeys implements spec.md §4.10 point 3: keys already
// fetched on a previous tick are skipped (w.seenKV), and a key absent
// from this tick's listing retires its forward (spec.md §4.14's "a port
// with an empty agent set is retired").
func (w *Watcher) pollPortForwardKeys(ctx context.Context) error {
	var keys []kvKey
	idx, err := w.reg.getJSON(ctx, "/v1/kv/fibp-forward-port?keys", w.kvIndex.load(), &keys)
	if err != nil {
		return err
	}
	w.kvIndex.store(idx)

	w.kvGen++
	gen := w.kvGen

	for _, k := range keys {
		if _, ok := w.seenKV[k.Key]; ok {
			w.seenKV[k.Key] = gen
			continue
		}
		w.seenKV[k.Key] = gen

		if len(k.Key) < 10 {
			continue
		}
		agentID := k.Key[:10]
		handle := k.Key[10:]

		var entries []kvEntry
		if _, err = w.reg.getJSON(ctx, "/v1/kv/"+k.Key, 0, &entries); err != nil {
			obslog.WarnLevel.Logf("discovery: failed to fetch kv %q: %v", k.Key, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		val, derr := decodeKVValue(entries[0].Value)
		if derr != nil {
			obslog.WarnLevel.Logf("discovery: failed to decode kv %q: %v", k.Key, derr)
			continue
		}

		parts := strings.SplitN(val, ",", 2)
		if len(parts) != 2 {
			continue
		}
		svcName, protoTag := parts[0], parts[1]
		styp, cluster := parseServiceTags([]string{protoTag})
		serviceKey := svcName + "-" + cluster

		if w.sink != nil {
			if err = w.sink.EnsureForward(agentID, handle, serviceKey, styp); err != nil {
				obslog.WarnLevel.Logf("discovery: failed to ensure forward for agent %q: %v", agentID, err)
			}
		}
	}

	for key, last := range w.seenKV {
		if last == gen || len(key) < 10 {
			continue
		}
		delete(w.seenKV, key)
		if w.sink != nil {
			w.sink.ReleaseForward(key[:10], key[10:])
		}
	}
	return nil
}
