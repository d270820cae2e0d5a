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

package gateway

import "sync"

// RoutingTable maps a service key ("name-cluster") to its ordered node
// sequence, one map per ServiceType. It is mutated only by the discovery
// watcher; readers (the forward manager, the port-forward manager) take
// the shared RLock, per spec.md §3's invariant "mutated only by the
// discovery watcher; readers take a shared lock".
type RoutingTable struct {
	mu    sync.RWMutex
	byTyp map[ServiceType]map[string][]ServiceNode
}

// NewRoutingTable returns an empty table ready for use.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		byTyp: map[ServiceType]map[string][]ServiceNode{
			HTTPService:   {},
			RPCService:    {},
			RawService:    {},
			CustomService: {},
		},
	}
}

// Replace atomically swaps the node sequence for (typ, key). An empty
// nodes slice removes the entry, matching the discovery watcher's health
// rule: "a node for a failed health check MUST NOT appear in the table".
func (t *RoutingTable) Replace(typ ServiceType, key string, nodes []ServiceNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byTyp[typ]
	if !ok {
		m = map[string][]ServiceNode{}
		t.byTyp[typ] = m
	}
	if len(nodes) == 0 {
		delete(m, key)
		return
	}
	cp := make([]ServiceNode, len(nodes))
	copy(cp, nodes)
	m[key] = cp
}

// Lookup returns the node sequence for (typ, key) and whether it exists
// and is non-empty.
func (t *RoutingTable) Lookup(typ ServiceType, key string) ([]ServiceNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes, ok := t.byTyp[typ][key]
	return nodes, ok && len(nodes) > 0
}

// Pick resolves one node from (typ, key) at the given balance index,
// round-robin, per spec.md §4.13: "resolve host:port via the routing
// table with a round-robin index".
func (t *RoutingTable) Pick(typ ServiceType, key string, balanceIndex uint64) (ServiceNode, bool) {
	nodes, ok := t.Lookup(typ, key)
	if !ok {
		return ServiceNode{}, false
	}
	return nodes[balanceIndex%uint64(len(nodes))], true
}

// Services returns the set of service keys currently known for typ, used
// by the port-forward manager's Custom->HTTP fallback.
func (t *RoutingTable) Services(typ ServiceType) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.byTyp[typ]))
	for k := range t.byTyp[typ] {
		keys = append(keys, k)
	}
	return keys
}
