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

package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// bucket accumulates one calendar second of latency samples for one
// service, per spec.md §4.15.
type bucket struct {
	totalLatency time.Duration
	count        uint64
}

func (b *bucket) add(latency time.Duration) {
	b.totalLatency += latency
	b.count++
}

func (b bucket) avg() time.Duration {
	if b.count == 0 {
		return 0
	}
	return b.totalLatency / time.Duration(b.count)
}

// serviceHistory holds the rolling per-second buckets for one service,
// up to 10 seconds deep before a swap.
type serviceHistory struct {
	buckets   []bucket
	curSecond int64
}

// statAccumulator implements spec.md §4.15's "per-service stats:
// per calendar-second buckets ... when ten seconds of history are
// available they are swapped under a writer lock with a snapshot map".
type statAccumulator struct {
	mu       sync.Mutex
	current  map[string]*serviceHistory
	snapshot map[string]Snapshot
}

// Snapshot is one service's reportable stat row, matching the
// {Name, Latency, RequestPerSec, Timestamp} shape POSTed to
// /api/monitor/cluster/report-service.
type Snapshot struct {
	Name          string    `json:"Name"`
	Latency       float64   `json:"Latency"`
	RequestPerSec float64   `json:"RequestPerSec"`
	Timestamp     time.Time `json:"Timestamp"`
}

func newStatAccumulator() *statAccumulator {
	return &statAccumulator{
		current:  make(map[string]*serviceHistory),
		snapshot: make(map[string]Snapshot),
	}
}

func (a *statAccumulator) add(service string, latency time.Duration) {
	sec := time.Now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.current[service]
	if !ok {
		h = &serviceHistory{curSecond: sec}
		a.current[service] = h
	}
	if h.curSecond != sec {
		h.buckets = append(h.buckets, bucket{})
		h.curSecond = sec
	}
	if len(h.buckets) == 0 {
		h.buckets = append(h.buckets, bucket{})
	}
	h.buckets[len(h.buckets)-1].add(latency)

	if len(h.buckets) >= 10 {
		a.swapLocked(service, h)
	}
}

// swapLocked replaces the snapshot row for service with a fresh average
// over the accumulated buckets and resets the rolling window. Caller
// holds a.mu.
func (a *statAccumulator) swapLocked(service string, h *serviceHistory) {
	var total time.Duration
	var count uint64
	for _, b := range h.buckets {
		total += b.totalLatency
		count += b.count
	}

	snap := Snapshot{Name: service, Timestamp: time.Now()}
	if count > 0 {
		snap.Latency = (total / time.Duration(count)).Seconds() * 1000
	}
	snap.RequestPerSec = float64(count) / float64(len(h.buckets))

	a.snapshot[service] = snap
	h.buckets = h.buckets[:0]
}

// reportDue POSTs the current snapshot map to the cluster-report
// endpoint, per spec.md §6's "POST /api/monitor/cluster/report-service
// every 10 s".
func (a *statAccumulator) reportDue(ctx context.Context, metricsAddr string, hc *http.Client) {
	if metricsAddr == "" {
		return
	}

	a.mu.Lock()
	rows := make([]Snapshot, 0, len(a.snapshot))
	for _, s := range a.snapshot {
		rows = append(rows, s)
	}
	a.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return
	}

	url := "http://" + metricsAddr + "/api/monitor/cluster/report-service"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
