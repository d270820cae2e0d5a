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
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

// LogServiceName is the reserved service name the log sink looks itself
// up under in the routing table, the same discovery mechanism used for
// business services (supplemented from original_source: the original
// gateway's findLogService resolves its own upstream this way rather
// than from static config).
const LogServiceName = "fibp-log-service"

// ResolveMetricsAddr looks LogServiceName up in routing for cluster,
// returning the first healthy node's "host:port", or ok=false if the log
// service has not been discovered yet.
func ResolveMetricsAddr(routing *gateway.RoutingTable, cluster string) (string, bool) {
	if cluster == "" {
		cluster = gateway.DefaultCluster
	}
	node, ok := routing.Pick(gateway.HTTPService, LogServiceName+"-"+cluster, 0)
	if !ok {
		return "", false
	}
	return node.String(), true
}

const (
	drainBatchSize = 1000
	drainInterval  = 50 * time.Millisecond
)

// Sink is the Logging Sink of spec.md §4.15. It satisfies
// internal/forward.CallLogger.
type Sink struct {
	ring     []slot
	size     uint64
	nextID   atomic.Uint64
	drainPos atomic.Uint64

	metricsAddr atomic.Value // string
	httpc       *http.Client

	stats *statAccumulator
	prom  *promMetrics

	stopCh chan struct{}
}

// NewSink builds a Sink with the given ring size (0 -> DefaultRingSize)
// posting batches to metricsAddr.
func NewSink(size int, metricsAddr string) *Sink {
	if size <= 0 {
		size = DefaultRingSize
	}
	s := &Sink{
		ring:   make([]slot, size),
		size:   uint64(size),
		httpc:  &http.Client{Timeout: 10 * time.Second},
		stats:  newStatAccumulator(),
		prom:   newPromMetrics(),
		stopCh: make(chan struct{}),
	}
	s.metricsAddr.Store(metricsAddr)
	return s
}

// Gatherer exposes the Sink's local Prometheus registry, for a metrics
// HTTP endpoint to scrape.
func (s *Sink) Gatherer() prometheus.Gatherer { return s.prom.Gatherer() }

// SetMetricsAddr updates the destination for both the drain POSTs and
// the per-service report POSTs, used when ResolveMetricsAddr's lookup
// changes (the log service moved or was first discovered after Sink
// construction).
func (s *Sink) SetMetricsAddr(addr string) { s.metricsAddr.Store(addr) }

func (s *Sink) addr() string {
	v, _ := s.metricsAddr.Load().(string)
	return v
}

// StartServiceCall implements spec.md §4.15: atomically increments the
// slot counter, reserves records[id mod N], timestamps its start, and
// returns the id.
func (s *Sink) StartServiceCall(service string) uint64 {
	id := s.nextID.Add(1) - 1
	s.ring[id%s.size].reset(id, service)
	return id
}

// RecordAttempt appends one upstream attempt sub-record to the slot.
func (s *Sink) RecordAttempt(id uint64, host, port string, latency time.Duration, err error) {
	sl := &s.ring[id%s.size]
	sl.mu.Lock()
	if sl.id == id {
		a := attempt{Host: host, Port: port, Latency: latency}
		if err != nil {
			a.Error = err.Error()
		}
		sl.attempts = append(sl.attempts, a)
	}
	sl.mu.Unlock()

	s.prom.observe(sl.service, latency, err == nil)
}

// EndServiceCall implements spec.md §4.15: timestamps the slot's end and
// flips wait_send with release ordering, handing the slot to the drain
// loop.
func (s *Sink) EndServiceCall(id uint64) {
	sl := &s.ring[id%s.size]
	sl.mu.Lock()
	if sl.id == id {
		sl.end = time.Now()
	}
	sl.mu.Unlock()
	sl.waitSend.Store(true)
}

// Run drives the drain loop and the 10-bucket stat swap until ctx is
// cancelled.
func (s *Sink) Run(ctx context.Context) {
	reportTicker := time.NewTicker(10 * time.Second)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-reportTicker.C:
			s.stats.reportDue(ctx, s.addr(), s.httpc)
		default:
			s.drainOnce(ctx)
			time.Sleep(drainInterval)
		}
	}
}

// Stop ends the drain loop.
func (s *Sink) Stop() { close(s.stopCh) }

// drainOnce consumes ready slots in monotonic order with acquire
// ordering, batches up to drainBatchSize into one document, and POSTs
// it. If the producer has lead the drain by more than half the ring, it
// logs a warning and advances past the dropped slots instead of
// blocking, per spec.md §4.15.
func (s *Sink) drainOnce(ctx context.Context) {
	produced := s.nextID.Load()
	pos := s.drainPos.Load()

	if produced <= pos {
		return
	}
	if produced-pos > s.size/2 {
		dropped := produced - s.size/2 - pos
		obslog.WarnLevel.Logf("logsink: drain lagging by %d slots, advancing past %d dropped records", produced-pos, dropped)
		pos = produced - s.size/2
	}

	type record struct {
		ID       uint64     `json:"id"`
		Service  string     `json:"service"`
		Start    time.Time  `json:"start"`
		End      time.Time  `json:"end"`
		Attempts []attempt  `json:"attempts"`
	}

	batch := make([]record, 0, drainBatchSize)
	for pos < produced && len(batch) < drainBatchSize {
		sl := &s.ring[pos%s.size]
		if !sl.waitSend.Load() {
			break
		}

		sl.mu.Lock()
		if sl.id == pos {
			batch = append(batch, record{
				ID:       sl.id,
				Service:  sl.service,
				Start:    sl.start,
				End:      sl.end,
				Attempts: append([]attempt(nil), sl.attempts...),
			})
			s.stats.add(sl.service, sl.end.Sub(sl.start))
		}
		sl.mu.Unlock()
		pos++
	}
	s.drainPos.Store(pos)

	addr := s.addr()
	if len(batch) == 0 || addr == "" {
		return
	}

	body, err := json.Marshal(batch)
	if err != nil {
		obslog.WarnLevel.Logf("logsink: failed to marshal drain batch: %v", err)
		return
	}

	url := "http://" + addr + "/db/FIBP/series?u=root&p=root&time_precision=u"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		obslog.WarnLevel.Logf("logsink: %v", ErrPostFailed.Error(err))
		return
	}
	_ = resp.Body.Close()
}
