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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics is the local Prometheus mirror of spec.md's per-attempt
// observability, named in SPEC_FULL.md's domain stack as the
// ecosystem's idiomatic counterpart to the external time-series POSTs
// above (which remain the system of record the original gateway talks
// to; Prometheus is an additional local scrape surface).
//
// Each Sink owns its own Registry rather than registering into
// prometheus.DefaultRegisterer: the gateway process builds one Sink per
// PoolRegistry's worth of traffic, but nothing stops a test (or a future
// multi-tenant embedding of this package) from constructing more than
// one Sink in the same process, and the global registry would panic on
// the second MustRegister of the same metric name.
type promMetrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newPromMetrics() *promMetrics {
	m := &promMetrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fibp",
			Name:      "service_calls_total",
			Help:      "Total upstream service call attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fibp",
			Name:      "service_call_latency_seconds",
			Help:      "Upstream service call attempt latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
	m.reg.MustRegister(m.requests, m.latency)
	return m
}

// Gatherer exposes the Sink's metrics registry so an HTTP front end can
// serve it (e.g. via promhttp.HandlerFor), per SPEC_FULL.md's domain
// stack entry for client_golang.
func (m *promMetrics) Gatherer() prometheus.Gatherer { return m.reg }

func (m *promMetrics) observe(service string, latency time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(service, outcome).Inc()
	m.latency.WithLabelValues(service).Observe(latency.Seconds())
}
