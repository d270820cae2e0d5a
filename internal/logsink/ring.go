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

// Package logsink implements the Logging Sink of spec.md §4.15: a
// fixed-size ring of per-request records produced by the Forward
// Manager and drained by a dedicated goroutine to an external
// time-series store, plus per-service latency/throughput stats mirrored
// to a local Prometheus registry.
//
// Grounded on nabbar-golib's monitor package (documented surface only;
// the retrieval pack trimmed its non-test source) for the
// accumulate-then-snapshot-under-lock shape, and enriched with
// github.com/prometheus/client_golang for the local metrics mirror named
// in SPEC_FULL.md's domain stack.
package logsink

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is spec.md §4.15's "log ring is 1,000,000 slots".
const DefaultRingSize = 1_000_000

// attempt is one upstream attempt sub-record within a slot.
type attempt struct {
	Host    string        `json:"host"`
	Port    string        `json:"port"`
	Latency time.Duration `json:"latency_us"`
	Error   string        `json:"error,omitempty"`
}

// slot is one reserved record in the ring, per spec.md §4.15.
type slot struct {
	mu       sync.Mutex
	id       uint64
	service  string
	start    time.Time
	end      time.Time
	attempts []attempt
	waitSend atomic.Bool // set with release ordering by endServiceCall
}

func (s *slot) reset(id uint64, service string) {
	s.mu.Lock()
	s.id = id
	s.service = service
	s.start = time.Now()
	s.end = time.Time{}
	s.attempts = s.attempts[:0]
	s.mu.Unlock()
	s.waitSend.Store(false)
}
