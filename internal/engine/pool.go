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

// Package engine is the Go re-expression of nabbar-golib's reactor and
// fiber pool (spec.md §4.1/§4.2): Go's runtime already reactors blocking
// I/O onto a small thread pool, so what's left to build is the bounded,
// growable worker pool that the original FiberPool gave the source. See
// SPEC_FULL.md §2 and DESIGN NOTES for the mapping.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nabbar/fibp/internal/obslog"
)

const (
	// GrowSize is the number of workers created on the first task
	// submission; later growth adds the current worker count (doubling)
	// up to MaxGrowSize. Preserved verbatim from spec.md §4.2 ("GROW_SIZE (10)").
	GrowSize = 10
	// MaxGrowSize caps the live worker count. Preserved verbatim from
	// spec.md §4.2 and §5 ("MAX_GROW_SIZE (15000)").
	MaxGrowSize = 15000

	timeoutShutdown = 10 * time.Second
)

// Pool is a growable worker pool draining a shared task channel, standing
// in for the source's per-thread FiberPool. It starts with zero workers;
// the first submission spawns GrowSize of them, and the pool doubles
// whenever the running count catches up with the worker count, up to
// MaxGrowSize, exactly as spec.md §4.2 describes.
type Pool struct {
	id      int
	tasks   chan func()
	stopCh  chan struct{}
	stopped atomic.Bool
	running atomic.Int64

	// grow is a weighted semaphore sized to MaxGrowSize: each worker
	// goroutine holds one unit of weight for its lifetime, so growLocked
	// can never spawn past the ceiling even under a racing burst of
	// concurrent Schedule calls.
	grow *semaphore.Weighted

	mu      sync.Mutex
	workers int
}

// New returns a Pool identified by id (used only for logging); it has no
// workers until the first task is scheduled.
func New(id int) *Pool {
	return &Pool{
		id:     id,
		tasks:  make(chan func(), 4096),
		stopCh: make(chan struct{}),
		grow:   semaphore.NewWeighted(MaxGrowSize),
	}
}

// Schedule enqueues f for execution on a worker goroutine. Callable from
// any goroutine, mirroring schedule_task in spec.md §4.2.
func (p *Pool) Schedule(f func()) {
	if f == nil || p.stopped.Load() {
		return
	}
	p.ensureGrown()
	select {
	case p.tasks <- f:
	case <-p.stopCh:
	}
}

// ScheduleFromWorker enqueues f the same way Schedule does. The source
// distinguishes "from any thread" (mutex + condition) from "from inside a
// fiber on the owning thread" (direct push onto the fiber-local queue);
// with a single shared channel and Go's scheduler there is no distinct
// fast path, but the method is kept separate so call sites document which
// discipline they rely on (the Forward Manager's fan-out barrier always
// calls this one, per spec.md §4.13).
func (p *Pool) ScheduleFromWorker(f func()) {
	p.Schedule(f)
}

func (p *Pool) ensureGrown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped.Load() {
		return
	}

	if p.workers == 0 {
		p.growLocked(GrowSize)
		return
	}

	if p.running.Load() >= int64(p.workers-1) {
		grow := p.workers
		if p.workers+grow > MaxGrowSize {
			grow = MaxGrowSize - p.workers
		}
		if grow > 0 {
			p.growLocked(grow)
		}
	}
}

// growLocked spawns up to n worker goroutines, each holding one unit of
// p.grow for its lifetime; the semaphore is the hard backstop on
// MaxGrowSize; ensureGrown's own arithmetic is what decides when to grow,
// but the cap itself is enforced here.
func (p *Pool) growLocked(n int) {
	spawned := 0
	for i := 0; i < n; i++ {
		if !p.grow.TryAcquire(1) {
			break
		}
		spawned++
		go p.runWorker()
	}
	p.workers += spawned
	obslog.DebugLevel.Logf("pool %d grew to %d workers (running=%d)", p.id, p.workers, p.running.Load())
}

func (p *Pool) runWorker() {
	defer p.grow.Release(1)
	for {
		select {
		case <-p.stopCh:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.running.Add(1)
			runTaskSafely(task)
			p.running.Add(-1)
		}
	}
}

func runTaskSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			obslog.ErrorLevel.Logf("worker task panicked: %v", r)
		}
	}()
	task()
}

// Stop signals every worker to exit at its next dequeue and waits up to
// timeoutShutdown for the tasks already running to finish, mirroring
// nabbar-golib's httpserver shutdown grace period. Tasks still queued in
// the channel are not run.
func (p *Pool) Stop(ctx context.Context) {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopCh)

	wctx, cancel := context.WithTimeout(ctx, timeoutShutdown)
	defer cancel()
	for {
		select {
		case <-wctx.Done():
			return
		default:
			if p.running.Load() == 0 {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Running returns the number of tasks currently executing, for tests and
// monitoring.
func (p *Pool) Running() int64 { return p.running.Load() }

// Workers returns the current worker-goroutine count, for tests.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}
