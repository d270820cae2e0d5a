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

package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/fibp/internal/obslog"
)

// loopFunc is one long-poll iteration; returning an error only logs it
// and the loop continues, since a single failed poll should not end the
// watcher.
type loopFunc func(ctx context.Context) error

// ticker runs loopFunc repeatedly until stopped, trimmed from the
// nabbar-golib's runner/ticker API shape (New/Start/Stop/IsRunning/Uptime)
// down to what the four discovery watchers need: immediate first run,
// then one run per interval, with no fixed *time.Ticker cadence since
// each watcher's "interval" is really "however long the long poll
// blocked".
type ticker struct {
	fn       loopFunc
	minDelay time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  atomic.Bool
	started  time.Time
	lastErrs []error
}

func newTicker(minDelay time.Duration, fn loopFunc) *ticker {
	return &ticker{fn: fn, minDelay: minDelay}
}

// Start launches the loop goroutine. Calling Start on an already-running
// ticker is a no-op, mirroring nabbar-golib's idempotent Start.
func (t *ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running.Load() {
		return nil
	}

	cctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.started = time.Now()
	t.running.Store(true)

	go t.loop(cctx)
	return nil
}

func (t *ticker) loop(ctx context.Context) {
	defer t.running.Store(false)
	for {
		if err := t.fn(ctx); err != nil {
			obslog.WarnLevel.Logf("discovery watcher iteration failed: %v", err)
			t.mu.Lock()
			t.lastErrs = append(t.lastErrs, err)
			if len(t.lastErrs) > 16 {
				t.lastErrs = t.lastErrs[len(t.lastErrs)-16:]
			}
			t.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(t.minDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Stop cancels the loop; it does not wait for the in-flight poll to
// return, matching long-poll requests that may block up to the
// registry's own timeout.
func (t *ticker) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running.Load() || t.cancel == nil {
		return nil
	}
	t.cancel()
	return nil
}

func (t *ticker) IsRunning() bool { return t.running.Load() }

func (t *ticker) Uptime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running.Load() {
		return 0
	}
	return time.Since(t.started)
}
