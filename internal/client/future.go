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

package client

import (
	"context"
	"sync"
	"time"
)

// Future is a one-shot request/response correlation slot, per spec.md
// §4.8: the rpcclient and rawclient readers complete it exactly once
// from their background reader goroutine, and the caller blocks on Wait
// until either that happens or its own deadline timer fires first.
//
// Grounded on the Session deadline-timer idiom above (embedded timer
// rather than a shared scheduler), generalized from a socket deadline to
// an arbitrary result slot.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	value    []byte
	err      error
	fired    bool
	timer    *time.Timer
	onExpire func()
}

// NewFuture returns a Future armed with a timeout. If the future is not
// completed by Complete before timeout elapses, Wait returns
// ErrServerTimedOut and onExpire (if non-nil) is invoked once, so the
// owning client can drop its bookkeeping entry for the msgid/seq.
func NewFuture(timeout time.Duration, onExpire func()) *Future {
	f := &Future{
		done:     make(chan struct{}),
		onExpire: onExpire,
	}
	f.timer = time.AfterFunc(timeout, f.expire)
	return f
}

func (f *Future) expire() {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		return
	}
	f.fired = true
	f.err = ErrServerTimedOut.Error()
	f.mu.Unlock()
	close(f.done)
	if f.onExpire != nil {
		f.onExpire()
	}
}

// Complete delivers the result exactly once; subsequent calls are no-ops,
// mirroring the "first writer wins" rule between the reader goroutine and
// the expiry timer.
func (f *Future) Complete(value []byte, err error) {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		return
	}
	f.fired = true
	f.value = value
	f.err = err
	f.mu.Unlock()
	f.timer.Stop()
	close(f.done)
}

// Wait blocks until Complete or the timeout fires, or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
