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

package obslog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger entry, set once at startup via Init and
// read from every component afterwards. Following nabbar-golib's pattern of
// a package-level singleton for cross-cutting infrastructure (see
// SPEC_FULL.md DESIGN NOTES on shared singletons), this is the one
// gateway-wide global; everything else (Forward Manager, discovery
// watcher, config) is passed around explicitly.
var (
	baseMu sync.RWMutex
	base   = logrus.NewEntry(newDefaultLogger())
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Init rebuilds the process-wide logger. prefix is prepended to every
// record as a "component" field, mirroring the --log-prefix CLI flag of
// spec.md §6. Passing a nil writer keeps stdout.
func Init(level Level, prefix string, w io.Writer) {
	l := logrus.New()
	if w != nil {
		l.SetOutput(w)
	} else {
		l.SetOutput(os.Stdout)
	}
	l.SetLevel(level.logrus())
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	e := logrus.NewEntry(l)
	if prefix != "" {
		e = e.WithField("component", prefix)
	}

	baseMu.Lock()
	base = e
	baseMu.Unlock()
}

func entry() *logrus.Entry {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logf logs a formatted message at the receiver level.
func (l Level) Logf(format string, args ...interface{}) {
	if l == NilLevel {
		return
	}
	entry().Logf(l.logrus(), format, args...)
}

// Log logs a plain message at the receiver level.
func (l Level) Log(args ...interface{}) {
	if l == NilLevel {
		return
	}
	entry().Log(l.logrus(), args...)
}

// LogErrorf logs a formatted message with an attached error, at the
// receiver level, only if err is non-nil - mirroring nabbar-golib's
// LogErrorCtxf pattern of "log only if there really is something to log".
func (l Level) LogErrorf(err error, format string, args ...interface{}) {
	if l == NilLevel || err == nil {
		return
	}
	entry().WithError(err).Logf(l.logrus(), format, args...)
}

// WithFields returns an entry carrying structured fields, for call sites
// that want several key/value pairs attached to one record (e.g. the
// per-request log slot fields described in spec.md §4.15).
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return entry().WithFields(fields)
}

// Fatalf logs at FatalLevel and terminates the process, mirroring
// logrus.Fatalf; used only at process bootstrap (cmd/fibp-gateway).
func Fatalf(format string, args ...interface{}) {
	entry().Fatalf(format, args...)
}
