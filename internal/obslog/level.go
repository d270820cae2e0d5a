/*
MIT License

Copyright (c) 2019 Nicolas JUHEL

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

// Package obslog is the gateway's leveled, structured logger. It mirrors
// nabbar-golib's logger package (Level type backed by logrus, package
// level helpers such as InfoLevel.Logf) trimmed to what a single gateway
// process needs: no syslog/hclog/gorm hook adapters, one stdout/stderr hook
// and an optional file hook.
package obslog

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is a uint8 customized with helpers to log at a given severity.
type Level uint8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	// NilLevel never logs; used to silence a call site without branching.
	NilLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "Debug"
	case InfoLevel:
		return "Info"
	case WarnLevel:
		return "Warning"
	case ErrorLevel:
		return "Error"
	case FatalLevel:
		return "Fatal Error"
	case PanicLevel:
		return "Critical Error"
	case NilLevel:
		return ""
	}
	return "unknown"
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	case PanicLevel:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel resolves a string (case-insensitive, partial match allowed) to
// a Level, defaulting to InfoLevel the same way nabbar-golib's
// GetLevelString does.
func ParseLevel(s string) Level {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(strings.ToLower(DebugLevel.String()), s):
		return DebugLevel
	case strings.Contains(strings.ToLower(WarnLevel.String()), s):
		return WarnLevel
	case strings.Contains(strings.ToLower(ErrorLevel.String()), s):
		return ErrorLevel
	case strings.Contains(strings.ToLower(FatalLevel.String()), s):
		return FatalLevel
	case strings.Contains(strings.ToLower(PanicLevel.String()), s):
		return PanicLevel
	default:
		return InfoLevel
	}
}
