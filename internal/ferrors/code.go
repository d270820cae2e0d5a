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

// Package ferrors provides the gateway's error-code handling: a numeric
// CodeError similar to HTTP status codes, per-package code ranges, and an
// Error interface compatible with errors.Is/errors.As. It is a trimmed,
// renamed descendant of nabbar-golib's errors package
// (github.com/nabbar/golib/errors), adapted to FIBP's own module ranges
// and message set instead of nabbar-golib's archive/artifact/... ranges.
package ferrors

import (
	"sort"
	"strconv"
)

// CodeError is a uint16 error classification, registered per package with
// a contiguous range (see the MinPkg* constants below).
type CodeError uint16

const (
	// UnknownError is the zero value, used when no code applies.
	UnknownError CodeError = 0
	UnknownMessage         = "unknown error"
)

// Per-package minimum code, mirroring nabbar-golib's errors/modules.go
// range table, renumbered for FIBP's own component list.
const (
	MinPkgEngine      CodeError = 100
	MinPkgClient      CodeError = 200
	MinPkgDiscovery   CodeError = 300
	MinPkgForward     CodeError = 400
	MinPkgPortForward CodeError = 500
	MinPkgLogSink     CodeError = 600
	MinPkgServer      CodeError = 700
	MinPkgConfig      CodeError = 800

	MinAvailable CodeError = 1000
)

var idMsgFct = make(map[CodeError]Message)

// Message is a function generating the text for a registered code.
type Message func(code CodeError) string

// RegisterIdFctMessage registers the message function for every code at
// or above minCode, until the next registered range takes over. See
// findCodeErrorInMapMessage.
func RegisterIdFctMessage(minCode CodeError, fct Message) {
	idMsgFct[minCode] = fct
	orderMapMessage()
}

// ExistInMapMessage reports whether a code has a registered message.
func ExistInMapMessage(code CodeError) bool {
	if f, ok := idMsgFct[findCodeErrorInMapMessage(code)]; ok {
		return f(code) != ""
	}
	return false
}

func (c CodeError) Uint16() uint16 { return uint16(c) }

func (c CodeError) String() string { return strconv.Itoa(int(c)) }

// Message resolves the human-readable text for this code.
func (c CodeError) Message() string {
	if c == UnknownError {
		return UnknownMessage
	}
	if f, ok := idMsgFct[findCodeErrorInMapMessage(c)]; ok {
		if m := f(c); m != "" {
			return m
		}
	}
	return UnknownMessage
}

// Error builds a new Error value carrying this code, optionally wrapping
// parent errors.
func (c CodeError) Error(parent ...error) Error {
	return newError(c, c.Message(), parent...)
}

// Errorf builds a new Error value with a message formatted from args
// instead of the registered message.
func (c CodeError) Errorf(format string, args ...interface{}) Error {
	return newErrorf(c, format, args...)
}

func getMapMessageKeys() []CodeError {
	keys := make([]int, 0, len(idMsgFct))
	for k := range idMsgFct {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	res := make([]CodeError, 0, len(keys))
	for _, k := range keys {
		res = append(res, CodeError(k))
	}
	return res
}

func orderMapMessage() {
	// idMsgFct is already keyed by CodeError; nothing to reshuffle, kept
	// as a function so future range-merging logic has a single hook,
	// matching nabbar-golib's orderMapMessage shape.
}

func findCodeErrorInMapMessage(code CodeError) CodeError {
	var res CodeError
	for _, k := range getMapMessageKeys() {
		if k <= code && k > res {
			res = k
		}
	}
	return res
}
