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

package ferrors

import (
	"errors"
	"fmt"
	"strings"
)

// Error extends the standard error with a numeric code and an optional
// parent chain, mirroring nabbar-golib's errors.Error interface trimmed to
// the operations the gateway actually uses.
type Error interface {
	error
	Code() CodeError
	IsCode(code CodeError) bool
	HasCode(code CodeError) bool
	Add(parent ...error)
	Unwrap() error
}

type fibErr struct {
	code   CodeError
	msg    string
	parent error
}

func newError(code CodeError, msg string, parent ...error) Error {
	e := &fibErr{code: code, msg: msg}
	e.Add(parent...)
	return e
}

func newErrorf(code CodeError, format string, args ...interface{}) Error {
	return &fibErr{code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *fibErr) Error() string {
	if e == nil {
		return ""
	}
	if e.parent != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
	}
	return e.msg
}

func (e *fibErr) Code() CodeError { return e.code }

func (e *fibErr) IsCode(code CodeError) bool { return e != nil && e.code == code }

func (e *fibErr) HasCode(code CodeError) bool {
	for cur := e; cur != nil; {
		if cur.code == code {
			return true
		}
		p, ok := cur.parent.(*fibErr)
		if !ok {
			return false
		}
		cur = p
	}
	return false
}

// Add folds parent errors into the receiver's parent chain, joining
// multiple parents with errors.Join the way nabbar-golib's Error.Add
// folds a variadic parent list into one hierarchy.
func (e *fibErr) Add(parent ...error) {
	filtered := make([]error, 0, len(parent))
	for _, p := range parent {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return
	}
	if e.parent != nil {
		filtered = append([]error{e.parent}, filtered...)
	}
	e.parent = errors.Join(filtered...)
}

func (e *fibErr) Unwrap() error { return e.parent }

// ContainsString mirrors nabbar-golib's ContainsString helper: true if the
// error or any parent's message contains s.
func ContainsString(err error, s string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), s)
}
