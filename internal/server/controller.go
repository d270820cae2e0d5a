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

// Package server implements the Connection Servers of spec.md §4.16/§6:
// the driver (length-framed JSON), HTTP/1.1, and msgpack-RPC front ends,
// each a thin controller calling into the Forward Manager and handing
// accepted connections to an engine.Pool worker.
package server

import (
	"context"

	"github.com/nabbar/fibp/internal/forward"
	"github.com/nabbar/fibp/internal/gateway"
)

// Controller is the shared request handler every front end calls into,
// per spec.md §2's data-flow diagram ("controller -> Forward Manager").
// It carries no state of its own beyond the Forward Manager.
type Controller struct {
	fwd *forward.Manager
}

// NewController wraps fwd for use by the front ends in this package.
func NewController(fwd *forward.Manager) *Controller {
	return &Controller{fwd: fwd}
}

// CallBatch runs reqs through the Forward Manager exactly as spec.md
// §4.13's call_services describes, regardless of which front end is
// calling.
func (c *Controller) CallBatch(ctx context.Context, reqs []gateway.ServiceCallReq, doTransaction bool) []gateway.ServiceCallRsp {
	return c.fwd.CallServices(ctx, reqs, doTransaction)
}
