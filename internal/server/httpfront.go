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

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

// httpServerName is spec.md §6's "Server name 'FibpServer 1.0'".
const httpServerName = "FibpServer 1.0"

const timeoutShutdown = 10 * time.Second

// HTTPFront is the HTTP/1.1 front end of spec.md §6. It delegates
// connection handling to net/http's own per-connection goroutines
// (Go's runtime equivalent of nabbar-golib's per-accept fiber), and hands
// the parsed request straight to the Controller.
//
// Grounded on nabbar-golib's httpserver.Listen (golang.org/x/net/http2
// wiring over a stock *http.Server, graceful Shutdown with a bounded
// grace period).
type HTTPFront struct {
	addr   string
	picker PoolPicker
	srv    *http.Server
	ln     net.Listener
}

// NewHTTPFront builds an HTTP front end bound to addr once Serve runs.
// Each request is assigned a thread slot by picker, per spec.md §4.3.
func NewHTTPFront(addr string, picker PoolPicker) *HTTPFront {
	return &HTTPFront{addr: addr, picker: picker}
}

// Addr returns the bound listener address, valid after Serve has started
// accepting, mirroring DriverFront.Addr/RPCFront.Addr.
func (f *HTTPFront) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Serve binds addr and serves until ctx is cancelled, then shuts down
// within timeoutShutdown.
func (f *HTTPFront) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handle)

	srv := &http.Server{
		Addr:    f.addr,
		Handler: mux,
	}
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return err
	}
	f.srv = srv

	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return ErrListenFailed.Error(err)
	}
	f.ln = ln

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), timeoutShutdown)
		defer cancel()
		obslog.InfoLevel.Logf("http front end shutting down %s", f.addr)
		_ = srv.Shutdown(sctx)
	}()

	obslog.InfoLevel.Logf("http front end listening on %s", f.addr)
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handle implements spec.md §6's "request path is parsed as
// /{controller}/{action}/…; JSON body is passed to the controller."
// controller maps to ServiceName, the remainder of the path to
// ServiceAPI.
func (f *HTTPFront) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", httpServerName)

	path := strings.Trim(r.URL.Path, "/")
	segs := strings.SplitN(path, "/", 2)
	if segs[0] == "" {
		http.NotFound(w, r)
		return
	}

	serviceName := segs[0]
	api := "/"
	if len(segs) == 2 {
		api += segs[1]
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := gateway.ServiceCallReq{
		ServiceName:    serviceName,
		ServiceAPI:     api,
		Method:         gateway.ParseMethod(r.Method),
		ServiceReqData: body,
		ServiceCluster: r.URL.Query().Get("cluster"),
		ServiceType:    gateway.HTTPService,
		EnableCache:    r.URL.Query().Get("enable_cache") == "true",
	}

	_, ctrl := f.picker.Pick()
	rsps := ctrl.CallBatch(r.Context(), []gateway.ServiceCallReq{req}, false)
	rsp := rsps[0]

	// The gateway never surfaces an upstream failure as an HTTP 5xx; the
	// batch always returns 200 with a per-row error, per spec.md §7.
	if rsp.Error != "" {
		w.Header().Set("X-Fibp-Error", rsp.Error)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rsp.Rsp)
}
