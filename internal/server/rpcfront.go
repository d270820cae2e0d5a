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
	"net"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/ugorji/go/codec"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

// msgpack-rpc message types: request [0, msgid, method, params],
// response [1, msgid, error, result].
const (
	rpcMsgRequest  = 0
	rpcMsgResponse = 1
)

var mpHandle codec.MsgpackHandle

// RPCFront is the msgpack-RPC front end of spec.md §6. It speaks the
// wire protocol directly with github.com/ugorji/go/codec rather than
// through net/rpc's "Service.Method" dispatch, since FIBP's methods
// include path-shaped names such as
// "call_single_service_async/{service}/{api}" that don't fit net/rpc's
// dotted convention.
type RPCFront struct {
	addr   string
	picker PoolPicker
	ln     net.Listener
}

// NewRPCFront builds an RPC front end bound to addr once Serve is
// called. Each accepted connection is assigned a thread slot by picker,
// per spec.md §4.3.
func NewRPCFront(addr string, picker PoolPicker) *RPCFront {
	return &RPCFront{addr: addr, picker: picker}
}

// Serve binds addr and accepts connections until ctx is cancelled.
func (f *RPCFront) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return ErrListenFailed.Error(err)
	}
	f.ln = ln
	obslog.InfoLevel.Logf("rpc front end listening on %s", f.addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return aerr
			}
		}
		pool, ctrl := f.picker.Pick()
		pool.Schedule(func() { f.handleConn(ctx, conn, ctrl) })
	}
}

// Addr returns the bound listener address, valid after Serve has
// started accepting.
func (f *RPCFront) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

func (f *RPCFront) handleConn(ctx context.Context, conn net.Conn, ctrl *Controller) {
	defer conn.Close()

	dec := codec.NewDecoder(conn, &mpHandle)
	enc := codec.NewEncoder(conn, &mpHandle)

	for {
		var msg []interface{}
		if err := dec.Decode(&msg); err != nil {
			return
		}
		if len(msg) != 4 {
			return
		}

		msgType, _ := msg[0].(int64)
		if msgType != rpcMsgRequest {
			continue
		}

		msgID := msg[1]
		method, _ := msg[2].(string)
		params := msg[3]

		result, rpcErr := f.dispatch(ctx, method, params, ctrl)
		resp := []interface{}{rpcMsgResponse, msgID, rpcErr, result}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (f *RPCFront) dispatch(ctx context.Context, method string, params interface{}, ctrl *Controller) (interface{}, interface{}) {
	switch {
	case method == "test":
		return true, nil

	case method == "call_services_async":
		return f.dispatchBatch(ctx, params, ctrl)

	case strings.HasPrefix(method, "call_single_service_async/"):
		return f.dispatchSingle(ctx, method, params, ctrl)

	default:
		return nil, "NO_METHOD_ERROR"
	}
}

// dispatchBatch handles "call_services_async", whose single positional
// argument is the RpcServicesReq{req_list, do_transaction} shape shared
// with the driver protocol's batchRequest.
func (f *RPCFront) dispatchBatch(ctx context.Context, params interface{}, ctrl *Controller) (interface{}, interface{}) {
	arg, ok := firstParam(params)
	if !ok {
		return nil, "ARGUMENT_ERROR"
	}

	var batch batchRequest
	if err := mapstructure.Decode(arg, &batch); err != nil {
		return nil, "ARGUMENT_ERROR"
	}

	reqs := toGatewayReqs(batch.ReqList)
	rsps := ctrl.CallBatch(ctx, reqs, batch.DoTransaction)
	return batchResponse{RspList: fromGatewayRsps(rsps)}, nil
}

// dispatchSingle handles "call_single_service_async/{service}/{api}": an
// opaque body forwarded as-is, with the single upstream response body
// returned directly rather than wrapped in a batch envelope.
func (f *RPCFront) dispatchSingle(ctx context.Context, method string, params interface{}, ctrl *Controller) (interface{}, interface{}) {
	rest := strings.TrimPrefix(method, "call_single_service_async/")
	segs := strings.SplitN(rest, "/", 2)
	if len(segs) != 2 || segs[0] == "" || segs[1] == "" {
		return nil, "ARGUMENT_ERROR"
	}

	arg, ok := firstParam(params)
	if !ok {
		return nil, "ARGUMENT_ERROR"
	}

	var body []byte
	switch v := arg.(type) {
	case []byte:
		body = v
	case string:
		body = []byte(v)
	default:
		return nil, "ARGUMENT_ERROR"
	}

	req := gateway.ServiceCallReq{
		ServiceName:    segs[0],
		ServiceAPI:     "/" + segs[1],
		Method:         gateway.MethodPost,
		ServiceReqData: body,
		ServiceType:    gateway.RPCService,
	}

	rsps := ctrl.CallBatch(ctx, []gateway.ServiceCallReq{req}, false)
	if len(rsps) != 1 {
		return nil, "SERVER_RETURN_ERROR"
	}
	if rsps[0].Error != "" {
		return nil, rsps[0].Error
	}
	return rsps[0].Rsp, nil
}

func firstParam(params interface{}) (interface{}, bool) {
	list, ok := params.([]interface{})
	if !ok || len(list) == 0 {
		return nil, false
	}
	return list[0], true
}
