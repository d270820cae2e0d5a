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

import "github.com/nabbar/fibp/internal/gateway"

// wireReq is the over-the-wire shape of gateway.ServiceCallReq shared by
// the driver protocol's JSON payload and the RPC front end's msgpack
// params; the JSON/msgpack codecs themselves are standard library and
// third-party codecs respectively, only the shape is FIBP's own.
type wireReq struct {
	ServiceName    string `json:"service_name" msgpack:"service_name" mapstructure:"service_name"`
	ServiceAPI     string `json:"service_api" msgpack:"service_api" mapstructure:"service_api"`
	Method         string `json:"method" msgpack:"method" mapstructure:"method"`
	ServiceReqData []byte `json:"service_req_data" msgpack:"service_req_data" mapstructure:"service_req_data"`
	ServiceCluster string `json:"service_cluster" msgpack:"service_cluster" mapstructure:"service_cluster"`
	ServiceType    string `json:"service_type" msgpack:"service_type" mapstructure:"service_type"`
	EnableCache    bool   `json:"enable_cache" msgpack:"enable_cache" mapstructure:"enable_cache"`
}

func (w wireReq) toGateway() gateway.ServiceCallReq {
	return gateway.ServiceCallReq{
		ServiceName:    w.ServiceName,
		ServiceAPI:     w.ServiceAPI,
		Method:         gateway.ParseMethod(w.Method),
		ServiceReqData: w.ServiceReqData,
		ServiceCluster: w.ServiceCluster,
		ServiceType:    gateway.ParseServiceType(w.ServiceType),
		EnableCache:    w.EnableCache,
	}
}

// wireRsp is the over-the-wire shape of gateway.ServiceCallRsp.
type wireRsp struct {
	ServiceName string `json:"service_name" msgpack:"service_name"`
	Rsp         []byte `json:"rsp" msgpack:"rsp"`
	Error       string `json:"error" msgpack:"error"`
	IsCached    bool   `json:"is_cached" msgpack:"is_cached"`
	Host        string `json:"host" msgpack:"host"`
	Port        string `json:"port" msgpack:"port"`
}

func wireRspFrom(r gateway.ServiceCallRsp) wireRsp {
	return wireRsp{
		ServiceName: r.ServiceName,
		Rsp:         r.Rsp,
		Error:       r.Error,
		IsCached:    r.IsCached,
		Host:        r.Host,
		Port:        r.Port,
	}
}

func toGatewayReqs(reqs []wireReq) []gateway.ServiceCallReq {
	out := make([]gateway.ServiceCallReq, len(reqs))
	for i, r := range reqs {
		out[i] = r.toGateway()
	}
	return out
}

func fromGatewayRsps(rsps []gateway.ServiceCallRsp) []wireRsp {
	out := make([]wireRsp, len(rsps))
	for i, r := range rsps {
		out[i] = wireRspFrom(r)
	}
	return out
}

// batchRequest is the driver protocol's JSON request envelope and the
// RPC front end's "call_services_async" params shape (RpcServicesReq in
// spec.md §6).
type batchRequest struct {
	ReqList       []wireReq `json:"req_list" msgpack:"req_list" mapstructure:"req_list"`
	DoTransaction bool      `json:"do_transaction" msgpack:"do_transaction" mapstructure:"do_transaction"`
}

// batchResponse is the driver protocol's JSON response envelope and the
// RPC front end's RpcServicesRsp.
type batchResponse struct {
	RspList []wireRsp `json:"rsp_list" msgpack:"rsp_list"`
}
