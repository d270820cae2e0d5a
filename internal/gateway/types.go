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

// Package gateway holds the FIBP wire-level data model: service call
// requests/responses, service nodes, and the routing table that
// discovery maintains and the forward manager reads. See SPEC_FULL.md §3.
package gateway

import "fmt"

// Method is the HTTP verb of a ServiceCallReq, restricted to the five
// values spec.md §3 enumerates.
type Method uint8

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodHead
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodHead:
		return "HEAD"
	default:
		return "GET"
	}
}

// ParseMethod resolves an HTTP verb string to a Method, defaulting to
// MethodGet for anything unrecognized.
func ParseMethod(s string) Method {
	switch s {
	case "POST":
		return MethodPost
	case "PUT":
		return MethodPut
	case "DELETE":
		return MethodDelete
	case "HEAD":
		return MethodHead
	default:
		return MethodGet
	}
}

// ServiceType selects which upstream protocol a ServiceCallReq targets.
type ServiceType uint8

const (
	HTTPService ServiceType = iota
	RPCService
	RawService
	CustomService
	EndService
)

func (t ServiceType) String() string {
	switch t {
	case HTTPService:
		return "http"
	case RPCService:
		return "rpc"
	case RawService:
		return "raw"
	case CustomService:
		return "custom"
	default:
		return "end"
	}
}

// ParseServiceType resolves a wire-level protocol tag to a ServiceType,
// defaulting to HTTPService for anything unrecognized.
func ParseServiceType(s string) ServiceType {
	switch s {
	case "rpc":
		return RPCService
	case "raw":
		return RawService
	case "custom":
		return CustomService
	case "end":
		return EndService
	default:
		return HTTPService
	}
}

// DefaultCluster is the cluster tag used when none is configured or
// discovered, per spec.md §4.10.
const DefaultCluster = "dev"

// ServiceCallReq is one upstream invocation. It is immutable after
// construction; Fingerprint is its cache key (every field except
// EnableCache, per spec.md §3).
type ServiceCallReq struct {
	ServiceName    string
	ServiceAPI     string
	Method         Method
	ServiceReqData []byte
	ServiceCluster string
	ServiceType    ServiceType
	EnableCache    bool
}

// Fingerprint returns the cache key for this request: every field except
// EnableCache, per spec.md §3's caching invariant.
func (r ServiceCallReq) Fingerprint() string {
	cluster := r.ServiceCluster
	if cluster == "" {
		cluster = DefaultCluster
	}
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d",
		r.ServiceName, r.ServiceAPI, r.Method, r.ServiceReqData, r.ServiceType) +
		"\x00" + cluster
}

// ServiceKey returns "name-cluster", the key used to look a service up
// in the RoutingTable, per spec.md §4.10's "Service key format".
func (r ServiceCallReq) ServiceKey() string {
	cluster := r.ServiceCluster
	if cluster == "" {
		cluster = DefaultCluster
	}
	return r.ServiceName + "-" + cluster
}

// ServiceCallRsp is the paired response to a ServiceCallReq. Error is a
// plain string rather than a typed error since it crosses the wire back
// to the caller; it is empty on success.
type ServiceCallRsp struct {
	ServiceName string
	Rsp         []byte
	Error       string
	IsCached    bool
	Host        string
	Port        string
}

// ForwardInfo is a dynamic port-forward binding, keyed by Port.
type ForwardInfo struct {
	ServiceName string
	ServiceType ServiceType
	Port        uint16
}

// ServiceNode is a healthy instance of a service at (Host, Port).
type ServiceNode struct {
	Host string
	Port string
}

func (n ServiceNode) String() string {
	return n.Host + ":" + n.Port
}
