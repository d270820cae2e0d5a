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

package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nabbar/fibp/internal/gateway"
)

func TestParseMethodRoundTrip(t *testing.T) {
	cases := []gateway.Method{
		gateway.MethodGet,
		gateway.MethodPost,
		gateway.MethodPut,
		gateway.MethodDelete,
		gateway.MethodHead,
	}
	for _, m := range cases {
		assert.Equal(t, m, gateway.ParseMethod(m.String()))
	}
}

func TestParseMethodUnknownDefaultsToGet(t *testing.T) {
	assert.Equal(t, gateway.MethodGet, gateway.ParseMethod("PATCH"))
	assert.Equal(t, gateway.MethodGet, gateway.ParseMethod(""))
}

func TestParseServiceTypeRoundTrip(t *testing.T) {
	cases := []gateway.ServiceType{
		gateway.HTTPService,
		gateway.RPCService,
		gateway.RawService,
		gateway.CustomService,
	}
	for _, s := range cases {
		assert.Equal(t, s, gateway.ParseServiceType(s.String()))
	}
}

func TestParseServiceTypeUnknownDefaultsToHTTP(t *testing.T) {
	assert.Equal(t, gateway.HTTPService, gateway.ParseServiceType("bogus"))
}

func TestFingerprintIgnoresEnableCache(t *testing.T) {
	base := gateway.ServiceCallReq{
		ServiceName: "orders",
		ServiceAPI:  "/v1/list",
		Method:      gateway.MethodGet,
	}
	cached := base
	cached.EnableCache = true

	assert.Equal(t, base.Fingerprint(), cached.Fingerprint())
}

func TestFingerprintDiffersOnServiceAPI(t *testing.T) {
	a := gateway.ServiceCallReq{ServiceName: "orders", ServiceAPI: "/v1/list"}
	b := gateway.ServiceCallReq{ServiceName: "orders", ServiceAPI: "/v1/get"}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
