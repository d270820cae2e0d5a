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

package forward

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nabbar/fibp/internal/gateway"
)

func TestExtractTransactionID(t *testing.T) {
	id, ok := extractTransactionID(`{"status":"ok","transaction_id":"abc-123","other":1}`)
	assert.True(t, ok)
	assert.Equal(t, "abc-123", id)
}

func TestExtractTransactionIDMissing(t *testing.T) {
	_, ok := extractTransactionID(`{"status":"ok"}`)
	assert.False(t, ok)
}

func TestExtractTransactionIDCapped(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	body := `{"transaction_id":"` + string(long) + `"}`

	id, ok := extractTransactionID(body)
	assert.True(t, ok)
	assert.Len(t, id, 128)
}

func TestAllHTTP(t *testing.T) {
	assert.True(t, allHTTP([]gateway.ServiceCallReq{
		{ServiceType: gateway.HTTPService},
		{ServiceType: gateway.HTTPService},
	}))
	assert.False(t, allHTTP([]gateway.ServiceCallReq{
		{ServiceType: gateway.HTTPService},
		{ServiceType: gateway.RPCService},
	}))
}

func TestRejectTransaction(t *testing.T) {
	rsps := make([]gateway.ServiceCallRsp, 2)
	rejectTransaction(rsps)
	for _, r := range rsps {
		assert.Equal(t, transactionRejected, r.Error)
	}
}
