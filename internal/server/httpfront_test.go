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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPFrontHandleParsesPathAndNeverReturns5xx(t *testing.T) {
	f := NewHTTPFront("", newTestPicker())

	req := httptest.NewRequest(http.MethodGet, "/orders/v1/list", strings.NewReader(""))
	rec := httptest.NewRecorder()

	f.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "upstream failures never surface as an HTTP 5xx")
	assert.Equal(t, httpServerName, rec.Header().Get("Server"))
	assert.NotEmpty(t, rec.Header().Get("X-Fibp-Error"))
}

func TestHTTPFrontHandleEmptyPathIs404(t *testing.T) {
	f := NewHTTPFront("", newTestPicker())

	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(""))
	rec := httptest.NewRecorder()

	f.handle(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
