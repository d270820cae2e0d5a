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

// Package forward implements the Forward Manager of spec.md §4.13 and
// its two direct collaborators: the Service Cache (cache.go) and the
// Transaction Manager (transaction.go).
package forward

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/obslog"
)

// transactionRejected is the per-row error of spec.md §4.12 for a
// transactional batch that contains a non-HTTP call.
const transactionRejected = "transaction is supported only if all services using http protocol."

const transactionIDKey = `"transaction_id":"`

// extractTransactionID implements spec.md §4.12's literal substring
// extractor: find the quoted key, then read the immediately following
// quoted value, capped at 128 characters. This is intentionally not a
// JSON parser (see DESIGN.md's open-question decisions on this extractor).
func extractTransactionID(body string) (string, bool) {
	i := strings.Index(body, transactionIDKey)
	if i < 0 {
		return "", false
	}
	start := i + len(transactionIDKey)
	end := strings.IndexByte(body[start:], '"')
	if end < 0 {
		return "", false
	}
	if end > 128 {
		end = 128
	}
	return body[start : start+end], true
}

// allHTTP reports whether every request in the batch targets the HTTP
// protocol, the precondition spec.md §4.12 requires before a batch may
// be transactional.
func allHTTP(reqs []gateway.ServiceCallReq) bool {
	for _, r := range reqs {
		if r.ServiceType != gateway.HTTPService {
			return false
		}
	}
	return true
}

// rejectTransaction fills every response with the rejection error, per
// spec.md §4.13 step 1.
func rejectTransaction(rsps []gateway.ServiceCallRsp) {
	for i := range rsps {
		rsps[i].Error = transactionRejected
	}
}

// runTransaction implements spec.md §4.12: if any response carries a
// non-empty error, every peer whose response (or error body) contained a
// transaction id receives POST {api}/cancel; otherwise every such peer
// receives POST {api}/confirm.
func runTransaction(ctx context.Context, reqs []gateway.ServiceCallReq, rsps []gateway.ServiceCallRsp) {
	anyFailed := false
	for _, r := range rsps {
		if r.Error != "" {
			anyFailed = true
			break
		}
	}

	action := "confirm"
	if anyFailed {
		action = "cancel"
	}

	for i, rsp := range rsps {
		body := string(rsp.Rsp)
		if rsp.Error != "" {
			body = rsp.Error
		}
		txID, ok := extractTransactionID(body)
		if !ok {
			continue
		}
		postTransactionAction(ctx, reqs[i], rsp, txID, action)
	}
}

func postTransactionAction(ctx context.Context, req gateway.ServiceCallReq, rsp gateway.ServiceCallRsp, txID, action string) {
	if rsp.Host == "" {
		return
	}
	url := "http://" + rsp.Host + ":" + rsp.Port + "/" + strings.TrimPrefix(req.ServiceAPI, "/") + "/" + action
	payload := []byte(`{"transaction_id":"` + txID + `"}`)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		obslog.WarnLevel.Logf("transaction: failed to build %s request for %s: %v", action, req.ServiceName, err)
		return
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		obslog.WarnLevel.Logf("transaction: %s request to %s failed: %v", action, req.ServiceName, err)
		return
	}
	_ = resp.Body.Close()
}
