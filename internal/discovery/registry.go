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

package discovery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

const consulIndexHeader = "X-Consul-Index"

// registryClient balances GET requests across the configured registry
// addresses ("exponential-ish balance across the configured registry
// addresses", spec.md §4.10, here a plain round robin) and carries the
// long-poll index query param used by the Consul-compatible endpoints.
type registryClient struct {
	addrs []string
	next  atomic.Uint64
	hc    *http.Client
}

func newRegistryClient(addrs []string) *registryClient {
	return &registryClient{
		addrs: addrs,
		hc:    &http.Client{Timeout: 65 * time.Second},
	}
}

func (r *registryClient) pickAddr() string {
	if len(r.addrs) == 0 {
		return ""
	}
	i := r.next.Add(1) - 1
	return r.addrs[i%uint64(len(r.addrs))]
}

// getJSON issues a long-poll GET against path, sending index as the
// "index" query param when non-zero, and returns the decoded body plus
// the next index from the X-Consul-Index response header.
func (r *registryClient) getJSON(ctx context.Context, path string, index uint64, out interface{}) (uint64, error) {
	addr := r.pickAddr()
	if addr == "" {
		return 0, ErrRegistryUnreachable.Error()
	}

	url := fmt.Sprintf("http://%s%s", addr, path)
	if index > 0 {
		sep := "?"
		if containsQuery(path) {
			sep = "&"
		}
		url = fmt.Sprintf("%s%sindex=%d&wait=60s", url, sep, index)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return 0, ErrRegistryUnreachable.Error(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, ErrRegistryDecode.Error(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return parseIndex(resp.Header.Get(consulIndexHeader)), nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, ErrRegistryUnreachable.Errorf("registry returned status %d", resp.StatusCode)
	}

	if out != nil && len(body) > 0 {
		if err = json.Unmarshal(body, out); err != nil {
			return 0, ErrRegistryDecode.Error(err)
		}
	}
	return parseIndex(resp.Header.Get(consulIndexHeader)), nil
}

func parseIndex(s string) uint64 {
	var v uint64
	_, _ = fmt.Sscanf(s, "%d", &v)
	return v
}

func containsQuery(path string) bool {
	for _, c := range path {
		if c == '?' {
			return true
		}
	}
	return false
}

// decodeKVValue base64-decodes a Consul KV entry value.
func decodeKVValue(v string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
