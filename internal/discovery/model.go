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

// catalogServiceEntry is one value of the /v1/catalog/services response:
// service name -> its tag list.
type catalogServiceEntry = []string

// healthEntry is one element of the /v1/health/service/{name} array.
type healthEntry struct {
	Service struct {
		Address string `json:"Address"`
		Port    int    `json:"Port"`
	} `json:"Service"`
	Checks []struct {
		Status string `json:"Status"`
	} `json:"Checks"`
}

// allChecksPassing is the health rule of spec.md §4.10: a node is kept
// only if every check reports "passing".
func (h healthEntry) allChecksPassing() bool {
	if len(h.Checks) == 0 {
		return false
	}
	for _, c := range h.Checks {
		if c.Status != "passing" {
			return false
		}
	}
	return true
}

// kvKey is one element of the /v1/kv/fibp-forward-port?keys response.
type kvKey struct {
	Key string
}

// kvEntry is one element of a /v1/kv/<key> fetch: Value is base64-encoded
// per the Consul KV wire format.
type kvEntry struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// clusterResponse is the /api/local/get-cluster payload.
type clusterResponse struct {
	ClusterName string `json:"cluster_name"`
}
