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
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/fibp/internal/client"
	"github.com/nabbar/fibp/internal/engine"
	"github.com/nabbar/fibp/internal/forward"
	"github.com/nabbar/fibp/internal/gateway"
)

func newTestController() *Controller {
	routing := gateway.NewRoutingTable()
	pool := engine.New(0)
	clients := client.NewManager()
	cache := forward.NewServiceCache(16)
	return NewController(forward.NewManager(routing, pool, clients, cache, nil))
}

func newTestPicker() PoolPicker {
	return newSinglePool(engine.New(0), newTestController())
}

func readFrame(t *testing.T, r io.Reader) (uint32, []byte) {
	t.Helper()
	header := make([]byte, driverHeaderSize)
	_, err := io.ReadFull(r, header)
	require.NoError(t, err)

	seq := binary.BigEndian.Uint32(header[0:4])
	size := binary.BigEndian.Uint32(header[4:8])
	body := make([]byte, size)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return seq, body
}

func TestDriverFrontEchoesSequence(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	f := NewDriverFront("", newTestPicker())
	_, ctrl := f.picker.Pick()
	go f.handleConn(context.Background(), serverConn, ctrl)

	reqBody, err := json.Marshal(batchRequest{
		ReqList: []wireReq{{ServiceName: "orders", ServiceType: "http", Method: "GET"}},
	})
	require.NoError(t, err)

	require.NoError(t, writeFrame(clientConn, 42, reqBody))

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seq, body := readFrame(t, clientConn)
	assert.Equal(t, uint32(42), seq)

	var batch batchResponse
	require.NoError(t, json.Unmarshal(body, &batch))
	require.Len(t, batch.RspList, 1)
	assert.Equal(t, "orders", batch.RspList[0].ServiceName)
	assert.NotEmpty(t, batch.RspList[0].Error, "no upstream registered, so the call should fail")
}

func TestDriverFrontClosesOnZeroSequence(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	f := NewDriverFront("", newTestPicker())
	_, ctrl := f.picker.Pick()
	done := make(chan struct{})
	go func() {
		f.handleConn(context.Background(), serverConn, ctrl)
		close(done)
	}()

	require.NoError(t, writeFrame(clientConn, 0, []byte("{}")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not return after a zero-sequence frame")
	}
}

func TestDriverFrontRejectsOversizedPayload(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	f := NewDriverFront("", newTestPicker())
	_, ctrl := f.picker.Pick()
	go f.handleConn(context.Background(), serverConn, ctrl)

	header := make([]byte, driverHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], 7)
	binary.BigEndian.PutUint32(header[4:8], maxDriverBodySize+1)
	require.NoError(t, writeHeaderOnly(clientConn, header))

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seq, body := readFrame(t, clientConn)
	assert.Equal(t, uint32(7), seq)
	assert.Contains(t, string(body), "Size exceeds limit.")
}

func writeHeaderOnly(w io.Writer, header []byte) error {
	_, err := w.Write(header)
	return err
}
