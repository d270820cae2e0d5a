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

	"github.com/nabbar/fibp/internal/obslog"
)

// maxDriverBodySize is spec.md §5's "Request bodies are capped at 64 MiB
// on the driver protocol."
const maxDriverBodySize = 64 * 1024 * 1024

const driverHeaderSize = 8 // 4-byte seq + 4-byte payload size

// DriverFront is the driver protocol front end of spec.md §6: a
// length-framed JSON acceptor. Each accepted connection is handed to an
// engine.Pool worker for its whole lifetime, mirroring spec.md §2's
// "listener -> accept fiber -> protocol parse -> controller" data flow.
type DriverFront struct {
	addr   string
	picker PoolPicker
	ln     net.Listener
}

// NewDriverFront builds a driver front end bound to addr once Serve is
// called. Each accepted connection is assigned a thread slot by picker,
// per spec.md §4.3.
func NewDriverFront(addr string, picker PoolPicker) *DriverFront {
	return &DriverFront{addr: addr, picker: picker}
}

// Serve binds addr and accepts connections until ctx is cancelled.
func (f *DriverFront) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return ErrListenFailed.Error(err)
	}
	f.ln = ln
	obslog.InfoLevel.Logf("driver front end listening on %s", f.addr)

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

// Addr returns the bound listener address, valid after Serve has started
// accepting.
func (f *DriverFront) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

func (f *DriverFront) handleConn(ctx context.Context, conn net.Conn, ctrl *Controller) {
	defer conn.Close()

	header := make([]byte, driverHeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		seq := binary.BigEndian.Uint32(header[0:4])
		size := binary.BigEndian.Uint32(header[4:8])

		// Sequence 0 or payload size 0 means "close", per spec.md §6.
		if seq == 0 || size == 0 {
			return
		}

		if size > maxDriverBodySize {
			f.writeError(conn, seq, ErrSizeExceedsLimit.Message())
			return
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		var batch batchRequest
		if err := json.Unmarshal(payload, &batch); err != nil {
			f.writeError(conn, seq, "malformed request payload")
			continue
		}

		reqs := toGatewayReqs(batch.ReqList)
		rsps := ctrl.CallBatch(ctx, reqs, batch.DoTransaction)

		body, err := json.Marshal(batchResponse{RspList: fromGatewayRsps(rsps)})
		if err != nil {
			f.writeError(conn, seq, "failed to encode response")
			continue
		}

		if err = writeFrame(conn, seq, body); err != nil {
			return
		}
	}
}

func (f *DriverFront) writeError(conn net.Conn, seq uint32, msg string) {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	_ = writeFrame(conn, seq, body)
}

func writeFrame(conn net.Conn, seq uint32, body []byte) error {
	header := make([]byte, driverHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], seq)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}
