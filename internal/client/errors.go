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

package client

import "github.com/nabbar/fibp/internal/ferrors"

const (
	ErrConnectFailed ferrors.CodeError = iota + ferrors.MinPkgClient
	ErrConnectTimeout
	ErrReadTimeout
	ErrWriteFailed
	ErrClosed
	ErrResponseTooLarge
	ErrServerTimedOut
	ErrDestinationCapReached
	ErrRPCServerError
)

func init() {
	ferrors.RegisterIdFctMessage(ErrConnectFailed, getMessage)
}

func getMessage(code ferrors.CodeError) string {
	switch code {
	case ErrConnectFailed:
		return "connect failed"
	case ErrConnectTimeout:
		return "connect timed out"
	case ErrReadTimeout:
		return "read timed out"
	case ErrWriteFailed:
		return "write failed"
	case ErrClosed:
		return "session is closed"
	case ErrResponseTooLarge:
		return "Server Response Too Large."
	case ErrServerTimedOut:
		return "Server Timed Out."
	case ErrDestinationCapReached:
		return "Send Service Request Failed."
	case ErrRPCServerError:
		return "rpc peer returned an error"
	}
	return ""
}
