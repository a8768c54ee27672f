/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package wire

import (
	liberr "github.com/nabbar/poppy/errors"
)

// Error codes surfaced to callers (§6/§7). Reserved above 9000 so they never
// collide with the teacher's own HTTP-like code table (errors.RegisterIdFctMessage
// keys codes from their minimum upward).
const (
	Success liberr.CodeError = 9000 + iota
	FromUser
	RequestTimeout
	ServerUnavailable
	NoAuth
	ServiceUnreachable
	NetworkUnreachable
	ChannelShutdown
	ConnectionClosed
	SendBufferFull
	ParseRequestMessage
	ParseResponseMessage
	MethodName
	FoundService
	FoundMethod
	CompressType
	UncompressMessage
	ServerShutdown
	AllRequestDiscarded
	RequestTooLarge
	RPCFailed
	StreamTimeout
	StreamAborted
	EndOfStream
	Unknown
)

var codeMessage = map[liberr.CodeError]string{
	Success:              "success",
	FromUser:             "error reported by user method",
	RequestTimeout:       "request timed out waiting for a healthy connection response",
	ServerUnavailable:    "server connection is no longer healthy",
	NoAuth:               "connection failed authentication",
	ServiceUnreachable:   "no connection could reach any configured endpoint",
	NetworkUnreachable:   "connection is not yet established",
	ChannelShutdown:      "channel has been shut down",
	ConnectionClosed:     "connection was closed while the request was pending",
	SendBufferFull:       "send buffer is full, connection considered unrecoverable",
	ParseRequestMessage:  "failed to parse request message body",
	ParseResponseMessage: "failed to parse response message body",
	MethodName:           "method name missing or malformed",
	FoundService:         "no such service registered",
	FoundMethod:          "no such method on service",
	CompressType:         "unsupported compression type requested",
	UncompressMessage:    "failed to decompress message body",
	ServerShutdown:       "server is stopping, request rejected",
	AllRequestDiscarded:  "all pending requests discarded on shutdown",
	RequestTooLarge:      "request exceeds the maximum frame size",
	RPCFailed:            "underlying streaming RPC failed",
	StreamTimeout:        "stream packet timed out waiting for delivery",
	StreamAborted:        "stream was aborted by the peer",
	EndOfStream:          "stream reached end of data",
	Unknown:              "unknown error",
}

func init() {
	liberr.RegisterIdFctMessage(Success, func(code liberr.CodeError) string {
		if m, ok := codeMessage[code]; ok {
			return m
		}
		return ""
	})
}

// Err builds a liberr.Error for the given poppy code, with an optional
// formatted reason appended to the registered message and optional parents.
func Err(code liberr.CodeError, reason string, parent ...error) liberr.Error {
	if reason == "" {
		return code.Error(parent...)
	}
	e := code.Error(parent...)
	e.Add(liberr.New(0, reason))
	return e
}
