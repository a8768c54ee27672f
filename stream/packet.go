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

package stream

import (
	"os"
	"sync/atomic"

	liberr "github.com/nabbar/poppy/errors"
)

// Sentinel marks a packet as ordinary payload or a close/abort marker
// delivered in-band on the same ordered queue (§4.5).
type Sentinel int

const (
	SentinelNone Sentinel = iota
	SentinelEOF
	SentinelAbort
)

// Packet is the unit exchanged by UploadPacket/DownloadPacket: payload plus
// the cumulative-ack bookkeeping fields (§4.5, §6).
type Packet struct {
	StreamID  int64
	PacketID  int64
	Payload   []byte
	ErrorCode liberr.CodeError
	Sentinel  Sentinel
}

// IDGenerator produces stream ids unique across process restarts:
// (server_pid << 32) | per_process_counter, as required by §4.5.
type IDGenerator struct {
	pid     int64
	counter atomic.Int64
}

// NewIDGenerator builds a generator seeded with the current process id.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{pid: int64(os.Getpid())}
}

// Next returns the next stream id from this generator.
func (g *IDGenerator) Next() int64 {
	c := g.counter.Add(1)
	return (g.pid << 32) | c
}
