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

package builtin

import (
	"encoding/binary"

	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/stream"
	"github.com/nabbar/poppy/wire"
)

// Small hand-rolled wire format for the streaming methods' request/response
// bodies: these are internal, never seen by a user codec, so a fixed binary
// layout (mirroring the length-prefixed discipline wire.RpcMeta uses) is
// enough, with no protobuf indirection needed.

func encodeStreamID(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeStreamID(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, wire.Err(wire.ParseRequestMessage, "stream id request too short")
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// encodePacket lays out {stream_id(8) packet_id(8) sentinel(1) error_code(2) payload...}.
func encodePacket(p stream.Packet) []byte {
	b := make([]byte, 19+len(p.Payload))
	binary.BigEndian.PutUint64(b[0:8], uint64(p.StreamID))
	binary.BigEndian.PutUint64(b[8:16], uint64(p.PacketID))
	b[16] = byte(p.Sentinel)
	binary.BigEndian.PutUint16(b[17:19], uint16(p.ErrorCode))
	copy(b[19:], p.Payload)
	return b
}

func decodePacket(b []byte) (stream.Packet, error) {
	if len(b) < 19 {
		return stream.Packet{}, wire.Err(wire.ParseRequestMessage, "packet request too short")
	}
	p := stream.Packet{
		StreamID:  int64(binary.BigEndian.Uint64(b[0:8])),
		PacketID:  int64(binary.BigEndian.Uint64(b[8:16])),
		Sentinel:  stream.Sentinel(b[16]),
		ErrorCode: liberr.CodeError(binary.BigEndian.Uint16(b[17:19])),
	}
	if len(b) > 19 {
		p.Payload = append([]byte(nil), b[19:]...)
	}
	return p, nil
}

// encodeAck lays out a bare cumulative-ack response: {ack_through(8)}.
func encodeAck(ackThrough int64) []byte {
	return encodeStreamID(ackThrough)
}

func decodeAck(b []byte) (int64, error) {
	return decodeStreamID(b)
}
