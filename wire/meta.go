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
	"google.golang.org/protobuf/encoding/protowire"
)

// MetaType distinguishes a request frame from a response frame (§6).
type MetaType int32

const (
	TypeRequest MetaType = iota
	TypeResponse
)

// RpcMeta is the metadata envelope serialized at the head of every frame
// (§3, §6). Field numbers below match the original .proto layout so the
// wire bytes stay compatible with a real protoc-generated peer.
type RpcMeta struct {
	Type                         MetaType
	SequenceId                   int64
	Method                       string
	Failed                       bool
	ErrorCode                    int32
	Reason                       string
	Canceled                     bool
	Timeout                      int64
	CompressType                 CompressType
	ExpectedResponseCompressType CompressType
}

const (
	fieldType          = 1
	fieldSequenceID    = 2
	fieldMethod        = 3
	fieldFailed        = 4
	fieldErrorCode     = 5
	fieldReason        = 6
	fieldCanceled      = 7
	fieldTimeout       = 8
	fieldCompressType  = 9
	fieldExpectedRCT   = 10
)

// Marshal encodes m using the low-level protobuf wire primitives
// (google.golang.org/protobuf/encoding/protowire) rather than a protoc-generated
// struct: this environment has no protoc step, so the wire layout is produced
// by hand against the same field numbers a generated RpcMeta would use.
func (m *RpcMeta) Marshal() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))

	b = protowire.AppendTag(b, fieldSequenceID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SequenceId))

	if m.Method != "" {
		b = protowire.AppendTag(b, fieldMethod, protowire.BytesType)
		b = protowire.AppendString(b, m.Method)
	}

	if m.Failed {
		b = protowire.AppendTag(b, fieldFailed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	if m.ErrorCode != 0 {
		b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ErrorCode))
	}

	if m.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, m.Reason)
	}

	if m.Canceled {
		b = protowire.AppendTag(b, fieldCanceled, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	if m.Timeout != 0 {
		b = protowire.AppendTag(b, fieldTimeout, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Timeout))
	}

	b = protowire.AppendTag(b, fieldCompressType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CompressType))

	b = protowire.AppendTag(b, fieldExpectedRCT, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ExpectedResponseCompressType))

	return b
}

// Unmarshal decodes the wire format produced by Marshal. A malformed field
// (truncated varint/length, unknown wire type for a known field number)
// returns ParseRequestMessage/ParseResponseMessage-class errors to the
// caller, who picks the concrete code depending on which side is parsing.
func (m *RpcMeta) Unmarshal(b []byte) error {
	*m = RpcMeta{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Err(Unknown, "malformed tag in RpcMeta")
		}
		b = b[n:]

		switch num {
		case fieldType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed type field")
			}
			m.Type = MetaType(v)
			b = b[n:]
		case fieldSequenceID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed sequence_id field")
			}
			m.SequenceId = int64(v)
			b = b[n:]
		case fieldMethod:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Err(Unknown, "malformed method field")
			}
			m.Method = v
			b = b[n:]
		case fieldFailed:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed failed field")
			}
			m.Failed = v != 0
			b = b[n:]
		case fieldErrorCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed error_code field")
			}
			m.ErrorCode = int32(v)
			b = b[n:]
		case fieldReason:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Err(Unknown, "malformed reason field")
			}
			m.Reason = v
			b = b[n:]
		case fieldCanceled:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed canceled field")
			}
			m.Canceled = v != 0
			b = b[n:]
		case fieldTimeout:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed timeout field")
			}
			m.Timeout = int64(v)
			b = b[n:]
		case fieldCompressType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed compress_type field")
			}
			m.CompressType = CompressType(v)
			b = b[n:]
		case fieldExpectedRCT:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Err(Unknown, "malformed expected_response_compress_type field")
			}
			m.ExpectedResponseCompressType = CompressType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Err(Unknown, "malformed unknown field in RpcMeta")
			}
			b = b[n:]
		}
	}

	if m.Type == TypeRequest && m.Method == "" {
		return Err(MethodName, "request frame missing method name")
	}
	if m.SequenceId < 0 {
		return Err(Unknown, "negative sequence id")
	}

	return nil
}
