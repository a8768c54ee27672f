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
	"encoding/binary"
	"io"
)

// MaxFrameSize is the pre-compression ceiling on meta_len+msg_len (§4.3, §6):
// a single request or response body may never exceed 32 MiB.
const MaxFrameSize = 32 * 1024 * 1024

// Frame is a decoded meta+body pair read off the wire (§4.3).
type Frame struct {
	Meta RpcMeta
	Body []byte
}

// WriteFrame serializes meta and body as the length-prefixed wire format:
// a 4-byte big-endian meta_len, a 4-byte big-endian msg_len, the marshaled
// RpcMeta, then the (already compressed) body.
func WriteFrame(w io.Writer, meta *RpcMeta, body []byte) error {
	metaBytes := meta.Marshal()

	if len(metaBytes) > MaxFrameSize || len(body) > MaxFrameSize {
		return Err(RequestTooLarge, "frame exceeds maximum size of 32MiB")
	}

	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(len(metaBytes)))
	binary.BigEndian.PutUint32(head[4:8], uint32(len(body)))

	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.Write(metaBytes); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed meta+body pair from r. isResponse
// selects whether a malformed body is reported as a request-parse or a
// response-parse error (§6), since the two sides share this reader.
func ReadFrame(r io.Reader, isResponse bool) (*Frame, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	metaLen := binary.BigEndian.Uint32(head[0:4])
	msgLen := binary.BigEndian.Uint32(head[4:8])

	parseErr := ParseRequestMessage
	if isResponse {
		parseErr = ParseResponseMessage
	}

	if metaLen > MaxFrameSize || msgLen > MaxFrameSize {
		return nil, Err(RequestTooLarge, "frame exceeds maximum size of 32MiB")
	}

	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, err
	}

	body := make([]byte, msgLen)
	if msgLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	f := &Frame{}
	if err := f.Meta.Unmarshal(metaBytes); err != nil {
		return nil, Err(parseErr, err.Error(), err)
	}
	f.Body = body

	return f, nil
}
