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
	"strconv"
	"strings"

	"github.com/golang/snappy"
)

// CompressType is the compression applied to a frame body (§4.3, §6).
type CompressType int32

const (
	CompressNone CompressType = iota
	CompressSnappy
	CompressAuto
)

// String renders the compression type the way it appears in logs and the
// X-Poppy-Compress-Type header.
func (c CompressType) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressSnappy:
		return "snappy"
	case CompressAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// EncodeCompressList renders the CSV list of the given codes, for the
// X-Poppy-Compress-Type header. CompressAuto is never advertised: it is a
// client-side placeholder meaning "defer to the method descriptor", never a
// wire-level codec a peer can negotiate.
func EncodeCompressList(types ...CompressType) string {
	s := make([]string, 0, len(types))
	for _, t := range types {
		if t == CompressAuto {
			continue
		}
		s = append(s, strconv.Itoa(int(t)))
	}
	return strings.Join(s, ",")
}

// ParseCompressList parses the CSV header value sent during login into the
// set of compression codes the peer supports.
func ParseCompressList(header string) map[CompressType]bool {
	out := make(map[CompressType]bool)
	if header == "" {
		return out
	}
	for _, p := range strings.Split(header, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out[CompressType(n)] = true
		}
	}
	return out
}

// Compress applies the given compression to payload. CompressAuto must have
// already been resolved by the caller (controller/method-descriptor lookup);
// passing it here is a programmer error and treated as CompressNone.
func Compress(typ CompressType, payload []byte) ([]byte, error) {
	switch typ {
	case CompressNone, CompressAuto:
		return payload, nil
	case CompressSnappy:
		return snappy.Encode(nil, payload), nil
	default:
		return nil, Err(CompressType, "unsupported compression type "+strconv.Itoa(int(typ)))
	}
}

// Decompress reverses Compress.
func Decompress(typ CompressType, payload []byte) ([]byte, error) {
	switch typ {
	case CompressNone, CompressAuto:
		return payload, nil
	case CompressSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, Err(UncompressMessage, err.Error(), err)
		}
		return out, nil
	default:
		return nil, Err(CompressType, "unsupported compression type "+strconv.Itoa(int(typ)))
	}
}

// NegotiateResponseCompress applies the server-side downgrade rule of §4.3:
// if the client never advertised support for the chosen type, fall back to
// CompressNone.
func NegotiateResponseCompress(wanted CompressType, peerSupports map[CompressType]bool) CompressType {
	if wanted == CompressNone {
		return CompressNone
	}
	if peerSupports[wanted] {
		return wanted
	}
	return CompressNone
}
