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

package channel

import (
	libctx "github.com/nabbar/poppy/context"
)

// connMeta is what dialMeta keeps per remote address: the reason the most
// recent dial attempt failed, if any, for surfacing in diagnostics without
// having to replay the Connection's status transitions.
type connMeta struct {
	lastDialErr string
}

// dialMeta is a per-channel, per-connection-address keyed store (§4.1: every
// Connection is addressed by its dial endpoint already, this just gives a
// place to hang metadata that doesn't belong on the hot Connection struct
// itself). Populated by OnConnectResult, read by LastDialError.
func newDialMeta() libctx.Config[string] {
	return libctx.NewConfig[string](nil)
}

// LastDialError returns the error text of the most recent failed dial
// attempt for addr, if any.
func (ch *Channel) LastDialError(addr string) (string, bool) {
	v, ok := ch.meta.Load(addr)
	if !ok {
		return "", false
	}
	m, ok := v.(*connMeta)
	if !ok || m.lastDialErr == "" {
		return "", false
	}
	return m.lastDialErr, true
}

func (ch *Channel) recordDialResult(addr string, err error) {
	if err == nil {
		ch.meta.Delete(addr)
		return
	}
	ch.meta.Store(addr, &connMeta{lastDialErr: err.Error()})
}
