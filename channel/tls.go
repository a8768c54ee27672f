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
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/nabbar/poppy/certificates"
)

// tcpDialer is the Dialer used when a Channel carries no TLS configuration:
// a plain net.DialTimeout over tcp.
type tcpDialer struct {
	timeout time.Duration
}

func (d tcpDialer) Dial(address string) (net.Conn, error) {
	return net.DialTimeout("tcp", address, d.timeout)
}

// TLSDialer wraps a certificates.TLSConfig to establish TLS connections for
// a Channel's reconnect loop, mirroring the login listener/dialer TLS
// wiring a deployed poppy service needs alongside the plaintext default.
type TLSDialer struct {
	cfg     certificates.TLSConfig
	timeout time.Duration
}

// NewTLSDialer builds a Dialer that establishes a TLS connection to each
// endpoint using cfg, with the server name derived from the dialed address
// (host, with any port stripped).
func NewTLSDialer(cfg certificates.TLSConfig, timeout time.Duration) *TLSDialer {
	return &TLSDialer{cfg: cfg, timeout: timeout}
}

func (d *TLSDialer) Dial(address string) (net.Conn, error) {
	serverName := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		serverName = h
	} else if i := strings.LastIndex(address, ":"); i >= 0 {
		serverName = address[:i]
	}

	dialer := &net.Dialer{Timeout: d.timeout}
	return tls.DialWithDialer(dialer, "tcp", address, d.cfg.TLS(serverName))
}
