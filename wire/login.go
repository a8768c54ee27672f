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
	"net/http"
	"net/url"
	"strconv"
)

// RPCPath is the single HTTP endpoint every poppy request is POSTed to (§3).
const RPCPath = "/__rpc_service__"

const (
	headerAuthTicket   = "Cookie"
	headerCompressType = "X-Poppy-Compress-Type"
	headerTos          = "X-Poppy-Tos"
	authTicketCookie   = "POPPY_AUTH_TICKET"
)

// Credential is the opaque ticket a client presents on every connection
// attempt (§4.1, §4.3). A Channel asks its CredentialGenerator for one each
// time it dials a new Connection.
type Credential struct {
	Ticket string
}

// LoginRequest is the set of headers sent with the very first request on a
// freshly dialed connection. Subsequent requests on the same connection
// reuse it unchanged; the server authenticates once per connection, not once
// per request (§4.1).
type LoginRequest struct {
	Credential   Credential
	CompressList []CompressType
	Tos          int
}

// ApplyHeaders writes the login headers onto an outgoing request.
func (l LoginRequest) ApplyHeaders(h http.Header) {
	if l.Credential.Ticket != "" {
		h.Set(headerAuthTicket, authTicketCookie+"="+url.QueryEscape(l.Credential.Ticket))
	}
	h.Set(headerCompressType, EncodeCompressList(l.CompressList...))
	h.Set(headerTos, strconv.Itoa(l.Tos))
}

// ParseLoginHeaders extracts the login fields a server needs to authenticate
// an inbound connection's first request.
func ParseLoginHeaders(h http.Header) (ticket string, supported map[CompressType]bool, tos int) {
	supported = ParseCompressList(h.Get(headerCompressType))

	if c := h.Get(headerAuthTicket); c != "" {
		for _, part := range splitCookies(c) {
			if name, value, ok := cutCookie(part); ok && name == authTicketCookie {
				if v, err := url.QueryUnescape(value); err == nil {
					ticket = v
				} else {
					ticket = value
				}
			}
		}
	}

	if v := h.Get(headerTos); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tos = n
		}
	}

	return ticket, supported, tos
}

func splitCookies(header string) []string {
	var out []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] == ';' {
			out = append(out, header[start:i])
			start = i + 1
		}
	}
	out = append(out, header[start:])
	return out
}

func cutCookie(part string) (name, value string, ok bool) {
	for i := 0; i < len(part); i++ {
		if part[i] == '=' {
			return trimSpace(part[:i]), trimSpace(part[i+1:]), true
		}
	}
	return "", "", false
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// Authenticator verifies the ticket presented on a connection's first
// request and maps it to a user identity. Implementations run asynchronously
// server-side so a slow credential backend never blocks the accept loop
// (§4.1, §4.4).
type Authenticator interface {
	Authenticate(ticket string) (user string, roles []string, ok bool)
}

// CredentialGenerator produces a fresh Credential each time a Channel dials
// a new Connection (§4.1). Implementations may cache a ticket obtained from
// an external auth service and reuse it across connections.
type CredentialGenerator interface {
	Generate() (Credential, error)
}

// LoginStatus is the outcome the server writes back on the first request of
// a connection, reflected as an HTTP status code (§4.3).
type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginBadRequest
	LoginUnauthorized
	LoginForbidden
)

// HTTPStatus maps a LoginStatus to the status code written on the wire.
func (s LoginStatus) HTTPStatus() int {
	switch s {
	case LoginOK:
		return http.StatusOK
	case LoginBadRequest:
		return http.StatusBadRequest
	case LoginUnauthorized:
		return http.StatusUnauthorized
	case LoginForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// VerifyLogin runs auth against the ticket parsed off the first request of
// a connection and returns the status to send back and, on success, the
// resolved identity. A server with no Authenticator configured accepts
// every connection regardless of whether it presented a ticket; a missing
// ticket is only a BadRequest once an Authenticator is actually in place to
// check one against.
func VerifyLogin(auth Authenticator, ticket string) (status LoginStatus, user string, roles []string) {
	if auth == nil {
		return LoginOK, "", nil
	}
	if ticket == "" {
		return LoginBadRequest, "", nil
	}
	u, r, ok := auth.Authenticate(ticket)
	if !ok {
		return LoginUnauthorized, "", nil
	}
	return LoginOK, u, r
}
