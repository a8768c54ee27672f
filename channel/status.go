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
	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/wire"
)

// Status is one of the nine connection states of the channel state machine
// (§4.1). Healthy, Connected, Connecting, Disconnecting and Disconnected are
// transient; ConnectError recovers via the error-bucket sweep; NoAuth and
// Shutdown are terminal for that Connection ("Unrecoverable").
type Status int

const (
	Healthy Status = iota
	Connected
	Connecting
	Disconnecting
	Disconnected
	ConnectError
	NoAuth
	Shutdown
	totalStatus
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Connected:
		return "Connected"
	case Connecting:
		return "Connecting"
	case Disconnecting:
		return "Disconnecting"
	case Disconnected:
		return "Disconnected"
	case ConnectError:
		return "ConnectError"
	case NoAuth:
		return "NoAuth"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Unrecoverable reports whether the status is terminal for that Connection
// (it will never be reconnected automatically).
func (s Status) Unrecoverable() bool {
	return s == NoAuth || s == Shutdown
}

// ChannelStatus is the derived, channel-wide health summary (§6): the
// minimum (best) status across all of a channel's Connections.
type ChannelStatus int

const (
	StatusHealthy ChannelStatus = iota
	StatusUnavailable
	StatusNoAuth
	StatusShutdown
	StatusUnknown
)

func (c ChannelStatus) String() string {
	switch c {
	case StatusHealthy:
		return "Healthy"
	case StatusUnavailable:
		return "Unavailable"
	case StatusNoAuth:
		return "NoAuth"
	case StatusShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// TranslateChannelStatus maps a single Connection status to the channel-wide
// vocabulary (§4.1: "Healthy→Healthy, Connected→Unavailable, NoAuth→NoAuth,
// Shutdown→Shutdown, otherwise Unknown/Unconnectable").
func TranslateChannelStatus(s Status) ChannelStatus {
	switch s {
	case Healthy:
		return StatusHealthy
	case Connected:
		return StatusUnavailable
	case NoAuth:
		return StatusNoAuth
	case Shutdown:
		return StatusShutdown
	default:
		return StatusUnknown
	}
}

// errorCodeByStatus is the table from §4.1: "connection status → request
// error on timeout wake-up".
var errorCodeByStatus = map[Status]liberr.CodeError{
	Healthy:       wire.RequestTimeout,
	Connected:     wire.ServerUnavailable,
	NoAuth:        wire.NoAuth,
	ConnectError:  wire.ServiceUnreachable,
	Connecting:    wire.NetworkUnreachable,
	Disconnecting: wire.NetworkUnreachable,
	Disconnected:  wire.NetworkUnreachable,
	Shutdown:      wire.ChannelShutdown,
}

// ErrorCodeForStatus returns the poppy error code to report for a timed-out
// request, given the status of the connection it was queued on.
func ErrorCodeForStatus(s Status) liberr.CodeError {
	if code, ok := errorCodeByStatus[s]; ok {
		return code
	}
	return wire.NetworkUnreachable
}
