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

package controller

import (
	"fmt"
	"sync"
	"time"

	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/wire"
)

// Options is the pair of compress-type preferences carried on a controller,
// either the user's explicit choice or the method descriptor's default
// (§4.1's "Auto defers to method descriptor options").
type Options struct {
	Timeout              int64
	RequestCompressType  wire.CompressType
	ResponseCompressType wire.CompressType
}

// Controller is the per-call context shared by client and server, modeled
// on the single-owner-per-call discipline of the original implementation:
// in_use is set when the transport takes ownership and cleared exactly
// once; Reset refuses while in_use is held.
type Controller struct {
	mu sync.Mutex

	methodFullName string
	sequenceID     int64

	errorCode liberr.CodeError
	reason    string

	canceled      bool
	failImmediate bool
	inUse         bool
	sync          bool

	cancelListeners []func()

	remoteAddr string
	credential string
	user       string
	role       string

	startTime time.Time

	userOptions Options
	autoOptions Options
}

// New builds a fresh controller for method, bound to sequenceID for the
// lifetime of one call. builtin marks it as never retrying/migrating
// (§4.1's fail_immediately builtin usage) and is supplied here, not set
// later, since it is a property of the call site rather than mutable state.
func New(method string, sequenceID int64, builtin bool) *Controller {
	c := &Controller{
		methodFullName: method,
		sequenceID:     sequenceID,
		failImmediate:  builtin,
		startTime:      time.Now(),
	}
	c.userOptions = Options{RequestCompressType: wire.CompressAuto, ResponseCompressType: wire.CompressAuto}
	c.autoOptions = Options{RequestCompressType: wire.CompressNone, ResponseCompressType: wire.CompressNone}
	return c
}

// Reset clears the per-call state for reuse, mirroring InternalReset +
// user-option reset in the original controller: cancellation, credential,
// user/role, error state and auto options all clear, but method name and
// sequence id are intentionally left untouched (they belong to the call
// slot, not the call outcome) since callers that keep a Controller across
// retries of the SAME logical call must not lose them.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inUse {
		panic("controller: Reset called while controller is in use")
	}

	c.errorCode = 0
	c.reason = ""
	c.canceled = false
	c.sync = false
	c.cancelListeners = nil
	c.credential = ""
	c.user = ""
	c.role = ""
	c.autoOptions = Options{RequestCompressType: wire.CompressNone, ResponseCompressType: wire.CompressNone}
	c.userOptions.Timeout = 0
	c.userOptions.RequestCompressType = wire.CompressAuto
	c.userOptions.ResponseCompressType = wire.CompressAuto
}

// MarkInUse is called by the transport exactly once per call, when handing
// the controller off for wire dispatch.
func (c *Controller) MarkInUse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse {
		panic("controller: MarkInUse called on a controller already in use")
	}
	c.inUse = true
}

// ClearInUse releases ownership; called exactly once by the transport when
// the call completes (success, failure or cancellation).
func (c *Controller) ClearInUse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = false
}

// InUse reports whether the transport currently owns this controller.
func (c *Controller) InUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// StartCancel marks the call canceled and fires every registered listener.
func (c *Controller) StartCancel() {
	c.mu.Lock()
	c.canceled = true
	listeners := c.cancelListeners
	c.cancelListeners = nil
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// IsCanceled reports whether StartCancel has been called.
func (c *Controller) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// NotifyOnCancel registers fn to run when the call is canceled. If the call
// is already canceled, fn runs immediately.
func (c *Controller) NotifyOnCancel(fn func()) {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		fn()
		return
	}
	c.cancelListeners = append(c.cancelListeners, fn)
	c.mu.Unlock()
}

// Failed reports whether SetFailed has been called with a non-success code.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCode != 0 && c.errorCode != wire.Success
}

// ErrorCode returns the code set by SetFailed, or wire.Success.
func (c *Controller) ErrorCode() liberr.CodeError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errorCode == 0 {
		return wire.Success
	}
	return c.errorCode
}

// ErrorText renders "<code>: <reason>", or just the code's registered
// message when no reason string was supplied.
func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.errorCode
	if code == 0 {
		code = wire.Success
	}
	msg := code.Error().Error()
	if c.reason == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, c.reason)
}

// SetFailedFromUser sets FromUser as the error code, the error class a user
// method handler reports via its own explicit failure (as opposed to a
// transport-level error).
func (c *Controller) SetFailedFromUser(reason string) {
	c.SetFailed(wire.FromUser, reason)
}

// SetFailed sets the call's terminal error code and reason.
func (c *Controller) SetFailed(code liberr.CodeError, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCode = code
	c.reason = reason
}

// Method returns the full method name ("Service.Method").
func (c *Controller) Method() string {
	return c.methodFullName
}

// SequenceID returns the sequence id this controller was bound to.
func (c *Controller) SequenceID() int64 {
	return c.sequenceID
}

// RemoteAddress returns the peer address, set by the transport on dispatch.
func (c *Controller) RemoteAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// SetRemoteAddress is called by the transport once it knows the peer.
func (c *Controller) SetRemoteAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteAddr = addr
}

// Credential, User and Role are populated on the server for verified
// sessions (§4.1's login handshake outcome).
func (c *Controller) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

func (c *Controller) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Controller) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetIdentity is called once by the server dispatch path after verifying
// the connection's login ticket.
func (c *Controller) SetIdentity(credential, user, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
	c.user = user
	c.role = role
}

// StartTime returns the wall-clock instant the controller was constructed.
func (c *Controller) StartTime() time.Time {
	return c.startTime
}

// SetTimeout sets the user's explicit timeout override, in milliseconds.
// A value of 0 defers to the method descriptor's default at call time.
func (c *Controller) SetTimeout(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userOptions.Timeout = ms
}

// Timeout returns the user override if set, otherwise the method
// descriptor's default supplied via FillFromMethodDescriptor.
func (c *Controller) Timeout() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userOptions.Timeout > 0 {
		return c.userOptions.Timeout
	}
	return c.autoOptions.Timeout
}

// SetRequestCompressType sets the user's explicit request compression
// choice. wire.CompressAuto defers to the method descriptor.
func (c *Controller) SetRequestCompressType(t wire.CompressType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userOptions.RequestCompressType = t
}

// RequestCompressType resolves the effective request compression: the
// user's choice unless it's Auto, in which case the method descriptor's
// default.
func (c *Controller) RequestCompressType() wire.CompressType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userOptions.RequestCompressType != wire.CompressAuto {
		return c.userOptions.RequestCompressType
	}
	return c.autoOptions.RequestCompressType
}

// SetResponseCompressType sets the user's explicit response compression
// choice. wire.CompressAuto defers to the method descriptor.
func (c *Controller) SetResponseCompressType(t wire.CompressType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userOptions.ResponseCompressType = t
}

// ResponseCompressType resolves the effective response compression the
// same way RequestCompressType does.
func (c *Controller) ResponseCompressType() wire.CompressType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userOptions.ResponseCompressType != wire.CompressAuto {
		return c.userOptions.ResponseCompressType
	}
	return c.autoOptions.ResponseCompressType
}

// FillFromMethodDescriptor applies a service's declared defaults for
// timeout and compression, used whenever the user leaves an option on its
// zero value / Auto.
func (c *Controller) FillFromMethodDescriptor(timeout int64, reqCompress, respCompress wire.CompressType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoOptions.Timeout = timeout
	c.autoOptions.RequestCompressType = reqCompress
	c.autoOptions.ResponseCompressType = respCompress
}

// SetSync marks the call as a synchronous (blocking) invocation; used by the
// client stub generator to pick the right completion strategy.
func (c *Controller) SetSync(sync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync = sync
}

// Sync reports whether this call was made synchronously.
func (c *Controller) Sync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sync
}

// FailImmediate reports whether this call must be cancelled immediately
// rather than held in a channel backlog when its connection drops (§4.1,
// §4.2's "Fail-immediately" rule).
func (c *Controller) FailImmediate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failImmediate
}
