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

package rpcserver

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/poppy/controller"
	libctx "github.com/nabbar/poppy/context"
	liberr "github.com/nabbar/poppy/errors"
	libagg "github.com/nabbar/poppy/ioutils/aggregator"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/wire"
)

// cachedIdentity is what a connection's first login handshake resolves to,
// kept around for every later request on the same connection.
type cachedIdentity struct {
	user  string
	roles []string
}

// Server is the §4.4 dispatch path: one per listening endpoint, backed by a
// method Registry and an optional Authenticator for the login handshake.
type Server struct {
	Registry *Registry
	Auth     wire.Authenticator
	Log      liblog.FuncLog

	stopping atomic.Bool

	mu       sync.Mutex
	inFlight map[int64]*controller.Controller
	memCost  int64

	seqMu  sync.Mutex
	lastID int64

	// identities caches the resolved login identity per remote address, so
	// only the first request on a connection pays for wire.VerifyLogin
	// (§4.1, §4.3: "the server authenticates once per connection, not once
	// per request"). Forget evicts an entry once net/http reports the
	// underlying connection closed.
	identities libctx.Config[string]

	// accessLog serializes one log line per completed call across every
	// concurrently-running ServeHTTP goroutine. Nil until SetAccessLog.
	accMu     sync.Mutex
	accessLog libagg.Aggregator
}

// NewServer builds a Server over registry, optionally verifying connections
// against auth (nil accepts every connection, per wire.VerifyLogin). log may
// be nil, in which case dispatch proceeds without emitting log entries.
func NewServer(registry *Registry, auth wire.Authenticator, log liblog.FuncLog) *Server {
	return &Server{
		Registry:   registry,
		Auth:       auth,
		Log:        log,
		inFlight:   make(map[int64]*controller.Controller),
		identities: libctx.NewConfig[string](nil),
	}
}

// Forget evicts the cached login identity for remoteAddr. Wire this into an
// http.Server's ConnState hook (StateClosed/StateHijacked) so a later
// connection reusing the same address/port pair re-authenticates instead of
// inheriting a stale identity.
func (s *Server) Forget(remoteAddr string) {
	s.identities.Delete(remoteAddr)
}

// identityFor resolves the login identity for a request: a cache hit skips
// wire.VerifyLogin entirely, a miss runs it once and, on success, caches the
// result under remoteAddr for every subsequent request on that connection.
func (s *Server) identityFor(remoteAddr, ticket string) (*cachedIdentity, wire.LoginStatus) {
	if v, ok := s.identities.Load(remoteAddr); ok {
		return v.(*cachedIdentity), wire.LoginOK
	}

	status, user, roles := wire.VerifyLogin(s.Auth, ticket)
	if status != wire.LoginOK {
		return nil, status
	}

	ident := &cachedIdentity{user: user, roles: roles}
	s.identities.Store(remoteAddr, ident)
	return ident, wire.LoginOK
}

func (s *Server) logf(lvl loglvl.Level, message string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	l := s.Log()
	if l == nil {
		return
	}
	l.Entry(lvl, message, args...).Log()
}

func (s *Server) nextControllerID() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.lastID++
	return s.lastID
}

// ServeHTTP implements the framed protocol over net/http: verify the login
// headers, read one frame, dispatch it, and write the response frame
// (§4.3, §4.4).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != wire.RPCPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	ticket, supported, tos := wire.ParseLoginHeaders(r.Header)
	_ = tos

	ident, status := s.identityFor(r.RemoteAddr, ticket)
	if status != wire.LoginOK {
		w.WriteHeader(status.HTTPStatus())
		return
	}

	in, err := wire.ReadFrame(r.Body, false)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	outMeta, outBody := s.dispatch(in, r.RemoteAddr, ticket, ident.user, ident.roles, supported)
	s.logAccess(r.RemoteAddr, in.Meta.Method, in.Meta.SequenceId, outMeta.Failed, outMeta.Reason)

	w.WriteHeader(http.StatusOK)
	_ = wire.WriteFrame(w, outMeta, outBody)
}

func (s *Server) dispatch(in *wire.Frame, remoteAddr, credential, user string, roles []string, supported map[wire.CompressType]bool) (*wire.RpcMeta, []byte) {
	fail := func(code liberr.CodeError, reason string) (*wire.RpcMeta, []byte) {
		return &wire.RpcMeta{
			Type:       wire.TypeResponse,
			SequenceId: in.Meta.SequenceId,
			Failed:     true,
			ErrorCode:  int32(code),
			Reason:     reason,
		}, nil
	}

	if s.stopping.Load() {
		return fail(wire.ServerShutdown, "server is stopping")
	}

	method, err := s.Registry.Lookup(in.Meta.Method)
	if err != nil {
		s.logf(loglvl.WarnLevel, "method lookup failed: %s (%s)", in.Meta.Method, err.Error())
		return fail(codeOf(err), err.Error())
	}

	body, err := wire.Decompress(in.Meta.CompressType, in.Body)
	if err != nil {
		s.logf(loglvl.WarnLevel, "request decompress failed: %s", err.Error())
		return fail(wire.ParseRequestMessage, err.Error())
	}

	ctrl := controller.New(in.Meta.Method, in.Meta.SequenceId, false)
	ctrl.SetRemoteAddress(remoteAddr)
	ctrl.SetIdentity(credential, user, firstOrEmpty(roles))
	ctrl.FillFromMethodDescriptor(method.Timeout, method.RequestCompressType, method.ResponseCompressType)
	ctrl.MarkInUse()

	cid := s.nextControllerID()
	s.registerInFlight(cid, ctrl)
	defer s.unregisterInFlight(cid, len(body))

	s.addMemCost(int64(len(body)) + controllerMemCost)

	respBody, herr := method.Handler(ctrl, body)
	ctrl.ClearInUse()

	if herr != nil {
		ctrl.SetFailedFromUser(herr.Error())
	}

	if ctrl.Failed() {
		s.logf(loglvl.InfoLevel, "call %s (seq %d) failed: %s", in.Meta.Method, in.Meta.SequenceId, ctrl.ErrorText())
		return fail(ctrl.ErrorCode(), ctrl.ErrorText())
	}

	s.logf(loglvl.DebugLevel, "call %s (seq %d) completed", in.Meta.Method, in.Meta.SequenceId)

	respCompress := wire.NegotiateResponseCompress(ctrl.ResponseCompressType(), supported)
	compressed, cerr := wire.Compress(respCompress, respBody)
	if cerr != nil {
		return fail(wire.CompressType, cerr.Error())
	}

	return &wire.RpcMeta{
		Type:         wire.TypeResponse,
		SequenceId:   in.Meta.SequenceId,
		CompressType: respCompress,
	}, compressed
}

// controllerMemCost approximates the fixed overhead of one in-flight
// controller, added to the request body size for the running memory-cost
// counter (§4.4 step 3).
const controllerMemCost = 256

func (s *Server) registerInFlight(id int64, ctrl *controller.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[id] = ctrl
}

func (s *Server) unregisterInFlight(id int64, bodyLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
	s.memCost -= int64(bodyLen) + controllerMemCost
}

func (s *Server) addMemCost(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memCost += n
}

// MemCost returns the server's running approximate in-flight memory cost.
func (s *Server) MemCost() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memCost
}

// InFlightCount returns the number of controllers currently registered.
func (s *Server) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Stop switches to Stopping, rejecting all new calls with SERVER_SHUTDOWN,
// then polls until the in-flight controller set drains before returning
// (§4.4). QuickStop skips the drain.
func (s *Server) Stop() {
	s.stopping.Store(true)
	for s.InFlightCount() > 0 {
		time.Sleep(time.Millisecond)
	}
	_ = s.CloseAccessLog()
}

// QuickStop switches to Stopping and clears the in-flight set immediately,
// without waiting for handlers to finish (§4.4).
func (s *Server) QuickStop() {
	s.stopping.Store(true)
	s.mu.Lock()
	s.inFlight = make(map[int64]*controller.Controller)
	s.memCost = 0
	s.mu.Unlock()
}

func firstOrEmpty(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}

func codeOf(err error) liberr.CodeError {
	if e, ok := err.(liberr.Error); ok {
		return e.GetCode()
	}
	return wire.Unknown
}
