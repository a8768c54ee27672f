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
	"github.com/nabbar/poppy/controller"
	liblog "github.com/nabbar/poppy/logger"
	"github.com/nabbar/poppy/rpcserver"
	"github.com/nabbar/poppy/stream"
	"github.com/nabbar/poppy/wire"
)

// ServiceName is the full service name under which the built-in methods are
// registered, matching the "poppy." namespace of the original .proto
// package (§4.5, §6).
const ServiceName = "poppy.BuiltinService"

const healthOK = "OK"

// Service bundles the health check and the six streaming RPC methods behind
// one registration, backed by a stream Manager (§4.5).
type Service struct {
	Streams *stream.Manager
	Opts    stream.Options
}

// NewService builds a Service with a fresh stream Manager.
func NewService(opts stream.Options) *Service {
	return &Service{Streams: stream.NewManager(), Opts: opts}
}

// SetLog wires a structured logger into the service's stream Manager.
func (s *Service) SetLog(log liblog.FuncLog) {
	s.Streams.SetLog(log)
}

// Descriptor returns the rpcserver.ServiceDesc a Registry registers this
// service under.
func (s *Service) Descriptor() *rpcserver.ServiceDesc {
	return &rpcserver.ServiceDesc{
		Name: ServiceName,
		Methods: map[string]*rpcserver.MethodDesc{
			"Health":             {Name: "Health", Handler: s.health},
			"CreateInputStream":  {Name: "CreateInputStream", Handler: s.createInputStream},
			"CreateOutputStream": {Name: "CreateOutputStream", Handler: s.createOutputStream},
			"CloseInputStream":   {Name: "CloseInputStream", Handler: s.closeStream},
			"CloseOutputStream":  {Name: "CloseOutputStream", Handler: s.closeStream},
			"UploadPacket":       {Name: "UploadPacket", Handler: s.uploadPacket},
			"DownloadPacket":     {Name: "DownloadPacket", Handler: s.downloadPacket},
		},
	}
}

// health answers the channel heartbeat's Health() probe (§4.1): any
// response other than the literal "OK" payload is treated as a failed
// probe by the caller.
func (s *Service) health(_ *controller.Controller, _ []byte) ([]byte, error) {
	return []byte(healthOK), nil
}

func (s *Service) createInputStream(_ *controller.Controller, _ []byte) ([]byte, error) {
	st := s.Streams.CreateInput(s.Opts)
	return encodeStreamID(st.ID()), nil
}

func (s *Service) createOutputStream(_ *controller.Controller, _ []byte) ([]byte, error) {
	st := s.Streams.CreateOutput(s.Opts)
	return encodeStreamID(st.ID()), nil
}

func (s *Service) closeStream(_ *controller.Controller, req []byte) ([]byte, error) {
	id, err := decodeStreamID(req)
	if err != nil {
		return nil, err
	}

	cerr := s.Streams.Close(id, nil)
	if cerr != nil {
		return nil, cerr
	}
	return nil, nil
}

func (s *Service) uploadPacket(_ *controller.Controller, req []byte) ([]byte, error) {
	p, err := decodePacket(req)
	if err != nil {
		return nil, err
	}

	st, ok := s.Streams.Lookup(p.StreamID)
	if !ok {
		return nil, wire.Err(wire.EndOfStream, "no such stream")
	}
	defer st.Release()

	ack := st.OnUpload(p)
	return encodeAck(ack), nil
}

func (s *Service) downloadPacket(_ *controller.Controller, req []byte) ([]byte, error) {
	id, err := decodeStreamID(req)
	if err != nil {
		return nil, err
	}

	st, ok := s.Streams.Lookup(id)
	if !ok {
		return nil, wire.Err(wire.EndOfStream, "no such stream")
	}
	defer st.Release()

	p, derr := st.OnDownloadRequest()
	if derr != nil {
		return nil, derr
	}
	return encodePacket(p), nil
}
