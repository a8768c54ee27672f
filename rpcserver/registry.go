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
	"sync"

	"github.com/nabbar/poppy/controller"
	"github.com/nabbar/poppy/wire"
)

// Handler executes one method call. It reads the (already decompressed)
// request bytes and returns the (not yet compressed) response bytes, or an
// error for the controller to report as FROM_USER.
type Handler func(ctrl *controller.Controller, request []byte) ([]byte, error)

// MethodDesc is one RPC method's registration: its handler and the
// compress/timeout defaults a controller falls back to when left on Auto
// (§3, §4.1).
type MethodDesc struct {
	Name                 string
	Timeout              int64
	RequestCompressType  wire.CompressType
	ResponseCompressType wire.CompressType
	Handler              Handler
}

// ServiceDesc is one registered service: its full name and the methods it
// exposes, keyed by short method name.
type ServiceDesc struct {
	Name    string
	Methods map[string]*MethodDesc
}

// Registry maps "Service.Method" full names to their MethodDesc, the
// structure the dispatch flow's step 2 looks up against (§4.4).
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ServiceDesc
}

// NewRegistry builds an empty method registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*ServiceDesc)}
}

// Register adds or replaces a service's method table.
func (r *Registry) Register(svc *ServiceDesc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Name] = svc
}

// Lookup splits "Service.Method" and resolves it to a MethodDesc, returning
// the precise §4.4 error for a missing service vs. a missing method.
func (r *Registry) Lookup(fullName string) (*MethodDesc, error) {
	svcName, methodName, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[svcName]
	if !ok {
		return nil, wire.Err(wire.FoundService, "no such service: "+svcName)
	}

	m, ok := svc.Methods[methodName]
	if !ok {
		return nil, wire.Err(wire.FoundMethod, "no such method: "+fullName)
	}

	return m, nil
}

func splitFullName(fullName string) (svc, method string, err error) {
	if fullName == "" {
		return "", "", wire.Err(wire.MethodName, "empty method name")
	}
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", wire.Err(wire.MethodName, "method name missing service prefix: "+fullName)
}
