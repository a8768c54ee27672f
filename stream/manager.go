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

package stream

import (
	"sync"

	liberr "github.com/nabbar/poppy/errors"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/wire"
)

// Manager is the per-channel/per-server stream table (§4.5, §5): mutex
// guarded, ref-counted lookups that release the lock before the caller does
// any work with the returned Stream.
type Manager struct {
	ids *IDGenerator

	mu      sync.Mutex
	streams map[int64]*Stream
	log     liblog.FuncLog
}

// NewManager builds an empty stream table.
func NewManager() *Manager {
	return &Manager{
		ids:     NewIDGenerator(),
		streams: make(map[int64]*Stream),
	}
}

// SetLog wires a structured logger into the manager, emitting an entry when
// a stream is created, registered, or closed. Safe to call at any point;
// nil (the default) disables logging.
func (m *Manager) SetLog(log liblog.FuncLog) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *Manager) logf(lvl loglvl.Level, message string, args ...interface{}) {
	m.mu.Lock()
	log := m.log
	m.mu.Unlock()

	if log == nil {
		return
	}
	l := log()
	if l == nil {
		return
	}
	l.Entry(lvl, message, args...).Log()
}

// CreateInput allocates a new stream id and registers the local Stream
// object that will serve as its input (write) side; mirrors CreateOutput
// for the opposing direction (§4.5).
func (m *Manager) CreateInput(opts Options) *Stream {
	return m.create(opts)
}

// CreateOutput allocates a new stream id and registers the local Stream
// object that will serve as its output (read) side (§4.5).
func (m *Manager) CreateOutput(opts Options) *Stream {
	return m.create(opts)
}

func (m *Manager) create(opts Options) *Stream {
	id := m.ids.Next()
	s := newStream(id, opts)

	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()

	m.logf(loglvl.DebugLevel, "stream %d created", id)
	return s
}

// Register adds a stream created with a peer-supplied id (the opposing
// side of a CreateInputStream/CreateOutputStream call).
func (m *Manager) Register(id int64, opts Options) *Stream {
	s := newStream(id, opts)

	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()

	m.logf(loglvl.DebugLevel, "stream %d registered", id)
	return s
}

// Lookup returns the stream for id, retaining a reference on the caller's
// behalf. The caller must Release when done.
func (m *Manager) Lookup(id int64) (*Stream, bool) {
	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.Retain()
	return s, true
}

// Close performs the two-ack graceful close coordination for id: the local
// EOF sentinel is enqueued by the caller beforehand (via Stream.Close); once
// that sentinel has been delivered and the peer's own close has arrived
// (signaled by fn returning true), the stream is removed from the table and
// onClose fires.
func (m *Manager) Close(id int64, onClose func()) liberr.Error {
	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return wire.Err(wire.EndOfStream, "stream already closed")
	}

	s.beginClose()

	go func() {
		s.WaitUntilClosed()
		s.drainRemoteSentinelLocked()
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		m.logf(loglvl.DebugLevel, "stream %d closed", id)
		if onClose != nil {
			onClose()
		}
	}()

	return nil
}

// Count returns the number of streams currently tracked, for tests and
// diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
