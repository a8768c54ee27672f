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
	"sync/atomic"
	"time"

	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/queue"
	"github.com/nabbar/poppy/wire"
)

// writeRecord is one locally written packet, waiting to be picked up by the
// peer's next DownloadPacket call.
type writeRecord struct {
	packet Packet
	cb     func(err liberr.Error)
}

// pendingDownload is a DownloadPacket call that arrived with nothing queued;
// it blocks on deliver until a Write/Close/Abort supplies a packet.
type pendingDownload struct {
	deliver chan *writeRecord
}

// Stream is one multiplexed duplex channel multiplexed over the built-in
// UploadPacket/DownloadPacket RPC methods (§4.5). A Stream is always reached
// through a Manager, which owns the one reference that keeps it alive while
// idle.
type Stream struct {
	id   int64
	opts Options

	refCount atomic.Int32
	closing  atomic.Bool
	drained  chan struct{}
	drainedO sync.Once

	mu            sync.Mutex
	nextWriteID   int64
	outQueue      []*writeRecord
	waitingDownload *pendingDownload
	unacked       map[int64]*writeRecord

	inQueue        []Packet
	waitingReaders []func(Packet)
	remoteEOF      bool
	remoteSentinel Sentinel
	nextExpected   int64

	timeouts *queue.RequestQueue
}

// newStream builds a Stream with an initial reference count of 1, held by
// the Manager that creates it.
func newStream(id int64, opts Options) *Stream {
	s := &Stream{
		id:       id,
		opts:     opts,
		unacked:  make(map[int64]*writeRecord),
		drained:  make(chan struct{}),
		timeouts: queue.New(queue.NewWorkload(nil)),
	}
	s.refCount.Store(1)
	return s
}

// ID returns the stream identity: (server_pid << 32) | per_process_counter.
func (s *Stream) ID() int64 { return s.id }

// Retain adds a reference, held by an armed callback closure (§5).
func (s *Stream) Retain() { s.refCount.Add(1) }

// Release drops a reference. When the count reaches 1 (only the manager's
// own reference left) while the stream is closing, it signals drained so
// the manager can finish removing it from its table.
func (s *Stream) Release() {
	n := s.refCount.Add(-1)
	if n == 1 && s.closing.Load() {
		s.drainedO.Do(func() { close(s.drained) })
	}
}

// Write appends data to the send queue. If a DownloadPacket call is already
// waiting, it is satisfied immediately and cb fires synchronously;
// otherwise the packet is queued with a timeout armed at
// options.timeout*options.retry_count (§4.5).
func (s *Stream) Write(data []byte, cb func(err liberr.Error)) {
	s.enqueueOutbound(Packet{StreamID: s.id, Payload: data, Sentinel: SentinelNone}, cb)
}

// Close enqueues an EOF sentinel behind any packets still outstanding; cb
// fires once the sentinel itself has been delivered to the peer.
func (s *Stream) Close(cb func(err liberr.Error)) {
	s.enqueueOutbound(Packet{StreamID: s.id, Sentinel: SentinelEOF}, cb)
}

// Abort enqueues an ABORT sentinel; identical to Close except for the
// sentinel kind the peer's next read observes (§4.5).
func (s *Stream) Abort(cb func(err liberr.Error)) {
	s.enqueueOutbound(Packet{StreamID: s.id, Sentinel: SentinelAbort}, cb)
}

func (s *Stream) enqueueOutbound(p Packet, cb func(err liberr.Error)) {
	s.mu.Lock()

	id := s.nextWriteID
	s.nextWriteID++
	p.PacketID = id
	rec := &writeRecord{packet: p, cb: cb}

	if s.waitingDownload != nil {
		wait := s.waitingDownload
		s.waitingDownload = nil
		s.mu.Unlock()
		wait.deliver <- rec
		return
	}

	s.outQueue = append(s.outQueue, rec)
	s.mu.Unlock()

	s.Retain()
	s.timeouts.Add(&queue.Request{
		SeqID:    id,
		Deadline: time.Now().Add(s.opts.packetDeadline()),
		OnComplete: func(seqID int64, reason queue.Reason, _ liberr.Error) {
			defer s.Release()
			if reason != queue.ReasonTimeout {
				return
			}
			s.failOutboundOnTimeout(seqID)
		},
	})
}

func (s *Stream) failOutboundOnTimeout(id int64) {
	s.mu.Lock()
	var rec *writeRecord
	for i, r := range s.outQueue {
		if r.packet.PacketID == id {
			rec = r
			s.outQueue = append(s.outQueue[:i], s.outQueue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if rec == nil {
		return
	}
	if rec.cb != nil {
		rec.cb(wire.Err(wire.StreamTimeout, "packet timed out waiting for delivery"))
	}
}

// OnDownloadRequest is invoked by the peer-facing DownloadPacket handler: it
// returns the head of the outbound queue, blocking (up to the per-packet
// deadline) if nothing is queued yet (§4.5).
func (s *Stream) OnDownloadRequest() (Packet, liberr.Error) {
	s.mu.Lock()
	if len(s.outQueue) > 0 {
		rec := s.outQueue[0]
		s.outQueue = s.outQueue[1:]
		s.unacked[rec.packet.PacketID] = rec
		s.mu.Unlock()

		s.timeouts.RemoveAndConfirm(rec.packet.PacketID, queue.ReasonTakeAway)
		if rec.cb != nil {
			rec.cb(nil)
		}
		return rec.packet, nil
	}

	wait := &pendingDownload{deliver: make(chan *writeRecord, 1)}
	s.waitingDownload = wait
	s.mu.Unlock()

	s.Retain()
	defer s.Release()

	select {
	case rec := <-wait.deliver:
		s.mu.Lock()
		s.unacked[rec.packet.PacketID] = rec
		s.mu.Unlock()
		if rec.cb != nil {
			rec.cb(nil)
		}
		return rec.packet, nil
	case <-time.After(s.opts.packetDeadline()):
		s.mu.Lock()
		if s.waitingDownload == wait {
			s.waitingDownload = nil
		}
		s.mu.Unlock()
		return Packet{}, wire.Err(wire.StreamTimeout, "no packet available before deadline")
	}
}

// OnAck frees send-side buffered packets the peer has cumulatively
// acknowledged through ackThrough (§4.5).
func (s *Stream) OnAck(ackThrough int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.unacked {
		if id < ackThrough {
			delete(s.unacked, id)
		}
	}
}

// Read delivers the next inbound packet. If one is already buffered it
// fires cb immediately; otherwise cb is queued and paired with the next
// OnUpload delivery (§4.5).
func (s *Stream) Read(cb func(p Packet)) {
	s.mu.Lock()
	if len(s.inQueue) > 0 {
		p := s.inQueue[0]
		s.inQueue = s.inQueue[1:]
		s.mu.Unlock()
		cb(p)
		return
	}
	s.waitingReaders = append(s.waitingReaders, cb)
	s.mu.Unlock()
}

// OnUpload is invoked by the peer-facing UploadPacket handler as packets
// arrive. Idempotent per packet id: a retried UploadPacket RPC (§7/§9, the
// sender retries up to retry_count times on RPC_FAILED even though the
// first attempt may already have reached the server) carries a packet id
// already delivered to the application, and is dropped here rather than
// handed to a reader a second time, keeping the ids a reader observes
// strictly increasing and contiguous (§8). Returns the cumulative ack to
// report back to the peer either way.
func (s *Stream) OnUpload(p Packet) (ackThrough int64) {
	s.mu.Lock()

	if p.PacketID < s.nextExpected {
		ackThrough = s.nextExpected
		s.mu.Unlock()
		return ackThrough
	}
	s.nextExpected = p.PacketID + 1
	ackThrough = s.nextExpected

	if p.Sentinel != SentinelNone {
		s.remoteEOF = true
		s.remoteSentinel = p.Sentinel
	}

	if len(s.waitingReaders) > 0 {
		cb := s.waitingReaders[0]
		s.waitingReaders = s.waitingReaders[1:]
		s.mu.Unlock()
		cb(p)
	} else {
		s.inQueue = append(s.inQueue, p)
		s.mu.Unlock()
	}

	return ackThrough
}

// drainRemoteSentinelLocked is used by the manager once both the local EOF
// sentinel has been delivered and the peer's own close/abort has arrived;
// it flushes the terminal marker to any reader still waiting.
func (s *Stream) drainRemoteSentinelLocked() {
	s.mu.Lock()
	eof, sentinel := s.remoteEOF, s.remoteSentinel
	readers := s.waitingReaders
	s.waitingReaders = nil
	s.mu.Unlock()

	if !eof {
		return
	}
	for _, cb := range readers {
		cb(Packet{StreamID: s.id, Sentinel: sentinel})
	}
}

// beginClose marks the stream closing: once every transient reference
// (armed timeout, pending download wait) releases and only the manager's
// own reference remains, drained is signaled.
func (s *Stream) beginClose() {
	s.closing.Store(true)
	s.timeouts.Close()
	if s.refCount.Load() == 1 {
		s.drainedO.Do(func() { close(s.drained) })
	}
}

// WaitUntilClosed blocks until every armed callback has released its
// reference, per the ownership rule of §5 ("destruction waits for the
// reference count to fall to 1").
func (s *Stream) WaitUntilClosed() {
	<-s.drained
}
