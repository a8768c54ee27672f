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

package queue

import (
	"container/heap"
	"sync"
	"time"

	liberr "github.com/nabbar/poppy/errors"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/wire"
)

// tickRounding is the granularity the next deadline is rounded up to before
// arming the oneshot timer (§4.2): many near-simultaneous deadlines coalesce
// onto the same timer fire instead of rearming a timer per millisecond.
const tickRounding = 32 * time.Millisecond

// deadlineHeap is a container/heap.Interface ordered by Request.Deadline.
type deadlineHeap []*Request

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x any) {
	r := x.(*Request)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// RequestQueue is the per-connection pending-request table described in
// §4.2: a map keyed by sequence id backing a deadline min-heap, with a
// single rearming oneshot timer.
type RequestQueue struct {
	mu       sync.Mutex
	byID     map[int64]*Request
	heap     deadlineHeap
	timer    *time.Timer
	workload *Workload
	closed   bool
	log      liblog.FuncLog
}

// New builds an empty queue. workload may be nil if no accounting is wired.
func New(workload *Workload) *RequestQueue {
	if workload == nil {
		workload = NewWorkload(nil)
	}
	return &RequestQueue{
		byID:     make(map[int64]*Request),
		heap:     make(deadlineHeap, 0),
		workload: workload,
	}
}

// SetLog wires a structured logger into the queue, emitting an entry on
// every timeout tick and every CancelAll/RemoveAll drain. Safe to call at
// any point after New; nil disables logging (the default).
func (q *RequestQueue) SetLog(log liblog.FuncLog) {
	q.mu.Lock()
	q.log = log
	q.mu.Unlock()
}

func (q *RequestQueue) logf(lvl loglvl.Level, message string, args ...interface{}) {
	q.mu.Lock()
	log := q.log
	q.mu.Unlock()

	if log == nil {
		return
	}
	l := log()
	if l == nil {
		return
	}
	l.Entry(lvl, message, args...).Log()
}

// Workload returns the queue's counter block.
func (q *RequestQueue) Workload() *Workload {
	return q.workload
}

// Add inserts req into the map and heap and rearms the timer if req is now
// the earliest deadline. A duplicate sequence id is a programmer error: the
// channel/connection layer must never reuse a sequence id for a still-live
// request (§4.2).
func (q *RequestQueue) Add(req *Request) {
	q.mu.Lock()

	if _, exists := q.byID[req.SeqID]; exists {
		q.mu.Unlock()
		panic("queue: duplicate sequence id added to RequestQueue")
	}

	q.byID[req.SeqID] = req
	heap.Push(&q.heap, req)
	q.rearmLocked()

	q.mu.Unlock()

	q.workload.OnAdd()
}

// RemoveAndConfirm removes the request with the given sequence id, tags the
// reason for workload accounting, and returns it. ok is false if no such
// request is pending (already completed or never existed).
func (q *RequestQueue) RemoveAndConfirm(seqID int64, reason Reason) (req *Request, ok bool) {
	q.mu.Lock()
	req, ok = q.byID[seqID]
	if ok {
		q.removeLocked(req)
	}
	q.mu.Unlock()

	if ok {
		q.workload.OnRemove(reason)
	}
	return req, ok
}

// PopFirst removes and returns the earliest-deadline request, tagged
// TakeAway, for migration between connections or into a channel backlog.
func (q *RequestQueue) PopFirst() (req *Request, ok bool) {
	q.mu.Lock()
	if len(q.heap) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	req = q.heap[0]
	q.removeLocked(req)
	q.mu.Unlock()

	q.workload.OnRemove(ReasonTakeAway)
	return req, true
}

// CancelAll sets err on every pending request, fires each completion outside
// the lock, and clears the structure. Used on connection close / channel
// shutdown (§4.2, §8 scenario "after CancelAll(e), map is empty, pending==0").
func (q *RequestQueue) CancelAll(err liberr.Error) {
	q.mu.Lock()
	pending := make([]*Request, 0, len(q.byID))
	for _, r := range q.byID {
		pending = append(pending, r)
	}
	q.byID = make(map[int64]*Request)
	q.heap = make(deadlineHeap, 0)
	q.stopTimerLocked()
	q.mu.Unlock()

	if len(pending) > 0 {
		q.logf(loglvl.DebugLevel, "cancelling %d pending requests: %s", len(pending), err.Error())
	}

	for _, r := range pending {
		q.workload.OnRemove(ReasonCanceled)
		if r.OnComplete != nil {
			r.OnComplete(r.SeqID, ReasonCanceled, err)
		}
	}
}

// RemoveAll moves every non-builtin, non-fail-immediate request out of the
// queue into the returned slice (for redispatch elsewhere); builtin and
// fail-immediate requests are cancelled in place with err instead (§4.2).
func (q *RequestQueue) RemoveAll(err liberr.Error) (redispatch []*Request) {
	q.mu.Lock()
	all := make([]*Request, 0, len(q.byID))
	for _, r := range q.byID {
		all = append(all, r)
	}
	q.byID = make(map[int64]*Request)
	q.heap = make(deadlineHeap, 0)
	q.stopTimerLocked()
	q.mu.Unlock()

	var cancel []*Request
	for _, r := range all {
		if r.Builtin || r.FailImmediate {
			cancel = append(cancel, r)
		} else {
			redispatch = append(redispatch, r)
		}
	}

	for _, r := range cancel {
		q.workload.OnRemove(ReasonCanceled)
		if r.OnComplete != nil {
			r.OnComplete(r.SeqID, ReasonCanceled, err)
		}
	}
	for range redispatch {
		q.workload.OnRemove(ReasonTakeAway)
	}

	return redispatch
}

// Len reports the number of pending requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *RequestQueue) removeLocked(req *Request) {
	delete(q.byID, req.SeqID)
	if req.heapIndex >= 0 && req.heapIndex < len(q.heap) && q.heap[req.heapIndex] == req {
		heap.Remove(&q.heap, req.heapIndex)
	}
	q.rearmLocked()
}

// rearmLocked (re)arms the single oneshot timer at the current head's
// rounded-up deadline. Must be called with mu held.
func (q *RequestQueue) rearmLocked() {
	q.stopTimerLocked()

	if q.closed || len(q.heap) == 0 {
		return
	}

	deadline := q.heap[0].Deadline
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	if r := delay % tickRounding; r != 0 {
		delay += tickRounding - r
	}

	q.timer = time.AfterFunc(delay, q.onTick)
}

func (q *RequestQueue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// onTick is the deadline-tick handler (§4.2): pop the heap while the top's
// deadline has passed, firing completion for each survivor; stale entries
// (already removed via RemoveAndConfirm/PopFirst racing the timer) are
// skipped silently. Re-arms on the new head afterward.
func (q *RequestQueue) onTick() {
	var expired []*Request
	now := time.Now()

	q.mu.Lock()
	for len(q.heap) > 0 && !q.heap[0].Deadline.After(now) {
		r := heap.Pop(&q.heap).(*Request)
		if cur, ok := q.byID[r.SeqID]; !ok || cur != r {
			continue
		}
		delete(q.byID, r.SeqID)
		expired = append(expired, r)
	}
	q.rearmLocked()
	q.mu.Unlock()

	if len(expired) > 0 {
		q.logf(loglvl.WarnLevel, "%d request(s) expired", len(expired))
	}

	for _, r := range expired {
		q.workload.OnRemove(ReasonTimeout)
		if r.OnComplete != nil {
			r.OnComplete(r.SeqID, ReasonTimeout, wire.Err(wire.RequestTimeout, ""))
		}
	}
}

// Close stops the timer permanently; further Add calls still work but will
// never fire a timeout. Used once the owning connection is torn down and
// CancelAll/RemoveAll has already drained the queue.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.stopTimerLocked()
	q.mu.Unlock()
}
