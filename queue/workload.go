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
	"sync/atomic"
	"time"

	libatm "github.com/nabbar/poppy/atomic"
)

// Reason tags why a request left the queue, for workload accounting (§4.2).
type Reason uint8

const (
	ReasonResponse Reason = iota
	ReasonCanceled
	ReasonTimeout
	ReasonTakeAway
)

// Workload is the counter block carried by a RequestQueue. Counters are
// plain atomics (no CAS loop needed for a monotonic increment); last-use is
// kept in the teacher's generic atomic.Value so the whole record stays
// lock-free. A queue's Workload optionally links to a parent (connection's
// queue links to its channel's aggregate, the channel's links to the
// process-wide client), and every bump propagates upward.
type Workload struct {
	requestCount  atomic.Int64
	responseCount atomic.Int64
	canceledCount atomic.Int64
	timeoutCount  atomic.Int64
	takeawayCount atomic.Int64
	pendingCount  atomic.Int64
	lastUse       libatm.Value[time.Time]

	parent *Workload
}

// NewWorkload builds a workload record optionally linked to parent.
func NewWorkload(parent *Workload) *Workload {
	w := &Workload{parent: parent}
	w.lastUse = libatm.NewValue[time.Time]()
	return w
}

func (w *Workload) touch() {
	w.lastUse.Store(time.Now())
	if w.parent != nil {
		w.parent.touch()
	}
}

// OnAdd records a newly queued request.
func (w *Workload) OnAdd() {
	w.requestCount.Add(1)
	w.pendingCount.Add(1)
	w.touch()
	if w.parent != nil {
		w.parent.OnAdd()
	}
}

// OnRemove records a request leaving the queue for the given reason.
func (w *Workload) OnRemove(reason Reason) {
	w.pendingCount.Add(-1)
	switch reason {
	case ReasonResponse:
		w.responseCount.Add(1)
	case ReasonCanceled:
		w.canceledCount.Add(1)
	case ReasonTimeout:
		w.timeoutCount.Add(1)
	case ReasonTakeAway:
		w.takeawayCount.Add(1)
	}
	w.touch()
	if w.parent != nil {
		w.parent.OnRemove(reason)
	}
}

// Snapshot is a point-in-time copy of a Workload's counters.
type Snapshot struct {
	RequestCount  int64
	ResponseCount int64
	CanceledCount int64
	TimeoutCount  int64
	TakeawayCount int64
	PendingCount  int64
	LastUse       time.Time
}

// Snapshot reads every counter without locking (each is an independent
// atomic; the snapshot is not a single consistent transaction, which is
// acceptable for monitoring/metrics consumption).
func (w *Workload) Snapshot() Snapshot {
	return Snapshot{
		RequestCount:  w.requestCount.Load(),
		ResponseCount: w.responseCount.Load(),
		CanceledCount: w.canceledCount.Load(),
		TimeoutCount:  w.timeoutCount.Load(),
		TakeawayCount: w.takeawayCount.Load(),
		PendingCount:  w.pendingCount.Load(),
		LastUse:       w.lastUse.Load(),
	}
}
