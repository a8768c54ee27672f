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
	"net"
	"sync/atomic"

	libatm "github.com/nabbar/poppy/atomic"
	"github.com/nabbar/poppy/queue"
)

// Connection is one endpoint of a Channel's pool (§3, §4.1). It owns the
// underlying net connection, its status (guarded by the owning Channel's
// bucket lock, never mutated directly here) and a per-connection
// RequestQueue.
type Connection struct {
	channel *Channel
	address string

	status libatm.Value[Status]

	conn net.Conn

	queue *queue.RequestQueue

	outstandingBuiltin atomic.Int64

	// bucketIndex is this Connection's position in the owning Channel's
	// bucket slice for its current status, maintained by Channel under the
	// writer lock so swap-remove stays O(1).
	bucketIndex int
}

// newConnection builds a Connection for address, starting Disconnected, with
// its own RequestQueue linked to the channel's aggregate workload.
func newConnection(ch *Channel, address string) *Connection {
	c := &Connection{
		channel: ch,
		address: address,
		queue:   queue.New(queue.NewWorkload(ch.workload)),
	}
	c.status = libatm.NewValue[Status]()
	c.status.Store(Disconnected)
	return c
}

// Address returns the endpoint this Connection dials.
func (c *Connection) Address() string {
	return c.address
}

// Status returns the Connection's current status.
func (c *Connection) Status() Status {
	return c.status.Load()
}

// Queue returns the Connection's per-connection RequestQueue.
func (c *Connection) Queue() *queue.RequestQueue {
	return c.queue
}

// IncrBuiltin/DecrBuiltin track outstanding heartbeat calls, so a Connection
// mid-heartbeat is never selected for a second concurrent one.
func (c *Connection) IncrBuiltin() int64 { return c.outstandingBuiltin.Add(1) }
func (c *Connection) DecrBuiltin() int64 { return c.outstandingBuiltin.Add(-1) }
func (c *Connection) OutstandingBuiltin() int64 { return c.outstandingBuiltin.Load() }

// Close tears down the underlying net connection, if any, and drains the
// per-connection queue via the caller-supplied cancellation (the Channel
// decides redispatch-vs-cancel semantics; Connection itself just closes the
// socket and flushes its internal request table).
func (c *Connection) closeSocket() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
