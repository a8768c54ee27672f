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
	"context"
	"math/rand"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	libatm "github.com/nabbar/poppy/atomic"
	libctx "github.com/nabbar/poppy/context"
	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/ioutils/mapCloser"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/queue"
	"github.com/nabbar/poppy/wire"
)

// MinConcurrentReconnect is the MIN_CONCURRENT burst size of §4.1's reconnect
// policy.
const MinConcurrentReconnect = 3

// ErrorSweepInterval is how often ConnectError connections are returned to
// Disconnected to be retried (§4.1).
const ErrorSweepInterval = 5 * time.Second

// HeartbeatInterval is the period of the Healthy/Connected health check
// (§4.1).
const HeartbeatInterval = 1 * time.Second

// Event drives the channel the way a user's Connect/Disconnect/Shutdown call
// does (§4.1's ChannelEvent).
type Event int

const (
	EventDisconnect Event = iota
	EventConnect
	EventShuttingDown
	EventShutdown
)

// Dialer abstracts the net-frame connection establishment so tests can
// substitute an in-memory pipe instead of a real socket.
type Dialer interface {
	Dial(address string) (net.Conn, error)
}

// Options configures a Channel (§3).
type Options struct {
	Tos               int
	KeepAliveIdleMs   int64
	ConnectTimeoutMs  int64
	ChannelCache      bool
	ReconnectDelay    time.Duration
	CredentialGen     wire.CredentialGenerator
}

// Channel is the client-side pool of Connections to one logical service name
// (§3, §4.1).
type Channel struct {
	name string
	hash uint64

	mu      sync.RWMutex
	buckets [int(totalStatus)][]*Connection
	byAddr  map[string]*Connection

	endpoints []string

	event libatm.Value[Event]

	lastSeqID int64
	seqMu     sync.Mutex

	workload *queue.Workload
	backlog  *queue.RequestQueue

	inFlight int64
	inFlMu   sync.Mutex

	options Options
	dialer  Dialer
	rng     *rand.Rand
	rngMu   sync.Mutex

	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	sweepStop      chan struct{}

	lastUse        libatm.Value[time.Time]
	lastCheckError libatm.Value[time.Time]

	// meta is a per-connection-address keyed store for diagnostic metadata
	// that doesn't belong on the hot Connection struct itself (currently
	// just the last dial error; see context.go).
	meta libctx.Config[string]

	// closers tracks every live connection socket so Shutdown can close them
	// all through one accounting point instead of walking the bucket table
	// a second time.
	closers mapCloser.Closer

	wg sync.WaitGroup

	logMu sync.RWMutex
	log   liblog.FuncLog
}

// SetLog wires a structured logger into the channel, used for status
// transitions, reconnect bursts and shutdown. Safe to call at any time;
// nil (the default after New) disables logging.
func (ch *Channel) SetLog(log liblog.FuncLog) {
	ch.logMu.Lock()
	ch.log = log
	ch.logMu.Unlock()

	ch.mu.RLock()
	conns := make([]*Connection, 0, len(ch.byAddr))
	for _, c := range ch.byAddr {
		conns = append(conns, c)
	}
	ch.mu.RUnlock()

	ch.backlog.SetLog(log)
	for _, c := range conns {
		c.queue.SetLog(log)
	}
}

func (ch *Channel) logf(lvl loglvl.Level, message string, args ...interface{}) {
	ch.logMu.RLock()
	log := ch.log
	ch.logMu.RUnlock()

	if log == nil {
		return
	}
	l := log()
	if l == nil {
		return
	}
	l.Entry(lvl, message, args...).Log()
}

// New builds a Channel over the given endpoints. The endpoint list is
// shuffled immediately, per §4.1's reconnect policy.
func New(name string, hash uint64, endpoints []string, dialer Dialer, opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 200 * time.Millisecond
	}

	ch := &Channel{
		name:     name,
		hash:     hash,
		byAddr:   make(map[string]*Connection),
		dialer:   dialer,
		options:  opts,
		workload: queue.NewWorkload(nil),
		rng:      rand.New(rand.NewSource(int64(os.Getpid()))),
	}
	ch.event = libatm.NewValue[Event]()
	ch.event.Store(EventConnect)
	ch.lastUse = libatm.NewValue[time.Time]()
	ch.lastCheckError = libatm.NewValue[time.Time]()
	ch.backlog = queue.New(queue.NewWorkload(ch.workload))
	ch.meta = newDialMeta()
	ch.closers = mapCloser.New(context.Background())

	shuffled := append([]string(nil), endpoints...)
	ch.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	ch.mu.Lock()
	for _, addr := range shuffled {
		ch.addConnectionLocked(addr)
	}
	ch.endpoints = sortedCopy(endpoints)
	ch.mu.Unlock()

	return ch
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// Name returns the channel's logical service name.
func (ch *Channel) Name() string { return ch.name }

// Hash returns the channel's stable 64-bit name hash.
func (ch *Channel) Hash() uint64 { return ch.hash }

// Workload returns the channel's aggregated counter block.
func (ch *Channel) Workload() *queue.Workload { return ch.workload }

func (ch *Channel) addConnectionLocked(addr string) *Connection {
	c := newConnection(ch, addr)
	c.bucketIndex = len(ch.buckets[Disconnected])
	ch.buckets[Disconnected] = append(ch.buckets[Disconnected], c)
	ch.byAddr[addr] = c

	ch.logMu.RLock()
	log := ch.log
	ch.logMu.RUnlock()
	c.queue.SetLog(log)

	return c
}

// moveLocked transfers c from its current bucket to dest, using swap-remove
// to keep bucket membership O(1) (§4.1: "moving a Connection between buckets
// is done under a channel-level writer lock").
func (ch *Channel) moveLocked(c *Connection, dest Status) {
	cur := c.Status()
	bucket := ch.buckets[cur]
	idx := c.bucketIndex

	last := len(bucket) - 1
	if idx >= 0 && idx <= last && bucket[idx] == c {
		bucket[idx] = bucket[last]
		bucket[idx].bucketIndex = idx
		bucket = bucket[:last]
	}
	ch.buckets[cur] = bucket

	c.bucketIndex = len(ch.buckets[dest])
	ch.buckets[dest] = append(ch.buckets[dest], c)
	c.status.Store(dest)
}

// ChangeStatus transitions c to status under the writer lock, re-deriving
// channel status implicitly (callers query DerivedStatus on demand rather
// than caching it, since it's cheap to recompute from bucket sizes).
func (ch *Channel) ChangeStatus(c *Connection, status Status) {
	ch.mu.Lock()
	from := c.Status()
	wasHealthy := from == Healthy
	ch.moveLocked(c, status)
	ch.mu.Unlock()

	if from != status {
		ch.logf(loglvl.DebugLevel, "channel %s: connection %s %s -> %s", ch.name, c.Address(), from, status)
	}

	if wasHealthy && status == Connected {
		go ch.RedispatchBacklog()
	}
}

// DerivedStatus returns the channel-wide status, the minimum (best) across
// all Connections (§4.1, §6).
func (ch *Channel) DerivedStatus() ChannelStatus {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if ch.event.Load() == EventShutdown {
		return StatusShutdown
	}
	if len(ch.buckets[Healthy]) > 0 {
		return StatusHealthy
	}
	if len(ch.buckets[Connected]) > 0 || len(ch.buckets[Connecting]) > 0 ||
		len(ch.buckets[Disconnecting]) > 0 || len(ch.buckets[Disconnected]) > 0 ||
		len(ch.buckets[ConnectError]) > 0 {
		return StatusUnavailable
	}
	if len(ch.buckets[NoAuth]) > 0 {
		return StatusNoAuth
	}
	return StatusUnknown
}

// BucketSize reports how many Connections are currently in status s.
func (ch *Channel) BucketSize(s Status) int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.buckets[s])
}

// NextSequenceID allocates the next monotone sequence id for this channel.
func (ch *Channel) NextSequenceID() int64 {
	ch.seqMu.Lock()
	defer ch.seqMu.Unlock()
	ch.lastSeqID++
	return ch.lastSeqID
}

// SelectConnection implements §4.1's selection rule: pick a uniformly random
// index into the Healthy bucket, linearly probing forward if the picked slot
// raced out from under us, until a Healthy Connection is found or the bucket
// is exhausted.
func (ch *Channel) SelectConnection() (*Connection, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	bucket := ch.buckets[Healthy]
	n := len(bucket)
	if n == 0 {
		return nil, false
	}

	ch.rngMu.Lock()
	start := ch.rng.Intn(n)
	ch.rngMu.Unlock()

	for i := 0; i < n; i++ {
		c := bucket[(start+i)%n]
		if c.Status() == Healthy {
			return c, true
		}
	}
	return nil, false
}

// Reconnect implements the reconnect-policy burst of §4.1: connect at least
// MinConcurrentReconnect Disconnected connections (or all of them if fewer
// exist). connectFn performs the actual dial and is invoked without the
// channel lock held.
func (ch *Channel) Reconnect(connectFn func(*Connection)) {
	ch.mu.Lock()
	bucket := append([]*Connection(nil), ch.buckets[Disconnected]...)
	ch.mu.Unlock()

	if len(bucket) == 0 {
		return
	}

	ch.rngMu.Lock()
	ch.rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
	ch.rngMu.Unlock()

	n := MinConcurrentReconnect
	if n > len(bucket) {
		n = len(bucket)
	}

	for i := 0; i < n; i++ {
		c := bucket[i]
		ch.mu.Lock()
		if c.Status() == Disconnected {
			ch.moveLocked(c, Connecting)
		}
		ch.mu.Unlock()
		connectFn(c)
	}
}

// OnConnectResult is called by the dial goroutine once a Connecting attempt
// resolves. A failure moves the connection back to Disconnected (ConnectError
// if the failure was not immediate) — the "swap-to-end trick" of excluding a
// just-failed connection from the current burst falls out naturally since
// Reconnect snapshots the bucket once per call.
func (ch *Channel) OnConnectResult(c *Connection, conn net.Conn, err error) {
	ch.recordDialResult(c.Address(), err)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err != nil {
		ch.moveLocked(c, ConnectError)
		return
	}

	c.conn = conn
	if conn != nil {
		ch.closers.Add(conn)
	}
	ch.moveLocked(c, Connected)
}

// SweepErrorBucket returns every ConnectError Connection to Disconnected to
// be retried (§4.1, every ErrorSweepInterval).
func (ch *Channel) SweepErrorBucket() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	bucket := append([]*Connection(nil), ch.buckets[ConnectError]...)
	for _, c := range bucket {
		ch.moveLocked(c, Disconnected)
	}
	ch.lastCheckError.Store(time.Now())
}

// Heartbeat iterates Healthy and Connected connections and invokes probe on
// each; probe returns true for a successful "OK" health response. A Healthy
// connection that fails demotes to Connected; a Connected connection that
// succeeds promotes to Healthy (the reverse direction of the documented
// demotion, symmetric with it) and triggers backlog redispatch.
func (ch *Channel) Heartbeat(probe func(*Connection) bool) {
	ch.mu.RLock()
	targets := append([]*Connection(nil), ch.buckets[Healthy]...)
	targets = append(targets, ch.buckets[Connected]...)
	ch.mu.RUnlock()

	for _, c := range targets {
		c.IncrBuiltin()
		ok := probe(c)
		c.DecrBuiltin()

		cur := c.Status()
		if ok && cur == Connected {
			ch.ChangeStatus(c, Healthy)
		} else if !ok && cur == Healthy {
			ch.ChangeStatus(c, Connected)
		}
	}
}

// IdleCloseEligible reports whether the channel has had no non-builtin
// traffic for KeepAliveIdleMs and has no in-flight requests (§4.1).
func (ch *Channel) IdleCloseEligible() bool {
	if ch.options.KeepAliveIdleMs <= 0 {
		return false
	}
	if ch.InFlight() != 0 {
		return false
	}
	last := ch.lastUse.Load()
	if last.IsZero() {
		return false
	}
	return time.Since(last) >= time.Duration(ch.options.KeepAliveIdleMs)*time.Millisecond
}

// TouchUse records non-builtin traffic for idle-close accounting.
func (ch *Channel) TouchUse() {
	ch.lastUse.Store(time.Now())
}

// InFlight returns the current in-flight request count.
func (ch *Channel) InFlight() int64 {
	ch.inFlMu.Lock()
	defer ch.inFlMu.Unlock()
	return ch.inFlight
}

// IncrInFlight/DecrInFlight track requests currently dispatched to a
// connection (as opposed to sitting in the backlog).
func (ch *Channel) IncrInFlight() {
	ch.inFlMu.Lock()
	ch.inFlight++
	ch.inFlMu.Unlock()
}

func (ch *Channel) DecrInFlight() {
	ch.inFlMu.Lock()
	if ch.inFlight > 0 {
		ch.inFlight--
	}
	ch.inFlMu.Unlock()
}

// Backlog returns the per-channel queue used for requests that arrived when
// no Healthy connection was available (§3, §4.2).
func (ch *Channel) Backlog() *queue.RequestQueue {
	return ch.backlog
}

// RedispatchBacklog migrates every backlog request back onto a healthy
// connection, if one is now available; requests are moved with
// queue.PopFirst/tagged TakeAway and re-added to the target connection's
// queue by the caller (the client package owns the actual frame write).
func (ch *Channel) RedispatchBacklog() []*queue.Request {
	var out []*queue.Request
	for {
		req, ok := ch.backlog.PopFirst()
		if !ok {
			break
		}
		out = append(out, req)
	}
	return out
}

// CloseAllConnections closes every connection's socket and cancels its
// per-connection queue with CONNECTION_CLOSED, used by endpoint removal and
// shutdown. The actual socket close is delegated to the channel's mapCloser
// so every live net.Conn goes through one accounting point regardless of
// which Connection it belongs to.
func (ch *Channel) CloseAllConnections() {
	ch.mu.Lock()
	var all []*Connection
	for s := Status(0); s < totalStatus; s++ {
		all = append(all, ch.buckets[s]...)
	}
	ch.mu.Unlock()

	_ = ch.closers.Close()

	for _, c := range all {
		c.conn = nil
		c.queue.CancelAll(wire.Err(wire.ConnectionClosed, ""))
	}
}

// Shutdown implements §4.1's graceful shutdown: stop new dispatch, optionally
// wait for in-flight to drain, cancel the backlog, close every connection,
// and move to EventShutdown. All subsequent calls must check Event() ==
// EventShutdown and fail with CHANNEL_SHUTDOWN.
func (ch *Channel) Shutdown(waitAllPending bool) {
	ch.logf(loglvl.InfoLevel, "channel %s: shutting down", ch.name)
	ch.event.Store(EventShuttingDown)

	if waitAllPending {
		for ch.InFlight() > 0 {
			time.Sleep(time.Millisecond)
		}
	}

	ch.backlog.CancelAll(wire.Err(wire.ChannelShutdown, ""))
	ch.CloseAllConnections()

	ch.event.Store(EventShutdown)
	ch.Stop()
}

// Event returns the channel's current driving event.
func (ch *Channel) Event() Event {
	return ch.event.Load()
}

// OnAddressesChanged implements §4.1's endpoint set change: diff the sorted
// new list against the stored one, add new Connections Disconnected, and
// tear down removed ones (their in-flight requests are cancelled with
// CONNECTION_CLOSED via CloseAllConnections's per-connection CancelAll, since
// the Connection itself is being removed).
func (ch *Channel) OnAddressesChanged(addresses []string) {
	newSet := sortedCopy(addresses)

	ch.mu.Lock()
	oldSet := ch.endpoints

	oldIdx, newIdx := 0, 0
	var added, removed []string
	for oldIdx < len(oldSet) && newIdx < len(newSet) {
		switch {
		case oldSet[oldIdx] == newSet[newIdx]:
			oldIdx++
			newIdx++
		case oldSet[oldIdx] < newSet[newIdx]:
			removed = append(removed, oldSet[oldIdx])
			oldIdx++
		default:
			added = append(added, newSet[newIdx])
			newIdx++
		}
	}
	removed = append(removed, oldSet[oldIdx:]...)
	added = append(added, newSet[newIdx:]...)

	for _, addr := range added {
		ch.addConnectionLocked(addr)
	}

	var toRemove []*Connection
	for _, addr := range removed {
		if c, ok := ch.byAddr[addr]; ok {
			toRemove = append(toRemove, c)
			delete(ch.byAddr, addr)
		}
	}
	ch.endpoints = newSet
	ch.mu.Unlock()

	for _, c := range toRemove {
		ch.mu.Lock()
		ch.moveLocked(c, Shutdown)
		ch.mu.Unlock()
		c.closeSocket()
		c.queue.CancelAll(wire.Err(wire.ConnectionClosed, ""))
	}
}

// Start launches the background reconnect timer, heartbeat ticker and
// error-bucket sweep ticker. connectFn performs the real dial for a
// Connecting connection (passed through to Reconnect); probe performs the
// real Health() builtin call (passed through to Heartbeat). Stop reverses
// this.
func (ch *Channel) Start(connectFn func(*Connection), probe func(*Connection) bool) {
	ch.heartbeatStop = make(chan struct{})
	ch.sweepStop = make(chan struct{})

	ch.reconnectTimer = time.AfterFunc(ch.options.ReconnectDelay, func() {
		ch.Reconnect(connectFn)
	})

	ch.wg.Add(2)
	go func() {
		defer ch.wg.Done()
		t := time.NewTicker(HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if ch.Event() == EventShutdown {
					return
				}
				ch.Heartbeat(probe)
			case <-ch.heartbeatStop:
				return
			}
		}
	}()

	go func() {
		defer ch.wg.Done()
		t := time.NewTicker(ErrorSweepInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if ch.Event() == EventShutdown {
					return
				}
				ch.SweepErrorBucket()
			case <-ch.sweepStop:
				return
			}
		}
	}()
}

// Stop halts the background loops started by Start. Safe to call multiple
// times only if Start was called exactly once beforehand.
func (ch *Channel) Stop() {
	if ch.reconnectTimer != nil {
		ch.reconnectTimer.Stop()
	}
	if ch.heartbeatStop != nil {
		close(ch.heartbeatStop)
	}
	if ch.sweepStop != nil {
		close(ch.sweepStop)
	}
	ch.wg.Wait()
}

// PendingErr resolves the poppy error to report on a request whose deadline
// fired, given which Connection (and thus status) it was queued on when
// the timer armed. Combined with queue.RequestQueue's own default
// (wire.RequestTimeout), this is what a Channel's Complete wrapper
// substitutes in before handing the error to the user's callback.
func PendingErr(c *Connection) liberr.Error {
	return wire.Err(ErrorCodeForStatus(c.Status()), "")
}
