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

package client

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	libcch "github.com/nabbar/poppy/cache"
	"github.com/nabbar/poppy/channel"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
)

// DefaultIdleCacheExpiry is how long a fully-dereferenced Channel sits in
// the idle cache before eviction, absent an explicit Options override.
const DefaultIdleCacheExpiry = 10 * time.Minute

// ChannelFactory builds a new Channel for name the first time it's looked
// up. Kept as an injectable hook so tests never need real sockets.
type ChannelFactory func(name string, hash uint64, endpoints []string, opts channel.Options) *channel.Channel

// Client is the process-wide Channel registry (§3: "one Channel per
// logical service name per process").
type Client struct {
	mu      sync.Mutex
	active  map[string]*entry
	idle    libcch.Cache[string, *channel.Channel]
	factory ChannelFactory
	log     liblog.FuncLog
}

// SetLog wires a structured logger into the client, propagated onto every
// Channel it constructs from then on (existing Channels are updated too).
// Safe to call at any time; nil (the default) disables logging.
func (c *Client) SetLog(log liblog.FuncLog) {
	c.mu.Lock()
	c.log = log
	for _, e := range c.active {
		e.ch.SetLog(log)
	}
	c.mu.Unlock()
}

func (c *Client) logf(lvl loglvl.Level, message string, args ...interface{}) {
	if c.log == nil {
		return
	}
	l := c.log()
	if l == nil {
		return
	}
	l.Entry(lvl, message, args...).Log()
}

type entry struct {
	ch       *channel.Channel
	refCount int
}

// New builds a Client with its idle-channel cache set to expire entries
// after idleExpiry (DefaultIdleCacheExpiry if zero).
func New(ctx context.Context, idleExpiry time.Duration, factory ChannelFactory) *Client {
	if idleExpiry <= 0 {
		idleExpiry = DefaultIdleCacheExpiry
	}
	if factory == nil {
		factory = func(name string, hash uint64, endpoints []string, opts channel.Options) *channel.Channel {
			return channel.New(name, hash, endpoints, nil, opts)
		}
	}
	return &Client{
		active:  make(map[string]*entry),
		idle:    libcch.New[string, *channel.Channel](ctx, idleExpiry),
		factory: factory,
	}
}

// HashName computes the stable 64-bit hash of a channel name (§3).
func HashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// Acquire returns the Channel for name, constructing it on first lookup
// (from the idle cache if a prior reference was dropped, or via the
// factory otherwise), and increments its reference count. Callers must
// call Release when the stub referencing it is discarded.
func (c *Client) Acquire(name string, endpoints []string, opts channel.Options) *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.active[name]; ok {
		e.refCount++
		return e.ch
	}

	if ch, _, ok := c.idle.Load(name); ok {
		c.idle.Delete(name)
		c.active[name] = &entry{ch: ch, refCount: 1}
		return ch
	}

	ch := c.factory(name, HashName(name), endpoints, opts)
	ch.SetLog(c.log)
	c.logf(loglvl.InfoLevel, "client: constructed channel %q", name)
	c.active[name] = &entry{ch: ch, refCount: 1}
	return ch
}

// Release drops one reference on the Channel registered under name. Once
// the reference count reaches zero the Channel moves to the bounded,
// time-expiring idle cache rather than being torn down immediately (§3:
// "when user references drop to zero it moves to a bounded LRU cache").
func (c *Client) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[name]
	if !ok {
		return
	}

	e.refCount--
	if e.refCount > 0 {
		return
	}

	delete(c.active, name)
	c.idle.Store(name, e.ch)
}

// Lookup returns the Channel currently registered for name, whether active
// or idle, without affecting reference counts. Used for diagnostics.
func (c *Client) Lookup(name string) (*channel.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.active[name]; ok {
		return e.ch, true
	}
	if ch, _, ok := c.idle.Load(name); ok {
		return ch, true
	}
	return nil, false
}

// Shutdown shuts down every active and idle Channel and stops accepting new
// lookups' effects from propagating (callers must stop calling Acquire
// afterward; Shutdown does not itself block further Acquire calls).
func (c *Client) Shutdown(waitAllPending bool) {
	c.mu.Lock()
	var chans []*channel.Channel
	for _, e := range c.active {
		chans = append(chans, e.ch)
	}
	c.active = make(map[string]*entry)
	c.idle.Walk(func(_ string, ch *channel.Channel, _ time.Duration) bool {
		chans = append(chans, ch)
		return true
	})
	_ = c.idle.Close()
	c.mu.Unlock()

	for _, ch := range chans {
		ch.Shutdown(waitAllPending)
	}
}
