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

// Command echo-client ports the three original poppy examples into one
// program: echo_sync's blocking call, echo_async's callback-style call, and
// echo_timeout's deliberately-too-slow call used to exercise a client-side
// timeout end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/nabbar/poppy/certificates"
	"github.com/nabbar/poppy/channel"
	"github.com/nabbar/poppy/client"
	"github.com/nabbar/poppy/controller"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/wire"
)

// anonymousTicket stands in for a real credential-service ticket: the demo
// server runs with no Authenticator configured, so any non-empty ticket
// clears the login handshake (§4.3).
const anonymousTicket = "echo-client-demo"

func callOpts() client.CallOptions {
	return client.CallOptions{Credential: wire.Credential{Ticket: anonymousTicket}}
}

type echoRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

type echoResponse struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// tcpDialer performs the real connection establishment the Channel's
// reconnect loop drives; the actual RPC body still travels over HTTP
// (client.Call), so this dial only has to stand up a live socket for the
// Connection's health-machine bookkeeping to track.
type tcpDialer struct {
	timeout time.Duration
}

func (d tcpDialer) Dial(address string) (net.Conn, error) {
	return net.DialTimeout("tcp", address, d.timeout)
}

// loadClientTLS builds a certificates.TLSConfig trusting caFile as the only
// root CA, for the channel's health-check dial against a TLS-enabled
// echo-server.
func loadClientTLS(caFile string) (certificates.TLSConfig, error) {
	cfg := &certificates.Config{}
	tlsCfg := cfg.New()
	if err := tlsCfg.AddRootCAFile(caFile); err != nil {
		return nil, fmt.Errorf("load tls root ca: %w", err)
	}
	return tlsCfg, nil
}

func main() {
	addr := flag.String("server_address", "127.0.0.1:10000", "address of the echo server")
	tlsCA := flag.String("tls_ca", "", "path to a PEM root CA; enables TLS for the call transport and health dial")
	flag.Parse()

	base := liblog.New(context.Background())
	log := base
	entry := func(lvl loglvl.Level, msg string, args ...interface{}) { log.Entry(lvl, msg, args...).Log() }

	ctx := context.Background()
	cl := client.New(ctx, 0, nil)
	cl.SetLog(liblog.FuncLog(func() liblog.Logger { return base }))
	ch := cl.Acquire("Echo", []string{*addr}, channel.Options{ReconnectDelay: 50 * time.Millisecond})

	var dialer channel.Dialer = tcpDialer{timeout: time.Second}
	if *tlsCA != "" {
		tlsCfg, err := loadClientTLS(*tlsCA)
		if err != nil {
			entry(loglvl.FatalLevel, "tls configuration failed: %s", err.Error())
			os.Exit(1)
		}
		dialer = channel.NewTLSDialer(tlsCfg, time.Second)
	}

	connectFn := func(c *channel.Connection) {
		conn, err := dialer.Dial(c.Address())
		ch.OnConnectResult(c, conn, err)
	}
	probe := func(c *channel.Connection) bool {
		ctrl := controller.New("poppy.BuiltinService.Health", ch.NextSequenceID(), true)
		ctrl.SetTimeout(500)
		body, err := client.Call(ctx, ch, ctrl, nil, callOpts())
		return err == nil && string(body) == "OK"
	}
	ch.Start(connectFn, probe)

	waitHealthy(ch, 5*time.Second)

	entry(loglvl.InfoLevel, "=== synchronous call ===")
	runSync(ctx, ch, entry)

	entry(loglvl.InfoLevel, "=== asynchronous call ===")
	runAsync(ctx, ch, entry)

	entry(loglvl.InfoLevel, "=== timeout scenario ===")
	runTimeout(ctx, ch, entry)

	cl.Shutdown(true)
}

func waitHealthy(ch *channel.Channel, max time.Duration) {
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		if ch.DerivedStatus() == channel.StatusHealthy {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func runSync(ctx context.Context, ch *channel.Channel, entry func(loglvl.Level, string, ...interface{})) {
	req, _ := json.Marshal(echoRequest{User: "alice", Message: "hello from echo_sync"})

	ctrl := controller.New("Echo.Echo", ch.NextSequenceID(), false)
	ctrl.SetTimeout(1000)
	ctrl.SetSync(true)

	body, err := client.Call(ctx, ch, ctrl, req, callOpts())
	if err != nil {
		entry(loglvl.ErrorLevel, "sync call failed: %s", err.Error())
		return
	}

	var resp echoResponse
	_ = json.Unmarshal(body, &resp)
	entry(loglvl.InfoLevel, "sync reply: %s", resp.Message)
}

func runAsync(ctx context.Context, ch *channel.Channel, entry func(loglvl.Level, string, ...interface{})) {
	req, _ := json.Marshal(echoRequest{User: "bob", Message: "hello from echo_async"})

	ctrl := controller.New("Echo.Echo", ch.NextSequenceID(), false)
	ctrl.SetTimeout(1000)
	ctrl.SetSync(false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		body, err := client.Call(ctx, ch, ctrl, req, callOpts())
		if err != nil {
			entry(loglvl.ErrorLevel, "async call failed: %s", err.Error())
			return
		}
		var resp echoResponse
		_ = json.Unmarshal(body, &resp)
		entry(loglvl.InfoLevel, "async reply: %s", resp.Message)
	}()
	wg.Wait()
}

func runTimeout(ctx context.Context, ch *channel.Channel, entry func(loglvl.Level, string, ...interface{})) {
	req, _ := json.Marshal(echoRequest{User: "carol", Message: "hello from echo_timeout"})

	ctrl := controller.New("Echo.SlowEcho", ch.NextSequenceID(), false)
	ctrl.SetTimeout(300)

	_, err := client.Call(ctx, ch, ctrl, req, callOpts())
	if err == nil {
		entry(loglvl.ErrorLevel, "expected a timeout but the slow call returned normally")
		os.Exit(1)
	}
	entry(loglvl.InfoLevel, "slow call failed as expected: %s", err.Error())
	fmt.Println("done")
}
