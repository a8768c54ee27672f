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

// Command echo-server is the port of the original poppy echo_sync/echo_async/
// echo_timeout example servers: one Echo service with a fast Echo method and
// a deliberately slow SlowEcho method used to exercise the client-side
// timeout scenario end to end.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nabbar/poppy/builtin"
	"github.com/nabbar/poppy/certificates"
	"github.com/nabbar/poppy/controller"
	"github.com/nabbar/poppy/file/perm"
	liblog "github.com/nabbar/poppy/logger"
	loglvl "github.com/nabbar/poppy/logger/level"
	"github.com/nabbar/poppy/rpcserver"
	"github.com/nabbar/poppy/stream"
)

// permKeyFileMax is the loosest permission bits a TLS private key file may
// carry; anything wider is refused rather than silently loaded, since a
// world- or group-readable key defeats the point of running TLS at all.
const permKeyFileMax = 0600

// slowEchoDelay mirrors the original echo_timeout server's ThisThread::Sleep(2000).
const slowEchoDelay = 2 * time.Second

type echoRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

type echoResponse struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

func main() {
	addr := flag.String("server_address", "127.0.0.1:10000", "address the server listens on")
	tlsCert := flag.String("tls_cert", "", "path to a PEM certificate; enables TLS together with -tls_key")
	tlsKey := flag.String("tls_key", "", "path to the PEM private key matching -tls_cert")
	flag.Parse()

	var requestCount int64

	base := liblog.New(context.Background())
	log := liblog.FuncLog(func() liblog.Logger { return base })

	echoHandler := func(ctrl *controller.Controller, body []byte) ([]byte, error) {
		atomic.AddInt64(&requestCount, 1)

		var req echoRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}

		resp := echoResponse{
			User:    req.User,
			Message: "echo from server: " + *addr + ", message: " + req.Message,
		}
		return json.Marshal(resp)
	}

	slowEchoHandler := func(ctrl *controller.Controller, body []byte) ([]byte, error) {
		atomic.AddInt64(&requestCount, 1)
		time.Sleep(slowEchoDelay)
		return echoHandler(ctrl, body)
	}

	registry := rpcserver.NewRegistry()
	registry.Register(&rpcserver.ServiceDesc{
		Name: "Echo",
		Methods: map[string]*rpcserver.MethodDesc{
			"Echo":     {Name: "Echo", Timeout: 1000, Handler: echoHandler},
			"SlowEcho": {Name: "SlowEcho", Timeout: 1000, Handler: slowEchoHandler},
		},
	})

	builtinSvc := builtin.NewService(stream.Options{Timeout: 30 * time.Second, RetryCount: 3})
	builtinSvc.SetLog(log)
	registry.Register(builtinSvc.Descriptor())

	srv := rpcserver.NewServer(registry, nil, log)
	if err := srv.SetAccessLog(context.Background(), os.Stdout); err != nil {
		log().Entry(loglvl.FatalLevel, "access log setup failed: %s", err.Error()).Log()
		os.Exit(1)
	}
	defer srv.CloseAccessLog()

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: srv,
		// ConnState evicts a closed connection's cached login identity
		// (rpcserver.Server authenticates once per connection, not once per
		// request) so a later connection reusing the same address/port pair
		// re-authenticates instead of inheriting a stale identity.
		ConnState: func(c net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				srv.Forget(c.RemoteAddr().String())
			}
		},
	}

	if *tlsCert != "" || *tlsKey != "" {
		tlsCfg, err := loadServerTLS(*tlsCert, *tlsKey)
		if err != nil {
			log().Entry(loglvl.FatalLevel, "tls configuration failed: %s", err.Error()).Log()
			os.Exit(1)
		}
		httpSrv.TLSConfig = tlsCfg
	}

	go func() {
		l := log()
		l.Entry(loglvl.InfoLevel, "echo-server listening on %s", *addr).Log()

		var err error
		if httpSrv.TLSConfig != nil {
			err = httpSrv.ListenAndServeTLS("", "")
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			l.Entry(loglvl.FatalLevel, "listen failed: %s", err.Error()).Log()
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	log().Entry(loglvl.InfoLevel, "served %d requests total", atomic.LoadInt64(&requestCount)).Log()
}

// loadServerTLS builds a *tls.Config from a cert/key file pair, refusing a
// key file whose permissions are wider than permKeyFileMax before handing it
// to certificates.Config.AddCertificatePairFile.
func loadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("both -tls_cert and -tls_key must be set")
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		return nil, fmt.Errorf("stat tls key file: %w", err)
	}

	keyPerm := perm.ParseFileMode(info.Mode().Perm())
	maxPerm := perm.ParseFileMode(os.FileMode(permKeyFileMax))
	if keyPerm.Int64()&^maxPerm.Int64() != 0 {
		return nil, fmt.Errorf("tls key file %s has permissions %s, wider than the required %s", keyFile, keyPerm.String(), maxPerm.String())
	}

	cfg := &certificates.Config{}
	tlsCfg := cfg.New()
	if err := tlsCfg.AddCertificatePairFile(keyFile, certFile); err != nil {
		return nil, fmt.Errorf("load tls certificate pair: %w", err)
	}

	return tlsCfg.TLS(""), nil
}
