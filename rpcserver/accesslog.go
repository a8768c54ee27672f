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
	"context"
	"fmt"
	"io"

	libagg "github.com/nabbar/poppy/ioutils/aggregator"
)

// SetAccessLog starts an access-log writer fed from every request-handling
// goroutine: net/http runs ServeHTTP concurrently for every open connection,
// so a one-line-per-call writer needs to serialize those concurrent Write
// calls itself or interleave its output. The aggregator's single run-loop
// goroutine gives each line a single, uninterrupted Write into out.
//
// Passing a nil out stops and clears any previously configured access log.
func (s *Server) SetAccessLog(ctx context.Context, out io.Writer) error {
	s.accMu.Lock()
	defer s.accMu.Unlock()

	if s.accessLog != nil {
		_ = s.accessLog.Close()
		s.accessLog = nil
	}

	if out == nil {
		return nil
	}

	agg, err := libagg.New(ctx, libagg.Config{
		BufWriter: 256,
		FctWriter: out.Write,
	})
	if err != nil {
		return err
	}
	if err = agg.Start(ctx); err != nil {
		return err
	}

	s.accessLog = agg
	return nil
}

// logAccess writes one access-log line if an access log is configured.
// Safe to call from any request-handling goroutine.
func (s *Server) logAccess(remoteAddr, method string, seqID int64, failed bool, reason string) {
	s.accMu.Lock()
	agg := s.accessLog
	s.accMu.Unlock()

	if agg == nil {
		return
	}

	status := "ok"
	if failed {
		status = "fail: " + reason
	}
	_, _ = fmt.Fprintf(agg, "%s %s seq=%d %s\n", remoteAddr, method, seqID, status)
}

// CloseAccessLog stops the access-log aggregator, flushing any buffered
// lines before returning. Safe to call even if no access log was set.
func (s *Server) CloseAccessLog() error {
	s.accMu.Lock()
	defer s.accMu.Unlock()

	if s.accessLog == nil {
		return nil
	}
	err := s.accessLog.Close()
	s.accessLog = nil
	return err
}
