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
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nabbar/poppy/channel"
	"github.com/nabbar/poppy/controller"
	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/wire"
)

// HTTPClient is the subset of *http.Client a Call needs, kept narrow so
// tests can substitute a stub transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is used when a Call's options carry no explicit one.
var DefaultHTTPClient HTTPClient = &http.Client{}

// CallOptions carries the per-channel login/transport settings Call needs
// beyond what the shared Controller already tracks (timeout, compress
// types, sequence id).
type CallOptions struct {
	HTTP         HTTPClient
	Credential   wire.Credential
	CompressList []wire.CompressType
	Tos          int
}

// Call picks a Healthy connection off ch (§4.1's SelectConnection), POSTs
// the framed request to it (§4.3), and returns the decoded response body.
// ctrl carries the call's timeout and compress-type choices and is marked
// in-use/failed exactly as the server side does with its own Controller,
// since both sides share the same per-call discipline.
func Call(ctx context.Context, ch *channel.Channel, ctrl *controller.Controller, body []byte, opts CallOptions) ([]byte, liberr.Error) {
	if ctrl.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ctrl.Timeout())*time.Millisecond)
		defer cancel()
	}

	conn, ok := ch.SelectConnection()
	if !ok {
		err := wire.Err(wire.Unknown, fmt.Sprintf("no healthy connection for channel %q", ch.Name()))
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = DefaultHTTPClient
	}

	reqBody, cerr := wire.Compress(ctrl.RequestCompressType(), body)
	if cerr != nil {
		err := wire.Err(wire.CompressType, cerr.Error())
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	var frame bytes.Buffer
	if werr := wire.WriteFrame(&frame, &wire.RpcMeta{
		Type:         wire.TypeRequest,
		SequenceId:   ctrl.SequenceID(),
		Method:       ctrl.Method(),
		CompressType: ctrl.RequestCompressType(),
	}, reqBody); werr != nil {
		err := wire.Err(wire.Unknown, werr.Error())
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	url := "http://" + conn.Address() + wire.RPCPath
	req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, &frame)
	if rerr != nil {
		err := wire.Err(wire.Unknown, rerr.Error())
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	login := wire.LoginRequest{
		Credential:   opts.Credential,
		CompressList: opts.CompressList,
		Tos:          opts.Tos,
	}
	login.ApplyHeaders(req.Header)

	ctrl.MarkInUse()
	ch.IncrInFlight()
	ch.TouchUse()
	resp, derr := httpClient.Do(req)
	ch.DecrInFlight()
	ctrl.ClearInUse()
	if derr != nil {
		err := channel.PendingErr(conn)
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := wire.Err(wire.Unknown, fmt.Sprintf("unexpected HTTP status %d from %s", resp.StatusCode, conn.Address()))
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	out, ferr := wire.ReadFrame(resp.Body, true)
	if ferr != nil {
		err := wire.Err(wire.ParseResponseMessage, ferr.Error())
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	if out.Meta.Failed {
		err := wire.Err(liberr.CodeError(out.Meta.ErrorCode), out.Meta.Reason)
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	respBody, xerr := wire.Decompress(out.Meta.CompressType, out.Body)
	if xerr != nil {
		err := wire.Err(wire.ParseResponseMessage, xerr.Error())
		ctrl.SetFailed(err.GetCode(), err.Error())
		return nil, err
	}

	return respBody, nil
}
