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
	"time"

	libval "github.com/go-playground/validator/v10"
	"github.com/nabbar/poppy/certificates"
	libdur "github.com/nabbar/poppy/duration"
	liberr "github.com/nabbar/poppy/errors"
	"github.com/nabbar/poppy/wire"
)

// Config is the declarative, marshalable form of Options (§3): every timing
// field is duration-typed so it can be loaded from JSON/YAML/TOML instead of
// hand-converted millisecond integers. ToOptions is the only place a
// Config's durations are narrowed to the plain int64-millisecond fields the
// rest of the package works with.
type Config struct {
	Tos            int                  `mapstructure:"tos" json:"tos" yaml:"tos" toml:"tos"`
	KeepAliveIdle  libdur.Duration      `mapstructure:"keepAliveIdle" json:"keepAliveIdle" yaml:"keepAliveIdle" toml:"keepAliveIdle"`
	ConnectTimeout libdur.Duration      `mapstructure:"connectTimeout" json:"connectTimeout" yaml:"connectTimeout" toml:"connectTimeout"`
	ReconnectDelay libdur.Duration      `mapstructure:"reconnectDelay" json:"reconnectDelay" yaml:"reconnectDelay" toml:"reconnectDelay"`
	ChannelCache   bool                 `mapstructure:"channelCache" json:"channelCache" yaml:"channelCache" toml:"channelCache"`
	TLS            *certificates.Config `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`
}

// Validate checks the struct-tag constraints on Config and, when TLS is set,
// delegates to certificates.Config.Validate as well.
func (c Config) Validate() liberr.Error {
	err := wire.Unknown.Error(nil)

	if er := libval.New().Struct(c); er != nil {
		if e, ok := er.(*libval.InvalidValidationError); ok {
			err.Add(e)
		} else if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				err.Add(wire.Unknown.Errorf("config field '%s' is not validated by constraint '%s'", e.StructNamespace(), e.ActualTag()))
			}
		}
	}

	if c.TLS != nil {
		if terr := c.TLS.Validate(); terr != nil {
			err.Add(terr)
		}
	}

	if err.HasParent() {
		return err
	}
	return nil
}

// ToOptions narrows a Config's duration-typed fields into the Options the
// rest of the package uses at runtime. credGen and dialer carry over as-is,
// since Config only redeclares the fields that benefit from a duration type.
func (c Config) ToOptions(credGen wire.CredentialGenerator) Options {
	return Options{
		Tos:              c.Tos,
		KeepAliveIdleMs:  c.KeepAliveIdle.Time().Milliseconds(),
		ConnectTimeoutMs: c.ConnectTimeout.Time().Milliseconds(),
		ChannelCache:     c.ChannelCache,
		ReconnectDelay:   c.ReconnectDelay.Time(),
		CredentialGen:    credGen,
	}
}

// Dialer builds the Dialer appropriate for this Config: a plain TCP dialer
// when TLS is unset, or a TLSDialer wrapping the configured
// certificates.Config otherwise.
func (c Config) Dialer(timeout time.Duration) Dialer {
	if c.TLS == nil {
		return tcpDialer{timeout: timeout}
	}
	return NewTLSDialer(c.TLS.New(), timeout)
}
