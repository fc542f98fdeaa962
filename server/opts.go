// Copyright 2017-2026 The Shadow-Share Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"os"
	"strings"
	"time"

	"github.com/nats-io/nkeys"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

const (
	// DefaultPort is used when Options.Port is zero.
	DefaultPort = 8999
	// DefaultListenBacklog is the TCP listen depth.
	DefaultListenBacklog = 16
	// DefaultGraceDeadline bounds the drain phase of a graceful shutdown.
	DefaultGraceDeadline = 5 * time.Second

	// OriginSame configures the origin policy to require the Origin header
	// to match the request authority.
	OriginSame = "same-origin"
)

// Options configures a Server. The value is validated once before the
// server starts and is immutable afterwards; components receive it by
// reference instead of reading ambient state.
type Options struct {
	// Listener bind address. Port -1 requests an ephemeral port.
	Host string
	Port int

	// Expected Host authority. Empty disables the comparison; the Host
	// header itself is always required.
	ServerName string

	// Allowed Origin value: an exact "scheme://host[:port]" origin, the
	// OriginSame sentinel, or empty to disable the check.
	OriginPolicy string

	// Caps the assembled message payload; overflow closes with 1009.
	// Zero means unlimited.
	MaxMessageSize int64

	// Max time a connection may stay in the handshake state.
	HandshakeTimeout time.Duration

	// Max time with no frames received on an open connection.
	IdleTimeout time.Duration

	// TCP listen depth. Zero means DefaultListenBacklog.
	ListenBacklog int

	// Accept non-minimal extended-length frame encodings instead of
	// rejecting them with a protocol error.
	LenientLengths bool

	// Name of the cookie carrying a user JWT. Empty disables cookie
	// authentication.
	JWTCookie string

	// Public account keys trusted to issue user JWTs. Required when
	// JWTCookie is set.
	TrustedKeys []string

	// Bound on the shutdown drain phase. Zero means DefaultGraceDeadline.
	GraceDeadline time.Duration

	// Observability only; one of debug, info, warn, error.
	LogLevel string

	// Debug forces stderr logging at debug level.
	Debug bool

	// LoggerFactory overrides the default pion/logging factory built from
	// LogLevel and Debug.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the options and fills in defaults. It is called by
// NewServer; a configuration it rejects never reaches the event loop.
func (o *Options) Validate() error {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Port < -1 || o.Port > 65535 {
		return errors.Errorf("invalid port %d", o.Port)
	}
	if o.ListenBacklog == 0 {
		o.ListenBacklog = DefaultListenBacklog
	}
	if o.ListenBacklog < 0 {
		return errors.Errorf("invalid listen backlog %d", o.ListenBacklog)
	}
	if o.MaxMessageSize < 0 {
		return errors.Errorf("invalid max message size %d", o.MaxMessageSize)
	}
	if o.GraceDeadline == 0 {
		o.GraceDeadline = DefaultGraceDeadline
	}
	if o.OriginPolicy != "" && o.OriginPolicy != OriginSame {
		if _, _, err := splitOrigin(o.OriginPolicy); err != nil {
			return errors.Wrap(err, "unable to parse allowed origin")
		}
	}
	if o.JWTCookie != "" {
		if len(o.TrustedKeys) == 0 {
			return errors.Errorf("trusted keys configuration is required for JWT authentication via cookie %q", o.JWTCookie)
		}
		for _, k := range o.TrustedKeys {
			if !nkeys.IsValidPublicAccountKey(k) && !nkeys.IsValidPublicOperatorKey(k) {
				return errors.Errorf("trusted key %q is not a valid public account or operator key", k)
			}
		}
	}
	switch strings.ToLower(o.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("invalid log level %q", o.LogLevel)
	}
	return nil
}

// loggerFactory returns the configured factory, or builds the default one
// from LogLevel and Debug.
func (o *Options) loggerFactory() logging.LoggerFactory {
	if o.LoggerFactory != nil {
		return o.LoggerFactory
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logLevelFromString(o.LogLevel)
	if o.Debug {
		f.DefaultLogLevel = logging.LogLevelDebug
		f.Writer = os.Stderr
	}
	return f
}

func logLevelFromString(s string) logging.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LogLevelDebug
	case "warn", "warning":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
