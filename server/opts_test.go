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
	"testing"

	"github.com/nats-io/nkeys"
	"github.com/pion/logging"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	opts := &Options{}
	require.NoError(t, opts.Validate())
	require.Equal(t, "127.0.0.1", opts.Host)
	require.Equal(t, DefaultPort, opts.Port)
	require.Equal(t, DefaultListenBacklog, opts.ListenBacklog)
	require.Equal(t, DefaultGraceDeadline, opts.GraceDeadline)
}

func TestOptionsInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		opts Options
	}{
		{"negative port", Options{Port: -2}},
		{"huge port", Options{Port: 70000}},
		{"negative backlog", Options{ListenBacklog: -1}},
		{"negative message size", Options{MaxMessageSize: -1}},
		{"bad origin", Options{OriginPolicy: "not-an-origin"}},
		{"bad log level", Options{LogLevel: "verbose"}},
		{"jwt cookie without trusted keys", Options{JWTCookie: "jwt"}},
		{"jwt cookie with bogus key", Options{JWTCookie: "jwt", TrustedKeys: []string{"not-a-key"}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			opts := test.opts
			require.Error(t, opts.Validate())
		})
	}
}

func TestOptionsTrustedKeys(t *testing.T) {
	akp, err := nkeys.CreateAccount()
	require.NoError(t, err)
	apub, err := akp.PublicKey()
	require.NoError(t, err)

	opts := &Options{JWTCookie: "jwt", TrustedKeys: []string{apub}}
	require.NoError(t, opts.Validate())

	// A user key is not a valid issuer.
	ukp, err := nkeys.CreateUser()
	require.NoError(t, err)
	upub, err := ukp.PublicKey()
	require.NoError(t, err)
	opts = &Options{JWTCookie: "jwt", TrustedKeys: []string{upub}}
	require.Error(t, opts.Validate())
}

func TestOptionsOriginPolicies(t *testing.T) {
	for _, policy := range []string{"", OriginSame, "http://a.example.com", "https://a.example.com:8443"} {
		opts := &Options{OriginPolicy: policy}
		require.NoError(t, opts.Validate(), "policy %q", policy)
	}
}

func TestOptionsLoggerFactory(t *testing.T) {
	opts := &Options{LogLevel: "error"}
	require.NoError(t, opts.Validate())
	f, ok := opts.loggerFactory().(*logging.DefaultLoggerFactory)
	require.True(t, ok)
	require.Equal(t, logging.LogLevelError, f.DefaultLogLevel)

	// Debug wins over the configured level.
	opts = &Options{LogLevel: "error", Debug: true}
	require.NoError(t, opts.Validate())
	f = opts.loggerFactory().(*logging.DefaultLoggerFactory)
	require.Equal(t, logging.LogLevelDebug, f.DefaultLogLevel)

	// An explicit factory is used as-is.
	custom := logging.NewDefaultLoggerFactory()
	opts = &Options{LoggerFactory: custom}
	require.NoError(t, opts.Validate())
	require.True(t, opts.loggerFactory() == logging.LoggerFactory(custom))
}
