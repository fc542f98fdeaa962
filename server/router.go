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
	"strings"

	"github.com/pkg/errors"
)

var errNoRoute = errors.New("no handler registered for path and no default")

// Router maps a request URL path to the factories that build a connection's
// handler and controller. Exact string match on the normalized path, with a
// single default entry per map used when no path matches. Populated at
// startup, read-only at steady state.
type Router struct {
	handlers          map[string]HandlerFactory
	controllers       map[string]ControllerFactory
	defaultHandler    HandlerFactory
	defaultController ControllerFactory
}

func NewRouter() *Router {
	return &Router{
		handlers:    make(map[string]HandlerFactory),
		controllers: make(map[string]ControllerFactory),
	}
}

// Register binds a handler factory to an exact path.
func (r *Router) Register(path string, hf HandlerFactory) {
	r.handlers[normalizePath(path)] = hf
}

// RegisterController binds a controller factory to an exact path.
func (r *Router) RegisterController(path string, cf ControllerFactory) {
	r.controllers[normalizePath(path)] = cf
}

// RegisterDefault sets the handler factory used when no path matches.
func (r *Router) RegisterDefault(hf HandlerFactory) {
	r.defaultHandler = hf
}

// RegisterDefaultController sets the controller factory used when no path
// matches.
func (r *Router) RegisterDefaultController(cf ControllerFactory) {
	r.defaultController = cf
}

// Resolve returns the factories for path, falling back to the defaults.
// A path with neither a specific handler nor a default is a configuration
// error. An absent controller resolves to the pass-through controller.
func (r *Router) Resolve(path string) (HandlerFactory, ControllerFactory, error) {
	path = normalizePath(path)
	hf, ok := r.handlers[path]
	if !ok {
		hf = r.defaultHandler
	}
	if hf == nil {
		return nil, nil, errors.Wrapf(errNoRoute, "resolve %q", path)
	}
	cf, ok := r.controllers[path]
	if !ok {
		cf = r.defaultController
	}
	if cf == nil {
		cf = func() Controller { return PlainController() }
	}
	return hf, cf, nil
}

// normalizePath ensures the leading slash and collapses consecutive
// slashes. Matching is byte-wise and case-sensitive beyond that.
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
