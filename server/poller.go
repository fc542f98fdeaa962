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

import "time"

// pollEvent is one readiness notification.
type pollEvent struct {
	fd       int
	readable bool
	writable bool
	// Peer hung up or the descriptor errored; the next read settles it.
	closed bool
}

// poller is the readiness notifier the event loop blocks in. Descriptors
// are registered with an interest set: read-only, or read and write while
// the connection's send queue is non-empty. Level-triggered semantics.
type poller interface {
	// add registers fd with read interest, plus write when write is set.
	add(fd int, write bool) error
	// modify replaces fd's interest set.
	modify(fd int, write bool) error
	// remove deregisters fd.
	remove(fd int) error
	// wait blocks until readiness or timeout and fills evs, returning the
	// number of events. A negative timeout blocks indefinitely.
	wait(evs []pollEvent, timeout time.Duration) (int, error)
	// close releases the notifier.
	close() error
}
