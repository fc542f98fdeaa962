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

// registry indexes open connections by namespace, the URL path selected at
// handshake. It is owned by the event loop: insertion happens on the OPEN
// transition, removal on CLOSED, and broadcast enqueues are plain data
// pushes flushed on the next write-readiness tick. No locking; the loop is
// the only mutator.
type registry struct {
	namespaces map[string]map[string]*conn
}

func newRegistry() *registry {
	return &registry{namespaces: make(map[string]map[string]*conn)}
}

func (r *registry) add(c *conn) {
	set := r.namespaces[c.namespace]
	if set == nil {
		set = make(map[string]*conn)
		r.namespaces[c.namespace] = set
	}
	set[c.cid] = c
}

func (r *registry) remove(c *conn) {
	set := r.namespaces[c.namespace]
	if set == nil {
		return
	}
	delete(set, c.cid)
	if len(set) == 0 {
		delete(r.namespaces, c.namespace)
	}
}

// count reports the number of open connections in a namespace.
func (r *registry) count(namespace string) int {
	return len(r.namespaces[namespace])
}

// broadcast frames the message once and appends it to the send queue of
// every open connection in the namespace except the excluded identity.
// Returns the number of recipients. Per-recipient ordering follows the
// order of broadcast calls.
func (r *registry) broadcast(namespace string, kind MessageKind, payload []byte, exclude string) int {
	set := r.namespaces[namespace]
	if len(set) == 0 {
		return 0
	}
	buf := encodeDataFrame(opCode(kind), payload)
	n := 0
	for cid, c := range set {
		if cid == exclude || c.state != stateOpen {
			continue
		}
		c.enqueue(buf)
		n++
	}
	return n
}
