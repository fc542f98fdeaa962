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
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	"github.com/pion/logging"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	// Per-tick read cap per connection, to preserve fairness across
	// connections on a busy loop.
	readCapPerTick = 64 * 1024
	readChunkSize  = 16 * 1024

	// Accept-storm guard on the listener.
	acceptRate  = 1024 // accepts per second
	acceptBurst = 256

	maxPollEvents = 128
)

// Server multiplexes many websocket connections over non-blocking sockets
// with a single-threaded cooperative event loop. All parsing, handler
// invocations and writes happen on the loop goroutine.
type Server struct {
	opts     *Options
	log      logging.LeveledLogger
	router   *Router
	registry *registry

	poll poller
	lfd  int
	port int

	// Loop-owned state.
	conns        map[int]*conn
	pendingWrite map[int]*conn
	shuttingDown bool
	shutdownAt   time.Time
	fatalErr     error

	acceptLimiter *rate.Limiter

	stop    int32
	wakeFd  int
	started bool
	done    chan struct{}
}

// NewServer validates the options and builds a server. The router starts
// empty; register handlers before Start.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return &Server{
		opts:          opts,
		log:           opts.loggerFactory().NewLogger("wsd"),
		router:        NewRouter(),
		registry:      newRegistry(),
		lfd:           -1,
		wakeFd:        -1,
		conns:         make(map[int]*conn),
		pendingWrite:  make(map[int]*conn),
		acceptLimiter: rate.NewLimiter(rate.Limit(acceptRate), acceptBurst),
		done:          make(chan struct{}),
	}, nil
}

// Router exposes the server's route table for registration at startup. It
// must not be mutated once Start has been called.
func (s *Server) Router() *Router { return s.router }

// Handle registers a handler factory for an exact path.
func (s *Server) Handle(path string, hf HandlerFactory) {
	s.router.Register(path, hf)
}

// HandleDefault registers the fallback handler factory.
func (s *Server) HandleDefault(hf HandlerFactory) {
	s.router.RegisterDefault(hf)
}

// HandleController registers a controller factory for an exact path.
func (s *Server) HandleController(path string, cf ControllerFactory) {
	s.router.RegisterController(path, cf)
}

// Start binds the listener and launches the event loop. It returns an
// error on bind failure; the caller decides the process exit code.
func (s *Server) Start() error {
	if s.started {
		return errors.New("server already started")
	}
	poll, err := newPoller()
	if err != nil {
		return err
	}
	s.poll = poll

	if err := s.bindListener(); err != nil {
		s.poll.close()
		return err
	}
	if err := s.poll.add(s.lfd, false); err != nil {
		s.closeListener()
		s.poll.close()
		return errors.Wrap(err, "registering listener")
	}

	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		s.closeListener()
		s.poll.close()
		return errors.Wrap(err, "eventfd")
	}
	s.wakeFd = wfd
	if err := s.poll.add(s.wakeFd, false); err != nil {
		unix.Close(s.wakeFd)
		s.closeListener()
		s.poll.close()
		return errors.Wrap(err, "registering wake fd")
	}

	s.started = true
	s.log.Infof("Listening for websocket clients on ws://%s:%d", s.opts.Host, s.port)
	go s.loop()
	return nil
}

// Port reports the bound listener port, useful when Options.Port was
// requested as an ephemeral port.
func (s *Server) Port() int { return s.port }

// Shutdown requests a graceful stop: the listener closes, every connection
// is issued a 1001 going-away close, and writes drain subject to the grace
// deadline. Safe to call from any goroutine and from signal handlers.
func (s *Server) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.stop, 0, 1) {
		return
	}
	if s.wakeFd >= 0 {
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		unix.Write(s.wakeFd, one[:])
	}
}

// WaitForShutdown blocks until the event loop has exited.
func (s *Server) WaitForShutdown() error {
	<-s.done
	return s.fatalErr
}

func (s *Server) bindListener() error {
	port := s.opts.Port
	if port == -1 {
		port = 0
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	taddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolving %q", addr)
	}
	ip4 := taddr.IP.To4()
	family := unix.AF_INET
	if ip4 == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "setsockopt")
	}
	var sa unix.Sockaddr
	if ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], taddr.IP.To16())
		sa = sa6
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "unable to bind %q", addr)
	}
	if err := unix.Listen(fd, s.opts.ListenBacklog); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "listen")
	}
	s.lfd = fd
	s.port = port
	if bound, err := unix.Getsockname(fd); err == nil {
		switch b := bound.(type) {
		case *unix.SockaddrInet4:
			s.port = b.Port
		case *unix.SockaddrInet6:
			s.port = b.Port
		}
	}
	return nil
}

func (s *Server) closeListener() {
	if s.lfd < 0 {
		return
	}
	if s.poll != nil {
		s.poll.remove(s.lfd)
	}
	unix.Close(s.lfd)
	s.lfd = -1
}

// loop is the event loop. One iteration: block in the notifier, service
// every ready source, arm write readiness for connections that queued data
// during the iteration, then sweep deadlines.
func (s *Server) loop() {
	defer close(s.done)
	defer s.poll.close()

	evs := make([]pollEvent, maxPollEvents)
	scratch := make([]byte, readChunkSize)

	for {
		if atomic.LoadInt32(&s.stop) == 1 && !s.shuttingDown {
			s.beginShutdown(time.Now())
			s.armPendingWrites()
		}
		if s.shuttingDown && (len(s.conns) == 0 || time.Now().After(s.shutdownAt)) {
			break
		}
		if s.fatalErr != nil {
			break
		}

		n, err := s.poll.wait(evs, s.nextTimeout(time.Now()))
		if err != nil {
			s.fatalErr = err
			s.log.Errorf("poller failure: %v", err)
			break
		}
		now := time.Now()
		for i := 0; i < n; i++ {
			ev := evs[i]
			switch ev.fd {
			case s.lfd:
				s.acceptPending(now)
			case s.wakeFd:
				s.drainWake()
			default:
				c := s.conns[ev.fd]
				if c == nil {
					continue
				}
				if ev.writable {
					s.flushConn(c)
				}
				if c.state != stateClosed && (ev.readable || ev.closed) {
					s.readConn(c, scratch, now)
				}
				if c.state == stateClosed {
					s.teardown(c)
				}
			}
		}
		s.armPendingWrites()
		s.sweepDeadlines(now)
	}

	s.closeListener()
	for _, c := range s.conns {
		c.state = stateClosed
		s.teardown(c)
	}
	if s.wakeFd >= 0 {
		s.poll.remove(s.wakeFd)
		unix.Close(s.wakeFd)
		s.wakeFd = -1
	}
	s.log.Infof("Server shutdown complete")
}

// nextTimeout bounds the notifier block so deadline sweeps and the stop
// flag are observed.
func (s *Server) nextTimeout(now time.Time) time.Duration {
	timeout := time.Second
	for _, c := range s.conns {
		if c.deadline.IsZero() {
			continue
		}
		if d := c.deadline.Sub(now); d < timeout {
			timeout = d
		}
	}
	if s.shuttingDown {
		if d := s.shutdownAt.Sub(now); d < timeout {
			timeout = d
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

// acceptPending accepts every pending socket, subject to the rate limiter.
// The listener is level-triggered, so sockets left behind by a throttled
// tick are picked up on the next one.
func (s *Server) acceptPending(now time.Time) {
	for {
		if !s.acceptLimiter.Allow() {
			return
		}
		nfd, sa, err := unix.Accept4(s.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				// A non-retriable accept failure is fatal.
				s.fatalErr = errors.Wrap(err, "accept")
				s.log.Errorf("listener failure: %v", err)
				return
			}
		}
		c := newConn(s, nfd, nuid.Next(), sockaddrString(sa), now)
		if err := s.poll.add(nfd, false); err != nil {
			s.log.Errorf("registering client fd: %v", err)
			unix.Close(nfd)
			continue
		}
		s.conns[nfd] = c
		s.log.Debugf("cid:%s - client connection created from %s", c.cid, c.remote)
	}
}

// readConn reads into the connection's buffer, bounded per tick, then
// drives the parser.
func (s *Server) readConn(c *conn, scratch []byte, now time.Time) {
	total, eof := 0, false
	for total < readCapPerTick {
		n, err := unix.Read(c.fd, scratch)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			c.socketFailure(err)
			return
		}
		if n == 0 {
			eof = true
			break
		}
		c.rb.Append(scratch[:n])
		total += n
	}
	if total > 0 {
		c.processData(now)
	}
	if eof && c.state != stateClosed {
		// Orderly TCP shutdown from the peer. If the closing handshake
		// completed, let any queued close echo drain; anything else is
		// an abnormal closure.
		if c.closeAfterDrain || c.state == stateClosingReceived {
			if len(c.sendq) == 0 {
				c.state = stateClosed
			}
		} else {
			c.socketFailure(nil)
		}
	}
}

// flushConn writes from the send queue front until EAGAIN or empty.
func (s *Server) flushConn(c *conn) {
	for len(c.sendq) > 0 {
		chunk := c.sendq[0]
		n, err := unix.Write(c.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			c.socketFailure(err)
			return
		}
		if n < len(chunk) {
			c.sendq[0] = chunk[n:]
			return
		}
		c.sendq = c.sendq[1:]
	}
	// Queue drained: deregister write interest.
	if c.writeArmed {
		c.writeArmed = false
		delete(s.pendingWrite, c.fd)
		s.poll.modify(c.fd, false)
	}
	c.drained()
}

// armWrite records that the connection queued data this iteration; write
// readiness is registered after all ready sources are serviced.
func (s *Server) armWrite(c *conn) {
	if s.poll == nil || c.fd < 0 {
		return
	}
	s.pendingWrite[c.fd] = c
}

func (s *Server) armPendingWrites() {
	for fd, c := range s.pendingWrite {
		if c.state == stateClosed || len(c.sendq) == 0 {
			delete(s.pendingWrite, fd)
			continue
		}
		if !c.writeArmed {
			if err := s.poll.modify(fd, true); err != nil {
				s.log.Errorf("cid:%s - arming write: %v", c.cid, err)
				c.socketFailure(err)
				s.teardown(c)
				continue
			}
			c.writeArmed = true
		}
		delete(s.pendingWrite, fd)
	}
}

func (s *Server) sweepDeadlines(now time.Time) {
	for _, c := range s.conns {
		if c.state == stateClosed {
			s.teardown(c)
			continue
		}
		if !c.deadline.IsZero() && now.After(c.deadline) {
			c.expired(now)
			if c.state == stateClosed {
				s.teardown(c)
			}
		}
	}
}

// teardown releases everything a connection holds: poller registration,
// socket, registry membership, buffers.
func (s *Server) teardown(c *conn) {
	if c.fd < 0 {
		return
	}
	delete(s.conns, c.fd)
	delete(s.pendingWrite, c.fd)
	s.poll.remove(c.fd)
	unix.Close(c.fd)
	c.fd = -1
	c.state = stateClosed
	c.sendq = nil
	if c.namespace != "" {
		s.registry.remove(c)
	}
	s.log.Debugf("cid:%s - client connection closed", c.cid)
}

// beginShutdown closes the listener and walks every connection issuing the
// going-away close; the drain phase is bounded by the grace deadline.
func (s *Server) beginShutdown(now time.Time) {
	s.shuttingDown = true
	s.shutdownAt = now.Add(s.opts.GraceDeadline)
	s.closeListener()
	s.log.Infof("Entering graceful shutdown, draining %d connections", len(s.conns))
	for _, c := range s.conns {
		c.goingAway(now)
		if c.state == stateClosed {
			s.teardown(c)
		}
	}
}

func (s *Server) drainWake() {
	var buf [8]byte
	unix.Read(s.wakeFd, buf[:])
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}
