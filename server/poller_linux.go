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
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller implements the readiness notifier over epoll(7),
// level-triggered.
type epollPoller struct {
	epfd int
	raw  []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{epfd: epfd}, nil
}

func interestMask(write bool) uint32 {
	m := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if write {
		m |= unix.EPOLLOUT
	}
	return m
}

func (p *epollPoller) add(fd int, write bool) error {
	ev := unix.EpollEvent{Events: interestMask(write), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, write bool) error {
	ev := unix.EpollEvent{Events: interestMask(write), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(evs []pollEvent, timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	if len(p.raw) < len(evs) {
		p.raw = make([]unix.EpollEvent, len(evs))
	}
	raw := p.raw[:len(evs)]
	for {
		n, err := unix.EpollWait(p.epfd, raw, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "epoll_wait")
		}
		for i := 0; i < n; i++ {
			evs[i] = pollEvent{
				fd:       int(raw[i].Fd),
				readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
				writable: raw[i].Events&unix.EPOLLOUT != 0,
				closed:   raw[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
			}
		}
		return n, nil
	}
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
