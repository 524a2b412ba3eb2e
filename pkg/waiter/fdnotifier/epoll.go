// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package fdnotifier

import (
	"fmt"

	"golang.org/x/sys/unix"

	"hostsim.dev/hostsim/pkg/waiter"
)

// HostEpoll is a real epoll instance in the host kernel. It is only ever
// polled with a zero timeout so the simulation clock never stalls on it.
type HostEpoll struct {
	fd int
}

// NewHostEpoll creates a host epoll instance.
func NewHostEpoll() (*HostEpoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &HostEpoll{fd: fd}, nil
}

// FD returns the host descriptor of the epoll instance.
func (h *HostEpoll) FD() int {
	return h.fd
}

// Ctl applies op to the host descriptor fd. Flags carries the raw epoll
// event bits, control flags such as EPOLLONESHOT included. The descriptor is
// echoed back in the Fd field of returned events. Errors are the host's
// unix.Errno, unwrapped, so callers can map them to guest errnos.
func (h *HostEpoll) Ctl(op int, fd int32, flags uint32) error {
	ev := unix.EpollEvent{Events: flags, Fd: fd}
	for {
		err := unix.EpollCtl(h.fd, op, int(fd), &ev)
		if err != unix.EINTR {
			return err
		}
	}
}

// Event is a host readiness report for a single descriptor.
type Event struct {
	FD     int32
	Events uint32
}

// Mask returns the readiness bits of e as a waiter mask.
func (e Event) Mask() waiter.EventMask {
	return waiter.EventMaskFromLinux(e.Events)
}

// Poll collects up to max ready events without blocking.
func (h *HostEpoll) Poll(max int) ([]Event, error) {
	if max <= 0 {
		return nil, nil
	}
	events := make([]unix.EpollEvent, max)
	var (
		n   int
		err error
	)
	for {
		n, err = unix.EpollWait(h.fd, events, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]Event, n)
	for i := range out {
		out[i] = Event{FD: events[i].Fd, Events: events[i].Events}
	}
	return out, nil
}

// Close releases the host epoll instance.
func (h *HostEpoll) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}
