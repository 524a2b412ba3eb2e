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

package linux

import (
	"time"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/marshal"
	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/syscalls"
	"hostsim.dev/hostsim/pkg/waiter"
)

// EpollCreate1 implements Linux syscall epoll_create1(2).
func EpollCreate1(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	flags := args[0].Int()
	if flags&^linux.EPOLL_CLOEXEC != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	closeOnExec := flags&linux.EPOLL_CLOEXEC != 0
	fd, err := syscalls.CreateEpoll(t, closeOnExec)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// EpollCreate implements Linux syscall epoll_create(2).
func EpollCreate(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	size := args[0].Int()

	// "Since Linux 2.6.8, the size argument is ignored, but must be greater
	// than zero" - epoll_create(2)
	if size <= 0 {
		return 0, nil, linuxerr.EINVAL
	}

	fd, err := syscalls.CreateEpoll(t, false)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// EpollCtl implements Linux syscall epoll_ctl(2).
func EpollCtl(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	epfd := args[0].Int()
	op := args[1].Int()
	fd := args[2].Int()
	eventAddr := args[3].Pointer()

	if eventAddr == 0 {
		return 0, nil, linuxerr.EFAULT
	}
	if epfd == fd {
		return 0, nil, linuxerr.EINVAL
	}
	ep, err := syscalls.GetEpoll(t, epfd)
	if err != nil {
		return 0, nil, err
	}

	// The event is read for every op. EPOLL_CTL_DEL ignores it.
	var event linux.EpollEvent
	if _, err := t.CopyIn(eventAddr, &event); err != nil {
		return 0, nil, err
	}

	switch op {
	case linux.EPOLL_CTL_ADD:
		return 0, nil, syscalls.AddEpoll(t, ep, fd, event)
	case linux.EPOLL_CTL_DEL:
		return 0, nil, syscalls.RemoveEpoll(t, ep, fd)
	case linux.EPOLL_CTL_MOD:
		return 0, nil, syscalls.UpdateEpoll(t, ep, fd, event)
	default:
		return 0, nil, linuxerr.EINVAL
	}
}

// EpollWait implements Linux syscall epoll_wait(2).
func EpollWait(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	epfd := args[0].Int()
	eventsAddr := args[1].Pointer()
	maxEvents := int(args[2].Int())
	timeout := int(args[3].Int())

	if maxEvents <= 0 || maxEvents > linux.EP_MAX_EVENTS {
		return 0, nil, linuxerr.EINVAL
	}
	if eventsAddr == 0 {
		return 0, nil, linuxerr.EFAULT
	}
	ep, err := syscalls.GetEpoll(t, epfd)
	if err != nil {
		return 0, nil, err
	}

	if ready := ep.NumReady(); ready != 0 {
		// Nothing is extracted unless the whole array can be written.
		n := min(maxEvents, ready)
		if err := t.MemoryManager().CheckRange(eventsAddr, n*linux.SizeOfEpollEvent); err != nil {
			return 0, nil, err
		}
		events := syscalls.ReadEpoll(ep, n)
		if _, err := marshal.CopySliceOut(t, eventsAddr, events); err != nil {
			return 0, nil, err
		}
		return uintptr(len(events)), nil, nil
	}

	// A resumed call returns whatever is ready now, which may be nothing if
	// the timeout expired or the instance was woken without events.
	if timeout == 0 || t.Resumed() {
		return 0, nil, nil
	}
	return 0, t.BlockOn(ep, waiter.EventIn, timeoutDuration(timeout)), nil
}

// timeoutDuration converts an epoll_wait timeout in milliseconds. Negative
// timeouts never expire.
func timeoutDuration(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
