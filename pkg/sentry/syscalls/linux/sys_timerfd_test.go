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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/marshal/primitive"
)

// itimerspec writes a struct itimerspec to guest memory.
func (h *harness) itimerspec(value, interval time.Duration) hostarch.Addr {
	h.t.Helper()
	addr := h.alloc((*linux.Itimerspec)(nil).SizeBytes())
	its := linux.Itimerspec{
		Value:    linux.DurationToTimespec(value),
		Interval: linux.DurationToTimespec(interval),
	}
	if _, err := h.task.CopyOut(addr, &its); err != nil {
		h.t.Fatalf("CopyOut: %v", err)
	}
	return addr
}

func TestTimerfdCreateErrors(t *testing.T) {
	h := newHarness(t)
	if ret := h.call(linux.SYS_TIMERFD_CREATE, 99, 0); ret != neg(errno.EINVAL) {
		t.Errorf("timerfd_create(bad clock) = %d, want EINVAL", ret)
	}
	if ret := h.call(linux.SYS_TIMERFD_CREATE, linux.CLOCK_MONOTONIC, 1); ret != neg(errno.EINVAL) {
		t.Errorf("timerfd_create(bad flags) = %d, want EINVAL", ret)
	}
	sock := h.udpSocket(1000)
	if ret := h.call(linux.SYS_TIMERFD_SETTIME, uintptr(sock), 0, uintptr(h.itimerspec(time.Second, 0)), 0); ret != neg(errno.EINVAL) {
		t.Errorf("timerfd_settime(socket) = %d, want EINVAL", ret)
	}
	tfd := h.mustCall(linux.SYS_TIMERFD_CREATE, linux.CLOCK_MONOTONIC, 0)
	if ret := h.call(linux.SYS_TIMERFD_SETTIME, uintptr(tfd), 2, uintptr(h.itimerspec(time.Second, 0)), 0); ret != neg(errno.EINVAL) {
		t.Errorf("timerfd_settime(bad flags) = %d, want EINVAL", ret)
	}
	if ret := h.call(linux.SYS_TIMERFD_GETTIME, 77, uintptr(h.alloc(32))); ret != neg(errno.EBADF) {
		t.Errorf("timerfd_gettime(77) = %d, want EBADF", ret)
	}
}

func TestTimerfdWakesEpoll(t *testing.T) {
	h := newHarness(t)
	tfd := h.mustCall(linux.SYS_TIMERFD_CREATE, linux.CLOCK_MONOTONIC, linux.TFD_NONBLOCK)
	epfd := h.epollCreate()
	h.ctl(epfd, linux.EPOLL_CTL_ADD, int32(tfd), linux.EPOLLIN, 9)
	h.mustCall(linux.SYS_TIMERFD_SETTIME, uintptr(tfd), 0, uintptr(h.itimerspec(5*time.Millisecond, 0)), 0)

	buf := h.alloc(linux.SizeOfEpollEvent)
	c := h.start(linux.SYS_EPOLL_WAIT, uintptr(epfd), uintptr(buf), 1, 100)
	h.k.Run()
	if !c.done || c.ret != 1 || c.at != ms(5) {
		t.Fatalf("epoll_wait = %+v, want 1 at %v", c, ms(5))
	}
	want := []linux.EpollEvent{{Events: linux.EPOLLIN, Data: 9}}
	if diff := cmp.Diff(want, h.events(buf, 1)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	count := h.alloc(8)
	if ret := h.call(linux.SYS_READ, uintptr(tfd), uintptr(count), 8); ret != 8 {
		t.Fatalf("read(timerfd) = %d, want 8", ret)
	}
	if got, _ := primitive.CopyUint64In(h.task, count); got != 1 {
		t.Errorf("expirations = %d, want 1", got)
	}
	if ret := h.call(linux.SYS_READ, uintptr(tfd), uintptr(count), 8); ret != neg(errno.EAGAIN) {
		t.Errorf("second read = %d, want EAGAIN", ret)
	}
	if ret := h.call(linux.SYS_EPOLL_WAIT, uintptr(epfd), uintptr(buf), 1, 0); ret != 0 {
		t.Errorf("epoll_wait after read = %d, want 0", ret)
	}
}

func TestTimerfdBlockingRead(t *testing.T) {
	h := newHarness(t)
	tfd := h.mustCall(linux.SYS_TIMERFD_CREATE, linux.CLOCK_REALTIME, 0)
	h.mustCall(linux.SYS_TIMERFD_SETTIME, uintptr(tfd), 0, uintptr(h.itimerspec(3*time.Millisecond, 2*time.Millisecond)), 0)

	count := h.alloc(8)
	c := h.start(linux.SYS_READ, uintptr(tfd), uintptr(count), 8)
	h.k.RunUntil(ms(4))
	if !c.done || c.ret != 8 || c.at != ms(3) {
		t.Fatalf("read = %+v, want 8 at %v", c, ms(3))
	}

	h.k.RunUntil(ms(10))
	if ret := h.call(linux.SYS_READ, uintptr(tfd), uintptr(count), 8); ret != 8 {
		t.Fatalf("read = %d, want 8", ret)
	}
	// Expirations at 5, 7 and 9ms.
	if got, _ := primitive.CopyUint64In(h.task, count); got != 3 {
		t.Errorf("expirations = %d, want 3", got)
	}

	cur := h.alloc(32)
	h.mustCall(linux.SYS_TIMERFD_GETTIME, uintptr(tfd), uintptr(cur))
	var its linux.Itimerspec
	h.task.CopyIn(cur, &its)
	want := linux.Itimerspec{
		Value:    linux.DurationToTimespec(time.Millisecond),
		Interval: linux.DurationToTimespec(2 * time.Millisecond),
	}
	if diff := cmp.Diff(want, its); diff != "" {
		t.Errorf("timerfd_gettime mismatch (-want +got):\n%s", diff)
	}

	old := h.alloc(32)
	h.mustCall(linux.SYS_TIMERFD_SETTIME, uintptr(tfd), 0, uintptr(h.itimerspec(0, 0)), uintptr(old))
	h.task.CopyIn(old, &its)
	if diff := cmp.Diff(want, its); diff != "" {
		t.Errorf("old setting mismatch (-want +got):\n%s", diff)
	}
}
