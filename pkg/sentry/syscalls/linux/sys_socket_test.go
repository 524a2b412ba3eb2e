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
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/marshal/primitive"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
)

func TestSocketErrors(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		name     string
		domain   uintptr
		stype    uintptr
		protocol uintptr
		want     int64
	}{
		{"inet6", linux.AF_INET6, linux.SOCK_DGRAM, 0, neg(errno.EAFNOSUPPORT)},
		{"stream", linux.AF_INET, linux.SOCK_STREAM, 0, neg(errno.EPROTONOSUPPORT)},
		{"tcp protocol", linux.AF_INET, linux.SOCK_DGRAM, 6, neg(errno.EPROTONOSUPPORT)},
		{"unknown flag", linux.AF_INET, linux.SOCK_DGRAM | 0x10000000, 0, neg(errno.EINVAL)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if ret := h.call(linux.SYS_SOCKET, tc.domain, tc.stype, tc.protocol); ret != tc.want {
				t.Errorf("socket = %d, want %d", ret, tc.want)
			}
		})
	}
}

func TestSocketCallsOnNonSocket(t *testing.T) {
	h := newHarness(t)
	epfd := h.epollCreate()
	addr := uintptr(h.sockaddr(netip.AddrPortFrom(hostAddr, 1000)))
	if ret := h.call(linux.SYS_BIND, uintptr(epfd), addr, linux.SizeOfSockAddrInet); ret != neg(errno.ENOTSOCK) {
		t.Errorf("bind(epoll) = %d, want ENOTSOCK", ret)
	}
	if ret := h.call(linux.SYS_BIND, 42, addr, linux.SizeOfSockAddrInet); ret != neg(errno.EBADF) {
		t.Errorf("bind(42) = %d, want EBADF", ret)
	}
}

func TestBindErrors(t *testing.T) {
	h := newHarness(t)
	h.udpSocket(1000)
	fd := uintptr(h.mustCall(linux.SYS_SOCKET, linux.AF_INET, linux.SOCK_DGRAM, 0))
	for _, tc := range []struct {
		name    string
		addr    netip.AddrPort
		addrlen uintptr
		want    int64
	}{
		{"short addrlen", netip.AddrPortFrom(hostAddr, 1001), 8, neg(errno.EINVAL)},
		{"in use", netip.AddrPortFrom(hostAddr, 1000), linux.SizeOfSockAddrInet, neg(errno.EADDRINUSE)},
		{"foreign address", netip.MustParseAddrPort("10.9.9.9:1001"), linux.SizeOfSockAddrInet, neg(errno.EADDRNOTAVAIL)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if ret := h.call(linux.SYS_BIND, fd, uintptr(h.sockaddr(tc.addr)), tc.addrlen); ret != tc.want {
				t.Errorf("bind = %d, want %d", ret, tc.want)
			}
		})
	}

	bad := h.alloc(linux.SizeOfSockAddrInet)
	sa := linux.SockAddrInetFrom(netip.AddrPortFrom(hostAddr, 1001))
	sa.Family = linux.AF_UNIX
	h.task.CopyOut(bad, &sa)
	if ret := h.call(linux.SYS_BIND, fd, uintptr(bad), linux.SizeOfSockAddrInet); ret != neg(errno.EAFNOSUPPORT) {
		t.Errorf("bind(AF_UNIX) = %d, want EAFNOSUPPORT", ret)
	}
}

func TestSendToRecvFrom(t *testing.T) {
	h := newHarness(t)
	rx := h.udpSocket(1000)
	tx := int32(h.mustCall(linux.SYS_SOCKET, linux.AF_INET, linux.SOCK_DGRAM, 0))
	h.send(h.task, tx, 1000, "hello")

	buf := h.alloc(64)
	name := h.alloc(linux.SizeOfSockAddrInet)
	nameLen := h.alloc(4)
	primitive.CopyUint32Out(h.task, nameLen, linux.SizeOfSockAddrInet)
	ret := h.call(linux.SYS_RECVFROM, uintptr(rx), uintptr(buf), 64, 0, uintptr(name), uintptr(nameLen))
	if ret != 5 {
		t.Fatalf("recvfrom = %d, want 5", ret)
	}
	got := make([]byte, 5)
	h.task.CopyInBytes(buf, got)
	if string(got) != "hello" {
		t.Errorf("payload = %q, want %q", got, "hello")
	}

	var from linux.SockAddrInet
	h.task.CopyIn(name, &from)
	if from.Family != linux.AF_INET || from.AddrPort().Addr() != hostAddr || from.Port < 32768 {
		t.Errorf("source = %v (family %d), want an ephemeral port on %v", from.AddrPort(), from.Family, hostAddr)
	}
	if n, _ := primitive.CopyUint32In(h.task, nameLen); n != linux.SizeOfSockAddrInet {
		t.Errorf("addrlen = %d, want %d", n, linux.SizeOfSockAddrInet)
	}
}

func TestRecvFromShortAddrLen(t *testing.T) {
	h := newHarness(t)
	rx := h.udpSocket(1000)
	h.send(h.task, rx, 1000, "x")

	buf := h.alloc(8)
	name := h.alloc(linux.SizeOfSockAddrInet)
	h.task.CopyOutBytes(name, make([]byte, linux.SizeOfSockAddrInet))
	nameLen := h.alloc(4)
	primitive.CopyUint32Out(h.task, nameLen, 4)
	if ret := h.call(linux.SYS_RECVFROM, uintptr(rx), uintptr(buf), 8, 0, uintptr(name), uintptr(nameLen)); ret != 1 {
		t.Fatalf("recvfrom = %d, want 1", ret)
	}
	got := make([]byte, linux.SizeOfSockAddrInet)
	h.task.CopyInBytes(name, got)
	sa := linux.SockAddrInetFrom(netip.AddrPortFrom(hostAddr, 1000))
	want := make([]byte, linux.SizeOfSockAddrInet)
	sa.MarshalBytes(want)
	clear(want[4:])
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("truncated address mismatch (-want +got):\n%s", diff)
	}
	if n, _ := primitive.CopyUint32In(h.task, nameLen); n != linux.SizeOfSockAddrInet {
		t.Errorf("addrlen = %d, want %d", n, linux.SizeOfSockAddrInet)
	}
}

func TestSendToErrors(t *testing.T) {
	h := newHarness(t)
	fd := uintptr(h.udpSocket(1000))
	buf := uintptr(h.alloc(8))
	to := uintptr(h.sockaddr(netip.AddrPortFrom(hostAddr, 1000)))
	if ret := h.call(linux.SYS_SENDTO, fd, buf, 8, 0, 0, 0); ret != neg(errno.EDESTADDRREQ) {
		t.Errorf("sendto without address = %d, want EDESTADDRREQ", ret)
	}
	if ret := h.call(linux.SYS_SENDTO, fd, buf, 8, 0, to, 4); ret != neg(errno.EINVAL) {
		t.Errorf("sendto with short addrlen = %d, want EINVAL", ret)
	}
	big := uintptr(h.alloc(70000))
	if ret := h.call(linux.SYS_SENDTO, fd, big, 70000, 0, to, linux.SizeOfSockAddrInet); ret != neg(errno.EMSGSIZE) {
		t.Errorf("oversized sendto = %d, want EMSGSIZE", ret)
	}
}

func TestRecvFromNonBlocking(t *testing.T) {
	h := newHarness(t)
	blocking := h.udpSocket(1000)
	buf := uintptr(h.alloc(8))
	if ret := h.call(linux.SYS_RECVFROM, uintptr(blocking), buf, 8, linux.MSG_DONTWAIT, 0, 0); ret != neg(errno.EAGAIN) {
		t.Errorf("recvfrom(MSG_DONTWAIT) = %d, want EAGAIN", ret)
	}
	nonblocking := h.mustCall(linux.SYS_SOCKET, linux.AF_INET, linux.SOCK_DGRAM|linux.SOCK_NONBLOCK, 0)
	if ret := h.call(linux.SYS_RECVFROM, uintptr(nonblocking), buf, 8, 0, 0, 0); ret != neg(errno.EAGAIN) {
		t.Errorf("recvfrom(SOCK_NONBLOCK) = %d, want EAGAIN", ret)
	}
	if ret := h.call(linux.SYS_READ, uintptr(nonblocking), buf, 8); ret != neg(errno.EAGAIN) {
		t.Errorf("read(SOCK_NONBLOCK) = %d, want EAGAIN", ret)
	}
}

func TestRecvFromBlocks(t *testing.T) {
	h := newHarness(t)
	rx := h.udpSocket(1000)
	sender := h.task.Host().NewTask()
	h.k.Scheduler().Schedule(ms(4), func() { h.send(sender, rx, 1000, "late") })

	buf := h.alloc(8)
	c := h.start(linux.SYS_RECVFROM, uintptr(rx), uintptr(buf), 8, 0, 0, 0)
	if c.done {
		t.Fatalf("recvfrom completed immediately: %+v", c)
	}
	h.k.Run()
	if !c.done || c.ret != 4 || c.at != ms(4) {
		t.Errorf("recvfrom = %+v, want 4 at %v", c, ms(4))
	}
}

func TestReadBlocks(t *testing.T) {
	h := newHarness(t)
	rx := h.udpSocket(1000)
	sender := h.task.Host().NewTask()
	h.k.Scheduler().Schedule(ms(2), func() { h.send(sender, rx, 1000, "data") })

	buf := h.alloc(8)
	c := h.start(linux.SYS_READ, uintptr(rx), uintptr(buf), 8)
	h.k.Run()
	if !c.done || c.ret != 4 || c.at != ms(2) {
		t.Errorf("read = %+v, want 4 at %v", c, ms(2))
	}
}

func TestReadHostDescriptor(t *testing.T) {
	h := newHarness(t)
	r, w := hostPipe(t)
	fd, err := h.task.FDTable().NewHostFD(int32(r), kernel.FDFlags{})
	if err != nil {
		t.Fatalf("NewHostFD: %v", err)
	}
	buf := h.alloc(8)
	if ret := h.call(linux.SYS_READ, uintptr(fd), uintptr(buf), 8); ret != neg(errno.EAGAIN) {
		t.Errorf("read of an empty host pipe = %d, want EAGAIN", ret)
	}
	writeHost(t, w, "abc")
	if ret := h.call(linux.SYS_READ, uintptr(fd), uintptr(buf), 8); ret != 3 {
		t.Fatalf("read = %d, want 3", ret)
	}
	got := make([]byte, 3)
	h.task.CopyInBytes(buf, got)
	if string(got) != "abc" {
		t.Errorf("read %q, want %q", got, "abc")
	}
	if ret := h.call(linux.SYS_CLOSE, uintptr(fd)); ret != 0 {
		t.Errorf("close = %d", ret)
	}
	if ret := h.call(linux.SYS_CLOSE, uintptr(fd)); ret != neg(errno.EBADF) {
		t.Errorf("second close = %d, want EBADF", ret)
	}
}
