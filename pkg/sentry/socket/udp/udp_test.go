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

package udp

import (
	"bytes"
	"net/netip"
	"testing"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/inet"
	"hostsim.dev/hostsim/pkg/waiter"
)

var (
	hostA = netip.MustParseAddr("10.0.0.1")
	hostB = netip.MustParseAddr("10.0.0.2")
)

func newPair(t *testing.T, rxLimit int) (*inet.Stack, *Endpoint, *Endpoint) {
	t.Helper()
	s := inet.NewStack()
	a := New(s, hostA, rxLimit, true).Impl().(*Endpoint)
	b := New(s, hostB, rxLimit, true).Impl().(*Endpoint)
	if err := a.Bind(netip.AddrPortFrom(netip.IPv4Unspecified(), 7000)); err != nil {
		t.Fatalf("Bind(a): %v", err)
	}
	if err := b.Bind(netip.AddrPortFrom(hostB, 7000)); err != nil {
		t.Fatalf("Bind(b): %v", err)
	}
	return s, a, b
}

func TestBindErrors(t *testing.T) {
	_, a, _ := newPair(t, 4)
	if got, want := a.LocalAddr(), netip.AddrPortFrom(hostA, 7000); got != want {
		t.Errorf("LocalAddr = %v, want %v", got, want)
	}
	if err := a.Bind(netip.AddrPortFrom(hostA, 7001)); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("rebind: got %v, want EINVAL", err)
	}

	c := New(inet.NewStack(), hostA, 4, true).Impl().(*Endpoint)
	if err := c.Bind(netip.AddrPortFrom(hostB, 7000)); !linuxerr.Equals(linuxerr.EADDRNOTAVAIL, err) {
		t.Errorf("foreign bind: got %v, want EADDRNOTAVAIL", err)
	}
}

func TestSendRecv(t *testing.T) {
	_, a, b := newPair(t, 4)

	buf := make([]byte, 16)
	if _, _, err := b.RecvFrom(buf); err != linuxerr.ErrWouldBlock {
		t.Fatalf("RecvFrom on empty socket: got %v, want ErrWouldBlock", err)
	}
	if n, err := a.SendTo([]byte("hello"), b.LocalAddr()); err != nil || n != 5 {
		t.Fatalf("SendTo = %d, %v", n, err)
	}
	n, from, err := b.RecvFrom(buf)
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hello")) || from != a.LocalAddr() {
		t.Errorf("RecvFrom = %q from %v, want %q from %v", buf[:n], from, "hello", a.LocalAddr())
	}
}

func TestTruncate(t *testing.T) {
	_, a, b := newPair(t, 4)
	if _, err := a.SendTo([]byte("abcdef"), b.LocalAddr()); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	buf := make([]byte, 3)
	n, err := b.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Errorf("Read = %q, %v; want %q", buf[:n], err, "abc")
	}
	if b.Queued() != 0 {
		t.Errorf("remainder of a truncated datagram was kept")
	}
}

func TestAutobind(t *testing.T) {
	s := inet.NewStack()
	a := New(s, hostA, 4, true).Impl().(*Endpoint)
	b := New(s, hostB, 4, true).Impl().(*Endpoint)
	if err := b.Bind(netip.AddrPortFrom(hostB, 9)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := a.SendTo([]byte("x"), b.LocalAddr()); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := a.LocalAddr(); got.Addr() != hostA || got.Port() == 0 {
		t.Errorf("LocalAddr after send = %v, want an ephemeral port on %v", got, hostA)
	}
}

func TestSendErrors(t *testing.T) {
	_, a, b := newPair(t, 4)
	if _, err := a.SendTo(make([]byte, MaxPayload+1), b.LocalAddr()); !linuxerr.Equals(linuxerr.EMSGSIZE, err) {
		t.Errorf("oversized SendTo: got %v, want EMSGSIZE", err)
	}
	if _, err := a.SendTo([]byte("x"), netip.AddrPort{}); !linuxerr.Equals(linuxerr.EDESTADDRREQ, err) {
		t.Errorf("SendTo without destination: got %v, want EDESTADDRREQ", err)
	}
}

func TestReceiveQueueLimit(t *testing.T) {
	s, a, b := newPair(t, 2)
	for i := 0; i < 3; i++ {
		if _, err := a.SendTo([]byte{byte(i)}, b.LocalAddr()); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
	}
	if got := b.Queued(); got != 2 {
		t.Errorf("Queued = %d, want 2", got)
	}
	if got := s.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestReadiness(t *testing.T) {
	_, a, b := newPair(t, 4)
	all := waiter.ReadableEvents | waiter.WritableEvents
	if got := b.Readiness(all); got != waiter.WritableEvents {
		t.Errorf("Readiness of empty socket = %#x, want %#x", got, waiter.WritableEvents)
	}

	notified := 0
	e := waiter.NewFunctionEntry(waiter.ReadableEvents, func(waiter.EventMask) { notified++ })
	b.EventRegister(&e)
	defer b.EventUnregister(&e)

	a.SendTo([]byte("1"), b.LocalAddr())
	a.SendTo([]byte("2"), b.LocalAddr())
	if notified != 1 {
		t.Errorf("notified %d times, want 1", notified)
	}
	if got := b.Readiness(all); got != all {
		t.Errorf("Readiness = %#x, want %#x", got, all)
	}
}

func TestReleaseUnbinds(t *testing.T) {
	s, a, b := newPair(t, 4)
	addr := b.LocalAddr()
	b.vfsfd.Release()
	if _, err := a.SendTo([]byte("x"), addr); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := s.Stats().NoRoute; got != 1 {
		t.Errorf("NoRoute = %d, want 1", got)
	}
	c := New(s, hostB, 4, true).Impl().(*Endpoint)
	if err := c.Bind(addr); err != nil {
		t.Errorf("Bind of released address: %v", err)
	}
}
