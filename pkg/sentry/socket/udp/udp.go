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

// Package udp implements simulated AF_INET datagram sockets on top of the
// kernel's inet.Stack.
package udp

import (
	"net/netip"

	"github.com/eapache/queue"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/inet"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/socket"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
	"hostsim.dev/hostsim/pkg/waiter"
)

// MaxPayload is the largest datagram a socket accepts: 65535 minus the IPv4
// and UDP headers.
const MaxPayload = 65507

// Endpoint is a datagram socket.
type Endpoint struct {
	vfsfd vfs.FileDescription
	vfs.FileDescriptionDefaultImpl

	stack *inet.Stack

	// host is the address of the simulated host owning the socket.
	host netip.Addr

	// bound is the local address, invalid until bind(2) or the first send.
	bound netip.AddrPort

	// rx holds received inet.Packets, oldest first.
	rx *queue.Queue

	// rxLimit is the maximum length of rx. Further datagrams are dropped.
	rxLimit int

	queue waiter.Queue
}

var (
	_ socket.Socket = (*Endpoint)(nil)
	_ inet.Endpoint = (*Endpoint)(nil)
)

// New returns a new unbound socket on host.
func New(stack *inet.Stack, host netip.Addr, rxLimit int, nonblock bool) *vfs.FileDescription {
	if rxLimit <= 0 {
		rxLimit = 1
	}
	ep := &Endpoint{
		stack:   stack,
		host:    host,
		rx:      queue.New(),
		rxLimit: rxLimit,
	}
	var flags uint32
	if nonblock {
		flags |= linux.O_NONBLOCK
	}
	ep.vfsfd.Init(ep, vfs.FileTypeSocket, flags)
	return &ep.vfsfd
}

// LocalAddr implements socket.Socket.LocalAddr.
func (ep *Endpoint) LocalAddr() netip.AddrPort {
	return ep.bound
}

// Bind implements socket.Socket.Bind.
func (ep *Endpoint) Bind(addr netip.AddrPort) error {
	if ep.bound.IsValid() {
		return linuxerr.EINVAL
	}
	ip := addr.Addr()
	switch {
	case ip.IsUnspecified():
		ip = ep.host
	case ip != ep.host:
		return linuxerr.EADDRNOTAVAIL
	}
	bound, err := ep.stack.Bind(netip.AddrPortFrom(ip, addr.Port()), ep)
	if err != nil {
		return err
	}
	ep.bound = bound
	return nil
}

// SendTo implements socket.Socket.SendTo. An unbound socket is bound to an
// ephemeral port first, as Linux does. Datagrams that cannot be delivered
// are lost silently.
func (ep *Endpoint) SendTo(src []byte, to netip.AddrPort) (int, error) {
	if len(src) > MaxPayload {
		return 0, linuxerr.EMSGSIZE
	}
	if !to.IsValid() {
		return 0, linuxerr.EDESTADDRREQ
	}
	if !ep.bound.IsValid() {
		if err := ep.Bind(netip.AddrPortFrom(ep.host, 0)); err != nil {
			return 0, err
		}
	}
	ep.stack.Send(ep.bound, to, src)
	return len(src), nil
}

// RecvFrom implements socket.Socket.RecvFrom. Datagrams longer than dst are
// truncated; the remainder is discarded.
func (ep *Endpoint) RecvFrom(dst []byte) (int, netip.AddrPort, error) {
	if ep.rx.Length() == 0 {
		return 0, netip.AddrPort{}, linuxerr.ErrWouldBlock
	}
	p := ep.rx.Remove().(inet.Packet)
	return copy(dst, p.Payload), p.From, nil
}

// Read implements vfs.FileDescriptionImpl.Read.
func (ep *Endpoint) Read(dst []byte) (int, error) {
	n, _, err := ep.RecvFrom(dst)
	return n, err
}

// Deliver implements inet.Endpoint.Deliver.
func (ep *Endpoint) Deliver(p inet.Packet) bool {
	if ep.rx.Length() >= ep.rxLimit {
		return false
	}
	ep.rx.Add(p)
	if ep.rx.Length() == 1 {
		ep.queue.Notify(waiter.ReadableEvents)
	}
	return true
}

// Queued returns the number of datagrams waiting to be received.
func (ep *Endpoint) Queued() int {
	return ep.rx.Length()
}

// Readiness implements waiter.Waitable.Readiness.
func (ep *Endpoint) Readiness(mask waiter.EventMask) waiter.EventMask {
	ready := waiter.WritableEvents
	if ep.rx.Length() != 0 {
		ready |= waiter.ReadableEvents
	}
	return mask & ready
}

// EventRegister implements waiter.Waitable.EventRegister.
func (ep *Endpoint) EventRegister(e *waiter.Entry) error {
	ep.queue.EventRegister(e)
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (ep *Endpoint) EventUnregister(e *waiter.Entry) {
	ep.queue.EventUnregister(e)
}

// Release implements vfs.FileDescriptionImpl.Release.
func (ep *Endpoint) Release() {
	if ep.bound.IsValid() {
		ep.stack.Unbind(ep.bound, ep)
	}
	for ep.rx.Length() != 0 {
		ep.rx.Remove()
	}
}

// provider creates datagram sockets on the calling task's host.
type provider struct{}

// Socket implements socket.Provider.Socket.
func (provider) Socket(t *kernel.Task, stype int, protocol int) (*vfs.FileDescription, error) {
	if stype&linux.SOCK_TYPE_MASK != linux.SOCK_DGRAM {
		return nil, nil
	}
	if protocol != linux.IPPROTO_IP && protocol != linux.IPPROTO_UDP {
		return nil, nil
	}
	k := t.Kernel()
	return New(k.Stack(), t.Host().Addr(), k.Config().RecvQueueLen, stype&linux.SOCK_NONBLOCK != 0), nil
}

func init() {
	socket.RegisterProvider(linux.AF_INET, provider{})
}
