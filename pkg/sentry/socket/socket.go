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

// Package socket provides the interfaces that need to be provided by socket
// implementations and providers, as well as per family demultiplexing of socket
// creation.
package socket

import (
	"net/netip"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
)

// Socket is the interface containing socket syscalls used by the syscall layer
// to redirect them to the appropriate implementation.
type Socket interface {
	vfs.FileDescriptionImpl

	// Bind implements the bind(2) linux syscall.
	Bind(addr netip.AddrPort) error

	// SendTo implements the sendto(2) linux syscall. It never blocks.
	SendTo(src []byte, to netip.AddrPort) (int, error)

	// RecvFrom implements the recvfrom(2) linux syscall. If no datagram is
	// queued it returns linuxerr.ErrWouldBlock.
	RecvFrom(dst []byte) (n int, from netip.AddrPort, err error)

	// LocalAddr returns the bound address, or the zero AddrPort if the
	// socket is unbound.
	LocalAddr() netip.AddrPort
}

// Provider is the interface implemented by providers of sockets for specific
// address families (e.g., AF_INET).
type Provider interface {
	// Socket creates a new socket.
	//
	// If a nil FileDescription _and_ a nil error is returned, it means that
	// the protocol is not supported. A non-nil error should only be returned
	// if the protocol is supported, but an error occurs during creation.
	Socket(t *kernel.Task, stype int, protocol int) (*vfs.FileDescription, error)
}

// families holds a map of all known address families and their providers.
var families = make(map[int][]Provider)

// RegisterProvider registers the provider of a given address family so that
// sockets of that type can be created via socket().
func RegisterProvider(family int, provider Provider) {
	families[family] = append(families[family], provider)
}

// New creates a new socket with the given family, type and protocol.
func New(t *kernel.Task, family int, stype int, protocol int) (*vfs.FileDescription, error) {
	providers, ok := families[family]
	if !ok {
		return nil, linuxerr.EAFNOSUPPORT
	}
	for _, p := range providers {
		s, err := p.Socket(t, stype, protocol)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, linuxerr.EPROTONOSUPPORT
}

// FromFile returns the Socket behind fd, or ENOTSOCK.
func FromFile(fd *vfs.FileDescription) (Socket, error) {
	s, ok := fd.Impl().(Socket)
	if !ok {
		return nil, linuxerr.ENOTSOCK
	}
	return s, nil
}
