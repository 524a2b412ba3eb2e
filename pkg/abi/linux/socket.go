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

	"hostsim.dev/hostsim/pkg/hostarch"
)

// Address families, from include/linux/socket.h.
const (
	AF_UNSPEC = 0
	AF_UNIX   = 1
	AF_INET   = 2
	AF_INET6  = 10
)

// Socket types, from linux/net.h.
const (
	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
	SOCK_RAW    = 3

	// SOCK_TYPE_MASK covers all of the above socket types. The remaining
	// bits are flags.
	SOCK_TYPE_MASK = 0xf

	SOCK_NONBLOCK = O_NONBLOCK
	SOCK_CLOEXEC  = O_CLOEXEC
)

// Protocol numbers, from include/uapi/linux/in.h.
const (
	IPPROTO_IP  = 0
	IPPROTO_UDP = 17
)

// Flags for send(2) and recv(2).
const (
	MSG_DONTWAIT = 0x40
	MSG_TRUNC    = 0x20
)

// SockAddrInet is struct sockaddr_in, from uapi/linux/in.h.
type SockAddrInet struct {
	Family uint16
	Port   uint16 // network byte order
	Addr   [4]byte
	_      [8]uint8 // pad to sizeof(struct sockaddr).
}

// SizeOfSockAddrInet is the size of struct sockaddr_in.
const SizeOfSockAddrInet = 16

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *SockAddrInet) SizeBytes() int {
	return SizeOfSockAddrInet
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *SockAddrInet) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint16(dst[0:2], s.Family)
	dst[2] = byte(s.Port >> 8)
	dst[3] = byte(s.Port)
	copy(dst[4:8], s.Addr[:])
	for i := 8; i < SizeOfSockAddrInet; i++ {
		dst[i] = 0
	}
	return dst[SizeOfSockAddrInet:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *SockAddrInet) UnmarshalBytes(src []byte) []byte {
	s.Family = hostarch.ByteOrder.Uint16(src[0:2])
	s.Port = uint16(src[2])<<8 | uint16(src[3])
	copy(s.Addr[:], src[4:8])
	return src[SizeOfSockAddrInet:]
}

// AddrPort returns the address as a netip.AddrPort.
func (s *SockAddrInet) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), s.Port)
}

// SockAddrInetFrom returns the sockaddr_in for ap, which must be IPv4.
func SockAddrInetFrom(ap netip.AddrPort) SockAddrInet {
	return SockAddrInet{
		Family: AF_INET,
		Port:   ap.Port(),
		Addr:   ap.Addr().As4(),
	}
}
