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

// Package inet is the simulated IPv4 network shared by all hosts of a
// kernel. It routes datagrams between bound endpoints with zero latency.
package inet

import (
	"net/netip"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
)

// Ephemeral port range, as Linux's default net.ipv4.ip_local_port_range.
const (
	ephemeralFirst = 32768
	ephemeralLast  = 60999
)

// Packet is a datagram in flight.
type Packet struct {
	From    netip.AddrPort
	Payload []byte
}

// Endpoint receives datagrams addressed to the address it is bound to.
type Endpoint interface {
	// Deliver queues p. It returns false if p was dropped.
	Deliver(p Packet) bool
}

// Stats are counters over the lifetime of a Stack.
type Stats struct {
	// Sent counts datagrams handed to Send.
	Sent uint64

	// Delivered counts datagrams accepted by an endpoint.
	Delivered uint64

	// Dropped counts datagrams refused by a full endpoint.
	Dropped uint64

	// NoRoute counts datagrams sent to an address nobody is bound to.
	NoRoute uint64
}

// Stack maps bound addresses to endpoints.
type Stack struct {
	bound map[netip.AddrPort]Endpoint

	// nextPort is the next ephemeral port to try, per local address.
	nextPort map[netip.Addr]uint16

	stats Stats
}

// NewStack returns an empty network.
func NewStack() *Stack {
	return &Stack{
		bound:    make(map[netip.AddrPort]Endpoint),
		nextPort: make(map[netip.Addr]uint16),
	}
}

// Bind binds ep to addr. A zero port picks a free ephemeral port. It returns
// the address actually bound.
func (s *Stack) Bind(addr netip.AddrPort, ep Endpoint) (netip.AddrPort, error) {
	if !addr.Addr().Is4() {
		return netip.AddrPort{}, linuxerr.EAFNOSUPPORT
	}
	if addr.Port() != 0 {
		if _, ok := s.bound[addr]; ok {
			return netip.AddrPort{}, linuxerr.EADDRINUSE
		}
		s.bound[addr] = ep
		return addr, nil
	}

	ip := addr.Addr()
	port, ok := s.nextPort[ip]
	if !ok {
		port = ephemeralFirst
	}
	for i := 0; i <= ephemeralLast-ephemeralFirst; i++ {
		candidate := netip.AddrPortFrom(ip, port)
		if port++; port > ephemeralLast {
			port = ephemeralFirst
		}
		if _, ok := s.bound[candidate]; !ok {
			s.nextPort[ip] = port
			s.bound[candidate] = ep
			return candidate, nil
		}
	}
	return netip.AddrPort{}, linuxerr.EADDRINUSE
}

// Unbind releases addr if it is bound to ep.
func (s *Stack) Unbind(addr netip.AddrPort, ep Endpoint) {
	if s.bound[addr] == ep {
		delete(s.bound, addr)
	}
}

// Send delivers a copy of payload from from to to, immediately. It returns
// whether the datagram was accepted. Datagrams to unbound addresses are
// silently lost, as on a real network.
func (s *Stack) Send(from, to netip.AddrPort, payload []byte) bool {
	s.stats.Sent++
	ep, ok := s.bound[to]
	if !ok {
		s.stats.NoRoute++
		return false
	}
	p := Packet{
		From:    from,
		Payload: append([]byte(nil), payload...),
	}
	if !ep.Deliver(p) {
		s.stats.Dropped++
		return false
	}
	s.stats.Delivered++
	return true
}

// Stats returns a snapshot of the counters.
func (s *Stack) Stats() Stats {
	return s.stats
}
