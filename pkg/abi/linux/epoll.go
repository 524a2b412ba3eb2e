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
	"math"

	"hostsim.dev/hostsim/pkg/hostarch"
)

// Event masks for epoll_ctl(2) and epoll_wait(2).
const (
	EPOLLIN     = 0x1
	EPOLLPRI    = 0x2
	EPOLLOUT    = 0x4
	EPOLLERR    = 0x8
	EPOLLHUP    = 0x10
	EPOLLRDNORM = 0x40
	EPOLLRDBAND = 0x80
	EPOLLWRNORM = 0x100
	EPOLLWRBAND = 0x200
	EPOLLMSG    = 0x400
	EPOLLRDHUP  = 0x2000
)

// Per-file epoll flags.
const (
	EPOLLEXCLUSIVE = 1 << 28
	EPOLLWAKEUP    = 1 << 29
	EPOLLONESHOT   = 1 << 30
	EPOLLET        = 1 << 31

	// EP_PRIVATE_BITS is fs/eventpoll.c:EP_PRIVATE_BITS, the set of all
	// per-file flags.
	EP_PRIVATE_BITS = EPOLLWAKEUP | EPOLLONESHOT | EPOLLET | EPOLLEXCLUSIVE
)

// Operation flags for epoll_create1(2) and epoll_ctl(2).
const (
	EPOLL_CLOEXEC = O_CLOEXEC

	EPOLL_CTL_ADD = 0x1
	EPOLL_CTL_DEL = 0x2
	EPOLL_CTL_MOD = 0x3
)

// EpollEvent is equivalent to struct epoll_event from epoll(2).
//
// The simulated guest ABI is amd64, where Linux declares struct epoll_event
// __attribute__((packed)), so there is no padding between Events and Data.
type EpollEvent struct {
	Events uint32
	Data   uint64
}

// SizeOfEpollEvent is the guest size of struct epoll_event.
const SizeOfEpollEvent = 12

// EP_MAX_EVENTS is fs/eventpoll.c:EP_MAX_EVENTS.
const EP_MAX_EVENTS = math.MaxInt32 / SizeOfEpollEvent

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (e *EpollEvent) SizeBytes() int {
	return SizeOfEpollEvent
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (e *EpollEvent) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], e.Events)
	hostarch.ByteOrder.PutUint64(dst[4:12], e.Data)
	return dst[SizeOfEpollEvent:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (e *EpollEvent) UnmarshalBytes(src []byte) []byte {
	e.Events = hostarch.ByteOrder.Uint32(src[:4])
	e.Data = hostarch.ByteOrder.Uint64(src[4:12])
	return src[SizeOfEpollEvent:]
}
