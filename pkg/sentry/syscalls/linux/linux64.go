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

// Package linux provides the syscall table of the simulated amd64 Linux
// guest ABI.
package linux

import (
	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/syscalls"

	// Register the AF_INET datagram socket provider.
	_ "hostsim.dev/hostsim/pkg/sentry/socket/udp"
)

// AMD64 is a table of the Linux amd64 syscalls the simulator implements,
// keyed by their amd64 numbers. Every other number fails with ENOSYS.
var AMD64 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		linux.SYS_READ:            syscalls.Supported("read", Read),
		linux.SYS_CLOSE:           syscalls.Supported("close", Close),
		linux.SYS_SOCKET:          syscalls.PartiallySupported("socket", Socket, "Only AF_INET SOCK_DGRAM sockets are supported."),
		linux.SYS_SENDTO:          syscalls.PartiallySupported("sendto", SendTo, "Flags are ignored. Delivery is immediate."),
		linux.SYS_RECVFROM:        syscalls.PartiallySupported("recvfrom", RecvFrom, "Only MSG_DONTWAIT is supported."),
		linux.SYS_BIND:            syscalls.Supported("bind", Bind),
		linux.SYS_EPOLL_CREATE:    syscalls.Supported("epoll_create", EpollCreate),
		linux.SYS_EPOLL_WAIT:      syscalls.Supported("epoll_wait", EpollWait),
		linux.SYS_EPOLL_CTL:       syscalls.PartiallySupported("epoll_ctl", EpollCtl, "EPOLLET is reported level-triggered."),
		linux.SYS_EPOLL_PWAIT:     syscalls.ErrorWithEvent("epoll_pwait", linuxerr.ENOSYS, "Signal masks are not supported."),
		linux.SYS_TIMERFD_CREATE:  syscalls.Supported("timerfd_create", TimerfdCreate),
		linux.SYS_TIMERFD_SETTIME: syscalls.Supported("timerfd_settime", TimerfdSettime),
		linux.SYS_TIMERFD_GETTIME: syscalls.Supported("timerfd_gettime", TimerfdGettime),
		linux.SYS_EPOLL_CREATE1:   syscalls.Supported("epoll_create1", EpollCreate1),
	},
	Missing: syscalls.Missing,
}
