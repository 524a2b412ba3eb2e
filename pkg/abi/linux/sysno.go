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

// Syscall numbers of the simulated guest ABI, from
// arch/x86/entry/syscalls/syscall_64.tbl. Guests use the amd64 numbering
// regardless of the host architecture.
const (
	SYS_READ            = 0
	SYS_CLOSE           = 3
	SYS_SOCKET          = 41
	SYS_SENDTO          = 44
	SYS_RECVFROM        = 45
	SYS_BIND            = 49
	SYS_EPOLL_CREATE    = 213
	SYS_EPOLL_WAIT      = 232
	SYS_EPOLL_CTL       = 233
	SYS_EPOLL_PWAIT     = 281
	SYS_TIMERFD_CREATE  = 283
	SYS_TIMERFD_SETTIME = 286
	SYS_TIMERFD_GETTIME = 287
	SYS_EPOLL_CREATE1   = 291
)
