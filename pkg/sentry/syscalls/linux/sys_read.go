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
	"golang.org/x/sys/unix"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/waiter"
	"hostsim.dev/hostsim/pkg/waiter/fdnotifier"
)

// Read implements Linux syscall read(2).
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	// A read larger than the address space faults anyway.
	if size > uint(t.MemoryManager().Size()) {
		return 0, nil, linuxerr.EFAULT
	}
	buf := make([]byte, size)

	if hostFD, ok := t.FDTable().GetHostFD(fd); ok {
		n, err := readHost(hostFD, buf)
		if err != nil {
			return 0, nil, err
		}
		if _, err := t.CopyOutBytes(addr, buf[:n]); err != nil {
			return 0, nil, err
		}
		return uintptr(n), nil, nil
	}

	file := t.GetFile(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}
	n, err := file.Read(buf)
	if err != nil {
		if linuxerr.Equals(linuxerr.ErrWouldBlock, err) && !file.IsNonBlocking() {
			return 0, t.BlockOn(file, waiter.ReadableEvents, -1), nil
		}
		return 0, nil, err
	}
	if _, err := t.CopyOutBytes(addr, buf[:n]); err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// readHost reads from a pass-through host descriptor. The simulation never
// blocks on the host, so a descriptor that is not readable yet returns
// EAGAIN.
func readHost(hostFD int32, buf []byte) (int, error) {
	if fdnotifier.NonBlockingPoll(hostFD, waiter.ReadableEvents) == 0 {
		return 0, linuxerr.EAGAIN
	}
	n, err := unix.Read(int(hostFD), buf)
	if err != nil {
		return 0, linuxerr.FromHost(err)
	}
	return n, nil
}
