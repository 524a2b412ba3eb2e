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

// Package mm implements the address space of a simulated thread.
//
// A MemoryManager is a flat, fully backed region. Its first page is never
// accessible so that NULL pointers passed by guests fault.
package mm

import (
	"fmt"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/usermem"
)

// allocAlign is the alignment of addresses returned by Alloc.
const allocAlign = 16

// MemoryManager implements usermem.IO over a flat guest address space.
type MemoryManager struct {
	mem usermem.BytesIO

	// brk is the next address Alloc will hand out.
	brk hostarch.Addr
}

var _ usermem.IO = (*MemoryManager)(nil)

// NewMemoryManager returns an address space of at least size bytes,
// rounded up to whole pages, plus the unmapped page at address 0.
func NewMemoryManager(size int) *MemoryManager {
	if size <= 0 {
		size = hostarch.PageSize
	}
	end, ok := hostarch.Addr(size).RoundUp(hostarch.PageSize)
	if !ok {
		panic(fmt.Sprintf("memory size %d overflows", size))
	}
	return &MemoryManager{
		mem: usermem.BytesIO{Bytes: make([]byte, int(end)+hostarch.PageSize)},
		brk: hostarch.PageSize,
	}
}

// Size returns the size of the address space, the NULL page included.
func (mm *MemoryManager) Size() int {
	return len(mm.mem.Bytes)
}

// CopyOut implements usermem.IO.CopyOut.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	if len(src) != 0 && addr < hostarch.PageSize {
		return 0, linuxerr.EFAULT
	}
	return mm.mem.CopyOut(addr, src)
}

// CheckRange returns EFAULT unless all of [addr, addr+length) is accessible.
func (mm *MemoryManager) CheckRange(addr hostarch.Addr, length int) error {
	if length != 0 && addr < hostarch.PageSize {
		return linuxerr.EFAULT
	}
	return mm.mem.CheckRange(addr, length)
}

// CopyIn implements usermem.IO.CopyIn.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	if len(dst) != 0 && addr < hostarch.PageSize {
		return 0, linuxerr.EFAULT
	}
	return mm.mem.CopyIn(addr, dst)
}

// Alloc reserves n bytes of guest memory and returns their address. Memory
// is never freed; guests allocate their buffers up front.
func (mm *MemoryManager) Alloc(n int) (hostarch.Addr, error) {
	if n < 0 {
		return 0, linuxerr.EINVAL
	}
	addr := mm.brk
	end, ok := addr.AddLength(uint64(n))
	if !ok || int(end) > len(mm.mem.Bytes) {
		return 0, linuxerr.ENOMEM
	}
	next, ok := end.RoundUp(allocAlign)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	mm.brk = next
	return addr, nil
}
