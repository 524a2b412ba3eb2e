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

package kernel

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
)

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFileFlags converts a kernel.FDFlags object to a Linux file flags
// representation.
func (f FDFlags) ToLinuxFileFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.O_CLOEXEC
	}
	return
}

// ToLinuxFDFlags converts a kernel.FDFlags object to a Linux descriptor flags
// representation.
func (f FDFlags) ToLinuxFDFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.FD_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor: either a simulated
// file, or a host descriptor passed through to the guest.
type descriptor struct {
	file *vfs.FileDescription

	// hostFD is the host descriptor number. It is meaningful only if file
	// is nil.
	hostFD int32

	flags FDFlags
}

// FDTable maps the descriptor numbers of one simulated host to files.
type FDTable struct {
	descriptors map[int32]descriptor

	// limit is one more than the largest descriptor number that may be
	// allocated.
	limit int32

	// watchers indexes the epoll instances watching each host descriptor
	// of the table.
	watchers *vfs.HostWatchers
}

// NewFDTable returns an empty table allowing descriptors below limit.
func NewFDTable(limit int) *FDTable {
	return &FDTable{
		descriptors: make(map[int32]descriptor),
		limit:       int32(limit),
		watchers:    vfs.NewHostWatchers(),
	}
}

// HostWatchers returns the index of epoll instances watching host
// descriptors of f.
func (f *FDTable) HostWatchers() *vfs.HostWatchers {
	return f.watchers
}

// Size returns the number of descriptors in use.
func (f *FDTable) Size() int {
	return len(f.descriptors)
}

// allocate returns the lowest free descriptor number.
func (f *FDTable) allocate() (int32, error) {
	for fd := int32(0); fd < f.limit; fd++ {
		if _, ok := f.descriptors[fd]; !ok {
			return fd, nil
		}
	}
	return -1, linuxerr.EMFILE
}

// NewFD installs file at the lowest free descriptor number and returns it.
// On success the table owns file.
func (f *FDTable) NewFD(file *vfs.FileDescription, flags FDFlags) (int32, error) {
	fd, err := f.allocate()
	if err != nil {
		return -1, err
	}
	f.descriptors[fd] = descriptor{file: file, flags: flags}
	return fd, nil
}

// NewHostFD passes the host descriptor hostFD through to the guest at the
// lowest free descriptor number. On success the table owns hostFD and
// closes it on Remove.
func (f *FDTable) NewHostFD(hostFD int32, flags FDFlags) (int32, error) {
	if hostFD < 0 {
		return -1, linuxerr.EBADF
	}
	fd, err := f.allocate()
	if err != nil {
		return -1, err
	}
	f.descriptors[fd] = descriptor{hostFD: hostFD, flags: flags}
	return fd, nil
}

// Get returns the simulated file and the flags for fd, or nil if fd is not
// a live simulated file.
func (f *FDTable) Get(fd int32) (*vfs.FileDescription, FDFlags) {
	d, ok := f.descriptors[fd]
	if !ok || d.file == nil {
		return nil, FDFlags{}
	}
	return d.file, d.flags
}

// GetHostFD returns the host descriptor fd passes through to.
func (f *FDTable) GetHostFD(fd int32) (int32, bool) {
	d, ok := f.descriptors[fd]
	if !ok || d.file != nil {
		return -1, false
	}
	return d.hostFD, true
}

// Validate returns the simulated file at fd if it has type typ. It returns
// EBADF if fd is not live, and EINVAL if it is of another type, including a
// host descriptor.
func (f *FDTable) Validate(fd int32, typ vfs.FileType) (*vfs.FileDescription, error) {
	d, ok := f.descriptors[fd]
	if !ok {
		return nil, linuxerr.EBADF
	}
	if d.file == nil || d.file.Type() != typ {
		return nil, linuxerr.EINVAL
	}
	return d.file, nil
}

// SetFlags sets the flags for the given file descriptor.
func (f *FDTable) SetFlags(fd int32, flags FDFlags) error {
	d, ok := f.descriptors[fd]
	if !ok {
		return linuxerr.EBADF
	}
	d.flags = flags
	f.descriptors[fd] = d
	return nil
}

// Remove removes fd from the table and closes what it refers to. Epoll
// instances watching it lose their interest in it.
func (f *FDTable) Remove(fd int32) error {
	d, ok := f.descriptors[fd]
	if !ok {
		return linuxerr.EBADF
	}
	delete(f.descriptors, fd)
	if d.file != nil {
		d.file.Release()
		return nil
	}
	// Watchers must drop the descriptor from their host epolls before it
	// is closed.
	f.watchers.Forget(d.hostFD)
	if err := unix.Close(int(d.hostFD)); err != nil {
		log.Warningf("Closing host fd %d (guest fd %d): %v", d.hostFD, fd, err)
	}
	return nil
}

// RemoveAll removes every descriptor, in increasing order.
func (f *FDTable) RemoveAll() {
	for _, fd := range f.GetFDs() {
		f.Remove(fd)
	}
}

// GetFDs returns the live descriptor numbers in increasing order.
func (f *FDTable) GetFDs() []int32 {
	fds := make([]int32, 0, len(f.descriptors))
	for fd := range f.descriptors {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b strings.Builder
	for _, fd := range f.GetFDs() {
		d := f.descriptors[fd]
		if d.file == nil {
			fmt.Fprintf(&b, "\tfd:%d => host fd %d\n", fd, d.hostFD)
			continue
		}
		fmt.Fprintf(&b, "\tfd:%d => %v\n", fd, d.file.Type())
	}
	return b.String()
}
