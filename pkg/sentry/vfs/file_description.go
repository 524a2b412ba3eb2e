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

// Package vfs holds the open file descriptions a simulated host can refer to
// by descriptor, and the epoll instances that watch them.
package vfs

import (
	"fmt"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/waiter"
)

// FileType tags the kind of object behind a FileDescription.
type FileType int

// File types.
const (
	FileTypeNone FileType = iota
	FileTypeEpoll
	FileTypeSocket
	FileTypeTimer
	FileTypeFile
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case FileTypeNone:
		return "none"
	case FileTypeEpoll:
		return "epoll"
	case FileTypeSocket:
		return "socket"
	case FileTypeTimer:
		return "timer"
	case FileTypeFile:
		return "file"
	default:
		return fmt.Sprintf("FileType(%d)", int(t))
	}
}

// A FileDescription represents an open file description, which is the entity
// referred to by a file descriptor (POSIX.1-2017 3.258 "Open File
// Description").
//
// A FileDescription has exactly one owner, the descriptor table slot it was
// installed in. Removing it from the table releases it.
type FileDescription struct {
	// statusFlags contains status flags, "initialized by open(2) and possibly
	// modified by fcntl()" - fcntl(2).
	statusFlags uint32

	// epolls is the set of epollInterests registered for this
	// FileDescription, in registration order.
	epolls []*epollInterest

	released bool

	typ FileType

	// impl is the FileDescriptionImpl associated with this FileDescription.
	// impl is immutable.
	impl FileDescriptionImpl
}

// FileDescriptionImpl contains implementation details for an FileDescription.
// Implementations of FileDescriptionImpl should contain their associated
// FileDescription by value as their first field.
type FileDescriptionImpl interface {
	// Release is called when the associated FileDescription is closed.
	Release()

	// Read reads into dst. If no data is available it returns
	// linuxerr.ErrWouldBlock.
	Read(dst []byte) (int, error)

	// Waitable methods may be used to poll for I/O events.
	waiter.Waitable
}

// Init must be called before first use of fd.
func (fd *FileDescription) Init(impl FileDescriptionImpl, typ FileType, statusFlags uint32) {
	fd.impl = impl
	fd.typ = typ
	fd.statusFlags = statusFlags
}

// Impl returns the FileDescriptionImpl associated with fd.
func (fd *FileDescription) Impl() FileDescriptionImpl {
	return fd.impl
}

// Type returns the kind of object behind fd.
func (fd *FileDescription) Type() FileType {
	return fd.typ
}

// StatusFlags returns file description status flags, as for fcntl(F_GETFL).
func (fd *FileDescription) StatusFlags() uint32 {
	return fd.statusFlags
}

// SetStatusFlags sets file description status flags, as for fcntl(F_SETFL).
func (fd *FileDescription) SetStatusFlags(flags uint32) {
	fd.statusFlags = flags
}

// IsNonBlocking returns whether O_NONBLOCK is set.
func (fd *FileDescription) IsNonBlocking() bool {
	return fd.statusFlags&linux.O_NONBLOCK != 0
}

// Released returns whether fd has been closed.
func (fd *FileDescription) Released() bool {
	return fd.released
}

// Release closes fd. Every epoll instance watching fd drops its interest
// and has its waiters woken. Release is idempotent.
func (fd *FileDescription) Release() {
	if fd.released {
		return
	}
	fd.released = true
	for len(fd.epolls) != 0 {
		epi := fd.epolls[0]
		ep := epi.epoll
		ep.removeInterest(epi)
		ep.q.Notify(waiter.EventIn | waiter.EventHUp)
	}
	fd.impl.Release()
}

// Read reads into dst.
func (fd *FileDescription) Read(dst []byte) (int, error) {
	if fd.released {
		return 0, linuxerr.EBADF
	}
	return fd.impl.Read(dst)
}

// Readiness implements waiter.Waitable.Readiness.
func (fd *FileDescription) Readiness(mask waiter.EventMask) waiter.EventMask {
	return fd.impl.Readiness(mask)
}

// EventRegister implements waiter.Waitable.EventRegister.
func (fd *FileDescription) EventRegister(e *waiter.Entry) error {
	return fd.impl.EventRegister(e)
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (fd *FileDescription) EventUnregister(e *waiter.Entry) {
	fd.impl.EventUnregister(e)
}

// Watchers returns the number of epoll interests registered for fd.
func (fd *FileDescription) Watchers() int {
	return len(fd.epolls)
}

func (fd *FileDescription) addEpoll(epi *epollInterest) {
	fd.epolls = append(fd.epolls, epi)
}

func (fd *FileDescription) removeEpoll(epi *epollInterest) {
	for i, e := range fd.epolls {
		if e == epi {
			fd.epolls = append(fd.epolls[:i], fd.epolls[i+1:]...)
			return
		}
	}
}
