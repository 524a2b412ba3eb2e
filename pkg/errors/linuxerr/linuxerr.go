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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comparable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno.
var (
	EPERM  = errors.New(errno.EPERM, "operation not permitted")
	ENOENT = errors.New(errno.ENOENT, "no such file or directory")
	EINTR  = errors.New(errno.EINTR, "interrupted system call")
	EIO    = errors.New(errno.EIO, "I/O error")
	EBADF  = errors.New(errno.EBADF, "bad file number")
	EAGAIN = errors.New(errno.EAGAIN, "try again")
	ENOMEM = errors.New(errno.ENOMEM, "out of memory")
	EACCES = errors.New(errno.EACCES, "permission denied")
	EFAULT = errors.New(errno.EFAULT, "bad address")
	EEXIST = errors.New(errno.EEXIST, "file exists")
	EINVAL = errors.New(errno.EINVAL, "invalid argument")
	ENFILE = errors.New(errno.ENFILE, "file table overflow")
	EMFILE = errors.New(errno.EMFILE, "too many open files")
	ENOSPC = errors.New(errno.ENOSPC, "no space left on device")
	EPIPE  = errors.New(errno.EPIPE, "broken pipe")
	ERANGE = errors.New(errno.ERANGE, "math result not representable")
	ENOSYS = errors.New(errno.ENOSYS, "invalid system call number")
	ELOOP  = errors.New(errno.ELOOP, "too many symbolic links encountered")

	ENOTSOCK        = errors.New(errno.ENOTSOCK, "socket operation on non-socket")
	EDESTADDRREQ    = errors.New(errno.EDESTADDRREQ, "destination address required")
	EMSGSIZE        = errors.New(errno.EMSGSIZE, "message too long")
	EPROTONOSUPPORT = errors.New(errno.EPROTONOSUPPORT, "protocol not supported")
	EOPNOTSUPP      = errors.New(errno.EOPNOTSUPP, "operation not supported on transport endpoint")
	EAFNOSUPPORT    = errors.New(errno.EAFNOSUPPORT, "address family not supported by protocol")
	EADDRINUSE      = errors.New(errno.EADDRINUSE, "address already in use")
	EADDRNOTAVAIL   = errors.New(errno.EADDRNOTAVAIL, "cannot assign requested address")
	ETIMEDOUT       = errors.New(errno.ETIMEDOUT, "connection timed out")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
)

// ErrWouldBlock is an internal error used to indicate that an operation
// cannot be satisfied immediately, and should be retried at a later time,
// possibly when the caller has received a notification that the operation
// may be able to complete.
var ErrWouldBlock = errors.New(errno.EWOULDBLOCK, "request would block")

var byErrno = func() map[errno.Errno]*errors.Error {
	m := make(map[errno.Errno]*errors.Error)
	for _, e := range []*errors.Error{
		EPERM, ENOENT, EINTR, EIO, EBADF, EAGAIN, ENOMEM, EACCES, EFAULT,
		EEXIST, EINVAL, ENFILE, EMFILE, ENOSPC, EPIPE, ERANGE, ENOSYS, ELOOP,
		ENOTSOCK, EDESTADDRREQ, EMSGSIZE, EPROTONOSUPPORT, EOPNOTSUPP,
		EAFNOSUPPORT, EADDRINUSE, EADDRNOTAVAIL, ETIMEDOUT,
	} {
		m[e.Errno()] = e
	}
	return m
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos the simulator
// never surfaces on its own get a dynamically allocated error carrying the
// host's message.
func ErrorFromUnix(err unix.Errno) error {
	if err == 0 {
		return nil
	}
	if e, ok := byErrno[errno.Errno(err)]; ok {
		return e
	}
	return errors.New(errno.Errno(err), err.Error())
}

// FromHost translates an error returned by a host syscall wrapper in
// golang.org/x/sys/unix. Errors that do not carry an errno become EIO.
func FromHost(err error) error {
	if err == nil {
		return nil
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return ErrorFromUnix(ue)
	}
	return EIO
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != nil {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// ToErrno returns the errno carried by err. ok is false if err is neither an
// *errors.Error nor a unix.Errno.
func ToErrno(err error) (e errno.Errno, ok bool) {
	var le *errors.Error
	if goerrors.As(err, &le) {
		return le.Errno(), true
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return errno.Errno(ue), true
	}
	return 0, false
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	if e == nil {
		return false
	}
	if le, ok := err.(*errors.Error); ok {
		return le.Errno() == e.Errno()
	}
	return unix.Errno(e.Errno()) == err
}
