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

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/marshal/primitive"
	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/socket"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
	"hostsim.dev/hostsim/pkg/waiter"
)

// Socket implements the linux syscall socket(2).
func Socket(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	domain := int(args[0].Int())
	stype := args[1].Int()
	protocol := int(args[2].Int())

	// Check and initialize the flags.
	if stype&^(linux.SOCK_TYPE_MASK|linux.SOCK_NONBLOCK|linux.SOCK_CLOEXEC) != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	// Create the new socket.
	s, err := socket.New(t, domain, int(stype), protocol)
	if err != nil {
		return 0, nil, err
	}
	fd, err := t.NewFD(s, kernel.FDFlags{
		CloseOnExec: stype&linux.SOCK_CLOEXEC != 0,
	})
	if err != nil {
		s.Release()
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// getSocket returns the socket at fd. It returns EBADF if fd is not open
// and ENOTSOCK if it is not a socket.
func getSocket(t *kernel.Task, fd int32) (*vfs.FileDescription, socket.Socket, error) {
	file := t.GetFile(fd)
	if file == nil {
		return nil, nil, linuxerr.EBADF
	}
	s, err := socket.FromFile(file)
	if err != nil {
		return nil, nil, err
	}
	return file, s, nil
}

// copyInAddress reads a struct sockaddr_in of addrlen bytes from addr.
func copyInAddress(t *kernel.Task, addr hostarch.Addr, addrlen uint32) (netip.AddrPort, error) {
	if addrlen < linux.SizeOfSockAddrInet {
		return netip.AddrPort{}, linuxerr.EINVAL
	}
	var sa linux.SockAddrInet
	if _, err := t.CopyIn(addr, &sa); err != nil {
		return netip.AddrPort{}, err
	}
	if sa.Family != linux.AF_INET {
		return netip.AddrPort{}, linuxerr.EAFNOSUPPORT
	}
	return sa.AddrPort(), nil
}

// Bind implements the linux syscall bind(2).
func Bind(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	addrlen := args[2].Uint()

	_, s, err := getSocket(t, fd)
	if err != nil {
		return 0, nil, err
	}
	ap, err := copyInAddress(t, addr, addrlen)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, s.Bind(ap)
}

// SendTo implements the linux syscall sendto(2). Datagrams are delivered at
// the current simulated time, so sendto never blocks.
func SendTo(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	bufPtr := args[1].Pointer()
	bufLen := args[2].SizeT()
	namePtr := args[4].Pointer()
	nameLen := args[5].Uint()

	_, s, err := getSocket(t, fd)
	if err != nil {
		return 0, nil, err
	}
	if bufLen > uint(t.MemoryManager().Size()) {
		return 0, nil, linuxerr.EFAULT
	}
	buf := make([]byte, bufLen)
	if _, err := t.CopyInBytes(bufPtr, buf); err != nil {
		return 0, nil, err
	}

	var to netip.AddrPort
	if namePtr != 0 {
		if to, err = copyInAddress(t, namePtr, nameLen); err != nil {
			return 0, nil, err
		}
	}
	n, err := s.SendTo(buf, to)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// RecvFrom implements the linux syscall recvfrom(2). It blocks until a
// datagram is queued unless the socket is non-blocking or MSG_DONTWAIT is
// set.
func RecvFrom(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	bufPtr := args[1].Pointer()
	bufLen := args[2].SizeT()
	flags := args[3].Int()
	namePtr := args[4].Pointer()
	nameLenPtr := args[5].Pointer()

	file, s, err := getSocket(t, fd)
	if err != nil {
		return 0, nil, err
	}
	if bufLen > uint(t.MemoryManager().Size()) {
		return 0, nil, linuxerr.EFAULT
	}

	buf := make([]byte, bufLen)
	n, from, err := s.RecvFrom(buf)
	if err != nil {
		if linuxerr.Equals(linuxerr.ErrWouldBlock, err) && !file.IsNonBlocking() && flags&linux.MSG_DONTWAIT == 0 {
			return 0, t.BlockOn(file, waiter.ReadableEvents, -1), nil
		}
		return 0, nil, err
	}
	if _, err := t.CopyOutBytes(bufPtr, buf[:n]); err != nil {
		return 0, nil, err
	}

	if namePtr != 0 {
		nameLen, err := primitive.CopyUint32In(t, nameLenPtr)
		if err != nil {
			return 0, nil, err
		}
		if int32(nameLen) < 0 {
			return 0, nil, linuxerr.EINVAL
		}
		// The address is truncated to the caller's buffer; the full length
		// is reported back.
		sa := linux.SockAddrInetFrom(from)
		var raw [linux.SizeOfSockAddrInet]byte
		sa.MarshalBytes(raw[:])
		if _, err := t.CopyOutBytes(namePtr, raw[:min(nameLen, linux.SizeOfSockAddrInet)]); err != nil {
			return 0, nil, err
		}
		if _, err := primitive.CopyUint32Out(t, nameLenPtr, linux.SizeOfSockAddrInet); err != nil {
			return 0, nil, err
		}
	}
	return uintptr(n), nil, nil
}
