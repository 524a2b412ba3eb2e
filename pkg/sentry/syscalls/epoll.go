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

package syscalls

import (
	"fmt"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
)

// CreateEpoll implements the epoll_create(2) linux syscall.
func CreateEpoll(t *kernel.Task, closeOnExec bool) (int32, error) {
	file := vfs.NewEpollInstanceFD(t.FDTable().HostWatchers())
	flags := kernel.FDFlags{
		CloseOnExec: closeOnExec,
	}
	fd, err := t.NewFD(file, flags)
	if err != nil {
		file.Release()
		return -1, err
	}
	return fd, nil
}

// GetEpoll returns the epoll instance at epfd. It returns EBADF if epfd is
// not open and EINVAL if it is not an epoll instance.
func GetEpoll(t *kernel.Task, epfd int32) (*vfs.EpollInstance, error) {
	file, err := t.FDTable().Validate(epfd, vfs.FileTypeEpoll)
	if err != nil {
		return nil, err
	}
	return file.Impl().(*vfs.EpollInstance), nil
}

// epollTarget resolves the target of an epoll_ctl(2). A descriptor that is
// not a simulated file is taken to be a host descriptor: either one passed
// through to the guest, or a raw host descriptor number the guest obtained
// outside of the simulation.
func epollTarget(t *kernel.Task, fd int32) (file *vfs.FileDescription, hostFD int32) {
	fdTable := t.FDTable()
	if file, _ := fdTable.Get(fd); file != nil {
		return file, -1
	}
	if hostFD, ok := fdTable.GetHostFD(fd); ok {
		return nil, hostFD
	}
	return nil, fd
}

// AddEpoll implements the epoll_ctl(2) linux syscall when op is EPOLL_CTL_ADD.
func AddEpoll(t *kernel.Task, ep *vfs.EpollInstance, fd int32, event linux.EpollEvent) error {
	file, hostFD := epollTarget(t, fd)
	if file == nil {
		return ep.AddHostInterest(hostFD, event)
	}
	return ep.AddInterest(file, fd, event)
}

// UpdateEpoll implements the epoll_ctl(2) linux syscall when op is EPOLL_CTL_MOD.
func UpdateEpoll(t *kernel.Task, ep *vfs.EpollInstance, fd int32, event linux.EpollEvent) error {
	file, hostFD := epollTarget(t, fd)
	if file == nil {
		return ep.ModifyHostInterest(hostFD, event)
	}
	return ep.ModifyInterest(file, fd, event)
}

// RemoveEpoll implements the epoll_ctl(2) linux syscall when op is EPOLL_CTL_DEL.
func RemoveEpoll(t *kernel.Task, ep *vfs.EpollInstance, fd int32) error {
	file, hostFD := epollTarget(t, fd)
	if file == nil {
		return ep.DeleteHostInterest(hostFD)
	}
	return ep.DeleteInterest(file, fd)
}

// ReadEpoll refreshes the readiness of ep and extracts exactly
// min(max, ready) events. It returns nil if nothing is ready.
func ReadEpoll(ep *vfs.EpollInstance, max int) []linux.EpollEvent {
	ready := ep.NumReady()
	if ready == 0 {
		return nil
	}
	n := min(max, ready)
	events := make([]linux.EpollEvent, n)
	if got := ep.ReadEvents(events); got != n {
		panic(fmt.Sprintf("epoll reported %d ready events but only %d could be read", n, got))
	}
	return events
}
