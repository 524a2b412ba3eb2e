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

	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/marshal"
	"hostsim.dev/hostsim/pkg/sentry/mm"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
)

// Task represents a thread of execution on a simulated host.
//
// A task executes at most one syscall at a time. A syscall that blocks stays
// in flight until its handler completes on a later invocation.
type Task struct {
	k    *Kernel
	host *Host
	tid  int32

	// mm is the task's address space.
	mm *mm.MemoryManager

	// call is the in-flight syscall, or nil.
	call *syscallState

	// guest is the guest program running on the task, if any.
	guest *Guest
}

var _ marshal.CopyContext = (*Task)(nil)

// Kernel returns the kernel t runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Host returns the host t runs on.
func (t *Task) Host() *Host {
	return t.host
}

// ThreadID returns t's thread ID.
func (t *Task) ThreadID() int32 {
	return t.tid
}

// MemoryManager returns t's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns the descriptor table of t's host.
func (t *Task) FDTable() *FDTable {
	return t.host.fdTable
}

// NewFD installs file in the descriptor table of t's host.
func (t *Task) NewFD(file *vfs.FileDescription, flags FDFlags) (int32, error) {
	return t.host.fdTable.NewFD(file, flags)
}

// GetFile returns the simulated file at fd, or nil.
func (t *Task) GetFile(fd int32) *vfs.FileDescription {
	file, _ := t.host.fdTable.Get(fd)
	return file
}

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.mm.CopyOut(addr, src)
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return t.mm.CopyIn(addr, dst)
}

// CopyIn copies a guest structure at addr into m.
func (t *Task) CopyIn(addr hostarch.Addr, m marshal.Marshallable) (int, error) {
	return marshal.CopyIn(t, addr, m)
}

// CopyOut copies m to guest memory at addr.
func (t *Task) CopyOut(addr hostarch.Addr, m marshal.Marshallable) (int, error) {
	return marshal.CopyOut(t, addr, m)
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("%s:%d", t.host.name, t.tid)
}

// Debugf creates a debug log line with the task and simulated time.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.DebugfAtDepth(1, "[%v @%v] "+format, append([]any{t, t.k.Now()}, v...)...)
	}
}

// Infof logs at the INFO level, with the task and simulated time.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.InfofAtDepth(1, "[%v @%v] "+format, append([]any{t, t.k.Now()}, v...)...)
	}
}

// Warningf logs at the WARNING level, with the task and simulated time.
func (t *Task) Warningf(format string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.WarningfAtDepth(1, "[%v @%v] "+format, append([]any{t, t.k.Now()}, v...)...)
	}
}
