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
	"net/netip"

	"hostsim.dev/hostsim/pkg/sentry/mm"
)

// Host is a simulated machine: an IPv4 address on the kernel's network and
// a descriptor table shared by its tasks.
type Host struct {
	k       *Kernel
	name    string
	addr    netip.Addr
	fdTable *FDTable
	tasks   []*Task
}

// Kernel returns the kernel h belongs to.
func (h *Host) Kernel() *Kernel {
	return h.k
}

// Name returns the host name.
func (h *Host) Name() string {
	return h.name
}

// Addr returns the host's address.
func (h *Host) Addr() netip.Addr {
	return h.addr
}

// FDTable returns the host's descriptor table.
func (h *Host) FDTable() *FDTable {
	return h.fdTable
}

// Tasks returns the tasks of h in creation order.
func (h *Host) Tasks() []*Task {
	return h.tasks
}

// NewTask creates a task on h with a fresh address space.
func (h *Host) NewTask() *Task {
	k := h.k
	t := &Task{
		k:    k,
		host: h,
		tid:  k.nextTID,
		mm:   mm.NewMemoryManager(k.cfg.MemorySize),
	}
	k.nextTID++
	k.tasks = append(k.tasks, t)
	h.tasks = append(h.tasks, t)
	return t
}
