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

// Package kernel provides an emulation of the Linux kernel for simulated
// hosts.
//
// A Kernel owns a discrete-event Scheduler, the simulated network every host
// is attached to, and the syscall table guest programs call into. Each Host
// has its own descriptor table, and runs Tasks, each with its own address
// space.
//
// Lock order: there are no locks. Exactly one goroutine runs kernel code at
// any time: either the goroutine driving the Scheduler, or a guest goroutine
// that the scheduler has handed control to and is waiting for.
package kernel

import (
	"fmt"
	"net/netip"
	"time"

	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/sentry/inet"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
)

// Config holds the tunables of a Kernel.
type Config struct {
	// HostPollInterval is the simulated time between polls of the host
	// epoll of an instance a task is blocked on. Host descriptors have no
	// way to notify the simulation, so this bounds the latency at which
	// host readiness is observed.
	HostPollInterval time.Duration

	// MemorySize is the size of each task's address space.
	MemorySize int

	// RecvQueueLen is the number of datagrams a socket buffers before
	// dropping.
	RecvQueueLen int

	// FDLimit is the number of descriptors a host may have open.
	FDLimit int
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		HostPollInterval: time.Millisecond,
		MemorySize:       1 << 20,
		RecvQueueLen:     1024,
		FDLimit:          1024,
	}
}

// Kernel represents an emulated Linux kernel shared by simulated hosts.
type Kernel struct {
	cfg   Config
	sched *Scheduler
	table *SyscallTable
	stack *inet.Stack

	hosts []*Host

	// tasks holds every task ever created, in creation order.
	tasks []*Task

	// nextTID is the ID of the next task.
	nextTID int32

	shutdown bool
}

// New returns a kernel serving syscalls from table.
func New(cfg Config, table *SyscallTable) *Kernel {
	def := DefaultConfig()
	if cfg.HostPollInterval <= 0 {
		cfg.HostPollInterval = def.HostPollInterval
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = def.MemorySize
	}
	if cfg.RecvQueueLen <= 0 {
		cfg.RecvQueueLen = def.RecvQueueLen
	}
	if cfg.FDLimit <= 0 {
		cfg.FDLimit = def.FDLimit
	}
	return &Kernel{
		cfg:     cfg,
		sched:   NewScheduler(),
		table:   table,
		stack:   inet.NewStack(),
		nextTID: 1,
	}
}

// Config returns the kernel's configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Scheduler returns the kernel's event loop.
func (k *Kernel) Scheduler() *Scheduler {
	return k.sched
}

// Now returns the current simulated time.
func (k *Kernel) Now() ktime.Time {
	return k.sched.Now()
}

// Stack returns the network shared by all hosts.
func (k *Kernel) Stack() *inet.Stack {
	return k.stack
}

// SyscallTable returns the table syscalls are dispatched through.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.table
}

// Hosts returns the hosts of k in creation order.
func (k *Kernel) Hosts() []*Host {
	return k.hosts
}

// NewHost adds a simulated host with the given name and IPv4 address.
func (k *Kernel) NewHost(name string, addr netip.Addr) (*Host, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("host %q: address %v is not IPv4", name, addr)
	}
	for _, h := range k.hosts {
		if h.name == name {
			return nil, fmt.Errorf("duplicate host name %q", name)
		}
		if h.addr == addr {
			return nil, fmt.Errorf("host %q: address %v already used by %q", name, addr, h.name)
		}
	}
	h := &Host{
		k:       k,
		name:    name,
		addr:    addr,
		fdTable: NewFDTable(k.cfg.FDLimit),
	}
	k.hosts = append(k.hosts, h)
	log.Debugf("Added host %s (%v)", name, addr)
	return h, nil
}

// Run runs the simulation until no events remain.
func (k *Kernel) Run() {
	k.sched.Run()
}

// RunUntil runs the simulation up to and including time t.
func (k *Kernel) RunUntil(t ktime.Time) {
	k.sched.RunUntil(t)
}

// Shutdown abandons every suspended syscall, terminates every guest
// program that has not exited and closes every descriptor of every host.
// The Kernel may not be used afterwards.
func (k *Kernel) Shutdown() {
	if k.shutdown {
		return
	}
	k.shutdown = true
	for _, t := range k.tasks {
		t.abandon()
	}
	for _, h := range k.hosts {
		h.fdTable.RemoveAll()
	}
	log.Debugf("Kernel shut down at %v with %d events pending", k.sched.Now(), k.sched.Pending())
}
