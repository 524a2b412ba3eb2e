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
	"runtime"

	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
	"hostsim.dev/hostsim/pkg/sentry/mm"
)

// Guest is a guest program running on a task. The program runs on its own
// goroutine, but only while the scheduler waits for it: control passes back
// to the scheduler whenever the program blocks in a syscall or returns.
type Guest struct {
	t *Task

	// toGuest carries the result of a blocked syscall to the guest. It is
	// closed to terminate the guest.
	toGuest chan int64

	// toKernel is signalled when the guest gives control back.
	toKernel chan struct{}

	started bool
	exited  bool
	killed  bool

	// panicked holds the value the guest program panicked with.
	panicked any
}

// Start arranges for prog to run on t at the current simulated time.
//
// Preconditions: no guest program was started on t before.
func (t *Task) Start(prog func(g *Guest)) *Guest {
	if t.guest != nil {
		panic(fmt.Sprintf("task %v already runs a guest program", t))
	}
	g := &Guest{
		t:        t,
		toGuest:  make(chan int64),
		toKernel: make(chan struct{}),
	}
	t.guest = g
	t.k.sched.Schedule(t.k.sched.Now(), func() {
		if g.killed {
			return
		}
		g.started = true
		go g.run(prog)
		g.wait()
	})
	return g
}

func (g *Guest) run(prog func(g *Guest)) {
	defer func() {
		// recover returns nil when the goroutine exits through
		// runtime.Goexit.
		if r := recover(); r != nil {
			g.panicked = r
		}
		g.exited = true
		g.toKernel <- struct{}{}
	}()
	prog(g)
}

// wait blocks the scheduler until the guest gives control back.
func (g *Guest) wait() {
	<-g.toKernel
	if r := g.panicked; r != nil {
		g.panicked = nil
		panic(fmt.Sprintf("guest program on task %v panicked: %v", g.t, r))
	}
}

// complete delivers the result of a blocked syscall and runs the guest
// until it gives control back.
func (g *Guest) complete(ret int64) {
	g.toGuest <- ret
	g.wait()
}

// kill terminates a guest that is waiting for a syscall result.
func (g *Guest) kill() {
	if g.killed || g.exited {
		return
	}
	g.killed = true
	if !g.started {
		return
	}
	close(g.toGuest)
	<-g.toKernel
}

// Exited returns true once the guest program has returned.
func (g *Guest) Exited() bool {
	return g.exited
}

// Task returns the task the guest runs on.
func (g *Guest) Task() *Task {
	return g.t
}

// Memory returns the guest's address space.
func (g *Guest) Memory() *mm.MemoryManager {
	return g.t.mm
}

// Now returns the current simulated time.
func (g *Guest) Now() ktime.Time {
	return g.t.k.Now()
}

// Syscall issues a syscall and returns its result, which is a negated
// errno on failure. If the syscall blocks, the guest is suspended until the
// syscall completes.
func (g *Guest) Syscall(sysno uintptr, args ...uintptr) int64 {
	if g.killed {
		runtime.Goexit()
	}
	ret, blocked := g.t.Syscall(sysno, arch.Args(args...), g.complete)
	if !blocked {
		return ret
	}
	g.toKernel <- struct{}{}
	ret, ok := <-g.toGuest
	if !ok {
		runtime.Goexit()
	}
	return ret
}
