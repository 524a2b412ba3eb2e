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
	"time"

	"hostsim.dev/hostsim/pkg/waiter"
)

// HostPoller is implemented by waitables whose readiness partly depends on
// host descriptors. Host descriptors cannot notify the simulation, so a task
// blocked on a HostPoller polls it every Config.HostPollInterval.
type HostPoller interface {
	// HasHostInterests returns true if any host descriptor is watched.
	HasHostInterests() bool

	// PollHost refreshes host readiness and notifies waiters if anything
	// became ready.
	PollHost()
}

// taskWait is a suspension of a task's in-flight syscall.
type taskWait struct {
	t     *Task
	w     waiter.Waitable
	entry waiter.Entry

	// registered is true if entry was registered with w.
	registered bool

	// timer fires when the timeout expires.
	timer *Event

	// poll is the next host poll, if w is a HostPoller.
	poll *Event

	// woken is set by the first wake; later wakes are no-ops.
	woken bool
}

// NotifyEvent implements waiter.EventListener.NotifyEvent.
func (tw *taskWait) NotifyEvent(waiter.EventMask) {
	tw.wake()
}

// BlockOn suspends the in-flight syscall until w signals an event in mask,
// or until timeout elapses. A negative timeout never expires. The handler
// must return the result of BlockOn as its control; it is invoked again
// from a scheduler event after the wake, with Resumed returning true.
//
// Preconditions: called from a syscall handler, at most once per
// invocation.
func (t *Task) BlockOn(w waiter.Waitable, mask waiter.EventMask, timeout time.Duration) *SyscallControl {
	st := t.call
	if st == nil {
		panic("BlockOn called outside of a syscall")
	}
	if st.wait != nil {
		panic("BlockOn called twice in one invocation")
	}
	tw := &taskWait{t: t, w: w}
	tw.entry.Init(tw, mask)
	st.wait = tw

	if err := w.EventRegister(&tw.entry); err != nil {
		// Nothing will ever notify us. Let the handler observe the
		// failure itself.
		t.Debugf("EventRegister: %v", err)
		tw.wake()
		return ctrlBlock
	}
	tw.registered = true
	if timeout >= 0 {
		tw.timer = t.k.sched.AfterFunc(timeout, tw.wake)
	}
	if hp, ok := w.(HostPoller); ok && hp.HasHostInterests() {
		tw.schedulePoll(hp)
	}
	// Readiness may have changed between the handler's check and
	// registration.
	if w.Readiness(mask) != 0 {
		tw.wake()
	}
	return ctrlBlock
}

func (tw *taskWait) schedulePoll(hp HostPoller) {
	tw.poll = tw.t.k.sched.AfterFunc(tw.t.k.cfg.HostPollInterval, func() {
		tw.poll = nil
		if tw.woken {
			return
		}
		hp.PollHost()
		if !tw.woken {
			tw.schedulePoll(hp)
		}
	})
}

// cancel tears the suspension down without resuming the task.
func (tw *taskWait) cancel() {
	if tw.woken {
		return
	}
	tw.woken = true
	if tw.registered {
		tw.w.EventUnregister(&tw.entry)
	}
	sched := tw.t.k.sched
	sched.Cancel(tw.timer)
	sched.Cancel(tw.poll)
}

// wake schedules the resumption of the suspended syscall at the current
// time. The resumption runs after every event already scheduled for now.
func (tw *taskWait) wake() {
	if tw.woken {
		return
	}
	tw.cancel()
	tw.t.k.sched.Schedule(tw.t.k.sched.Now(), tw.t.resume)
}
