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
	"time"

	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/sentry/arch"
)

// SyscallControl is returned by syscall handlers that cannot complete
// immediately.
type SyscallControl struct {
	// block is true if the task must wait before the handler is invoked
	// again.
	block bool
}

// ctrlBlock is returned by BlockOn.
var ctrlBlock = &SyscallControl{block: true}

// syscallState is the state of an in-flight syscall.
type syscallState struct {
	sysno uintptr
	args  arch.SyscallArguments

	// resumed is true once the handler has been invoked again after
	// blocking.
	resumed bool

	// done receives the result of a syscall that blocked.
	done func(ret int64)

	// wait is the active suspension, if the call is blocked.
	wait *taskWait
}

// unsupported logs unknown syscalls.
var unsupported = log.BasicRateLimitedLogger(time.Minute)

// Syscall executes syscall sysno with args on t. If the handler completes,
// Syscall returns its result. Otherwise blocked is true, and done is called
// with the result from a later scheduler event.
//
// The result is the value returned to the guest: non-negative on success,
// or a negated errno.
//
// Preconditions: no syscall is in flight on t.
func (t *Task) Syscall(sysno uintptr, args arch.SyscallArguments, done func(ret int64)) (ret int64, blocked bool) {
	if t.call != nil {
		panic(fmt.Sprintf("task %v: syscall %d issued while %s is in flight", t, sysno, t.k.table.Name(t.call.sysno)))
	}
	t.call = &syscallState{
		sysno: sysno,
		args:  args,
		done:  done,
	}
	return t.invoke()
}

// Resumed returns true if the in-flight syscall has already blocked once and
// its handler is being invoked again.
func (t *Task) Resumed() bool {
	return t.call != nil && t.call.resumed
}

// Blocked returns true if t is waiting inside a syscall.
func (t *Task) Blocked() bool {
	return t.call != nil && t.call.wait != nil
}

// invoke runs the handler of the in-flight syscall once.
func (t *Task) invoke() (int64, bool) {
	st := t.call
	name := t.k.table.Name(st.sysno)
	sc, ok := t.k.table.Lookup(st.sysno)
	var (
		rv   uintptr
		ctrl *SyscallControl
		err  error
	)
	if ok {
		rv, ctrl, err = sc.Fn(t, st.args)
	} else {
		rv, err = t.missing(st.sysno, st.args)
	}
	if ctrl != nil && ctrl.block {
		if st.wait == nil {
			panic(fmt.Sprintf("%s returned a blocking control without blocking", name))
		}
		t.Debugf("%s(%v, %v, %v, %v) blocked", name, st.args[0], st.args[1], st.args[2], st.args[3])
		return 0, true
	}
	t.call = nil
	ret := t.result(name, rv, err)
	t.Debugf("%s(%v, %v, %v, %v) = %d", name, st.args[0], st.args[1], st.args[2], st.args[3], ret)
	return ret, false
}

func (t *Task) missing(sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	if t.k.table.Missing != nil {
		return t.k.table.Missing(t, sysno, args)
	}
	unsupported.Warningf("Unsupported syscall %d", sysno)
	return 0, linuxerr.ENOSYS
}

// result converts a handler's return values into the guest's return value.
func (t *Task) result(name string, rv uintptr, err error) int64 {
	if err == nil {
		return int64(rv)
	}
	e, ok := linuxerr.ToErrno(err)
	if !ok {
		t.Warningf("%s: error %v has no errno, returning EIO", name, err)
		return -int64(errno.EIO)
	}
	return -int64(e)
}

// resume invokes the handler of a blocked syscall again.
func (t *Task) resume() {
	st := t.call
	if st == nil {
		// Abandoned after the wake was scheduled.
		return
	}
	st.wait = nil
	st.resumed = true
	ret, blocked := t.invoke()
	if blocked {
		return
	}
	if st.done != nil {
		st.done(ret)
	}
}

// abandon drops the in-flight syscall without completing it and terminates
// the guest program, if any.
func (t *Task) abandon() {
	if t.call != nil {
		if tw := t.call.wait; tw != nil {
			tw.cancel()
		}
		t.call = nil
	}
	if t.guest != nil {
		t.guest.kill()
	}
}
