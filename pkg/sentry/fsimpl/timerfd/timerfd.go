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

// Package timerfd implements timer fds.
package timerfd

import (
	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
	"hostsim.dev/hostsim/pkg/waiter"
)

// TimerFileDescription implements vfs.FileDescriptionImpl for timer fds. It also
// implements ktime.Listener.
type TimerFileDescription struct {
	vfsfd vfs.FileDescription
	vfs.FileDescriptionDefaultImpl

	events waiter.Queue
	clock  ktime.Clock
	timer  ktime.Timer

	// val is the number of timer expirations since the last successful
	// call to Read, or SetTime.
	val uint64
}

var _ vfs.FileDescriptionImpl = (*TimerFileDescription)(nil)
var _ ktime.Listener = (*TimerFileDescription)(nil)

// New returns a new timer fd. flags may contain linux.TFD_NONBLOCK.
func New(clock ktime.Clock, flags uint32) *vfs.FileDescription {
	tfd := &TimerFileDescription{clock: clock}
	tfd.timer = clock.NewTimer(tfd)
	tfd.vfsfd.Init(tfd, vfs.FileTypeTimer, flags&linux.TFD_NONBLOCK)
	return &tfd.vfsfd
}

// Read implements vfs.FileDescriptionImpl.Read.
func (tfd *TimerFileDescription) Read(dst []byte) (int, error) {
	const sizeofUint64 = 8
	if len(dst) < sizeofUint64 {
		return 0, linuxerr.EINVAL
	}
	// Bring the count up to date with the clock before consuming it.
	tfd.timer.Get()
	if val := tfd.val; val != 0 {
		tfd.val = 0
		hostarch.ByteOrder.PutUint64(dst, val)
		return sizeofUint64, nil
	}
	return 0, linuxerr.ErrWouldBlock
}

// Clock returns the timer fd's Clock.
func (tfd *TimerFileDescription) Clock() ktime.Clock {
	return tfd.clock
}

// GetTime returns the associated Timer's setting and the time at which it was
// observed.
func (tfd *TimerFileDescription) GetTime() (ktime.Time, ktime.Setting) {
	return tfd.timer.Get()
}

// SetTime changes the associated Timer's setting, resets the number of
// expirations to 0, and returns the previous setting and the time at which
// it was observed.
func (tfd *TimerFileDescription) SetTime(s ktime.Setting) (ktime.Time, ktime.Setting) {
	return tfd.timer.Set(s, func() { tfd.val = 0 })
}

// Expirations returns the number of unread expirations.
func (tfd *TimerFileDescription) Expirations() uint64 {
	return tfd.val
}

// Readiness implements waiter.Waitable.Readiness.
func (tfd *TimerFileDescription) Readiness(mask waiter.EventMask) waiter.EventMask {
	var ready waiter.EventMask
	if tfd.val != 0 {
		ready |= waiter.ReadableEvents
	}
	return mask & ready
}

// EventRegister implements waiter.Waitable.EventRegister.
func (tfd *TimerFileDescription) EventRegister(e *waiter.Entry) error {
	tfd.events.EventRegister(e)
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (tfd *TimerFileDescription) EventUnregister(e *waiter.Entry) {
	tfd.events.EventUnregister(e)
}

// Release implements vfs.FileDescriptionImpl.Release.
func (tfd *TimerFileDescription) Release() {
	tfd.timer.Destroy()
}

// NotifyTimer implements ktime.Listener.NotifyTimer.
func (tfd *TimerFileDescription) NotifyTimer(exp uint64) {
	tfd.val += exp
	tfd.events.Notify(waiter.ReadableEvents)
}
