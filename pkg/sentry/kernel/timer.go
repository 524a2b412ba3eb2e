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
	"hostsim.dev/hostsim/pkg/sentry/ktime"
)

// Timer is a ktime.Timer driven by the scheduler's clock. Expirations are
// delivered from scheduler events, so they are ordered with every other
// event of the simulation.
type Timer struct {
	s        *Scheduler
	listener ktime.Listener

	// setting is the timer's configuration as of the last time it was
	// observed.
	setting ktime.Setting

	// ev is the pending expiration event, or nil if the timer is disabled.
	ev *Event

	destroyed bool
}

var _ ktime.Timer = (*Timer)(nil)

// NewTimer implements ktime.Clock.NewTimer.
func (s *Scheduler) NewTimer(l ktime.Listener) ktime.Timer {
	return &Timer{
		s:        s,
		listener: l,
	}
}

// advance brings the setting up to date with now and delivers any
// expirations that are due.
func (t *Timer) advance(now ktime.Time) ktime.Setting {
	s, exp := t.setting.At(now)
	t.setting = s
	if exp > 0 {
		t.listener.NotifyTimer(exp)
	}
	return s
}

// Get implements ktime.Timer.Get.
func (t *Timer) Get() (ktime.Time, ktime.Setting) {
	now := t.s.Now()
	return now, t.advance(now)
}

// Set implements ktime.Timer.Set.
func (t *Timer) Set(s ktime.Setting, f func()) (ktime.Time, ktime.Setting) {
	if t.destroyed {
		panic("Set on destroyed timer")
	}
	now := t.s.Now()
	old := t.advance(now)
	if f != nil {
		f()
	}
	t.setting = s
	t.arm()
	return now, old
}

// Stop disables the timer, keeping its period.
func (t *Timer) Stop() {
	t.Set(ktime.Setting{Period: t.setting.Period}, nil)
}

// Destroy implements ktime.Timer.Destroy.
func (t *Timer) Destroy() {
	t.s.Cancel(t.ev)
	t.ev = nil
	t.destroyed = true
}

func (t *Timer) arm() {
	t.s.Cancel(t.ev)
	t.ev = nil
	if t.setting.Enabled {
		t.ev = t.s.Schedule(t.setting.Next, t.fire)
	}
}

func (t *Timer) fire() {
	t.ev = nil
	t.advance(t.s.Now())
	if !t.destroyed {
		t.arm()
	}
}
