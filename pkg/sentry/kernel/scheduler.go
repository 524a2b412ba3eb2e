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

	"github.com/google/btree"

	"hostsim.dev/hostsim/pkg/sentry/ktime"
)

// An Event is a callback scheduled to run at a simulated time.
type Event struct {
	when ktime.Time

	// seq breaks ties between events scheduled for the same time, in
	// scheduling order.
	seq uint64

	fn func()

	// queued is true while the event is in the scheduler's queue.
	queued bool
}

// When returns the time at which e runs.
func (e *Event) When() ktime.Time {
	return e.when
}

func eventLess(a, b *Event) bool {
	if a.when != b.when {
		return a.when.Before(b.when)
	}
	return a.seq < b.seq
}

// Scheduler is a deterministic discrete-event loop. Events run one at a time,
// ordered by time and then by the order in which they were scheduled. Time
// only advances between events.
//
// Scheduler is not safe for concurrent use: every caller must hold the
// simulation's single thread of control.
type Scheduler struct {
	now    ktime.Time
	seq    uint64
	events *btree.BTreeG[*Event]

	// running is true inside Run and RunUntil.
	running bool

	// stopped is set by Stop and cleared when Run returns.
	stopped bool
}

var _ ktime.Clock = (*Scheduler)(nil)

// NewScheduler returns a scheduler whose clock reads ktime.ZeroTime.
func NewScheduler() *Scheduler {
	return &Scheduler{
		events: btree.NewG(32, eventLess),
	}
}

// Now implements ktime.Clock.Now.
func (s *Scheduler) Now() ktime.Time {
	return s.now
}

// Schedule arranges for fn to run at time at. Times in the past are clamped
// to now, so fn runs after every event already scheduled for now.
func (s *Scheduler) Schedule(at ktime.Time, fn func()) *Event {
	if at.Before(s.now) {
		at = s.now
	}
	s.seq++
	e := &Event{
		when:   at,
		seq:    s.seq,
		fn:     fn,
		queued: true,
	}
	s.events.ReplaceOrInsert(e)
	return e
}

// AfterFunc arranges for fn to run d after now.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) *Event {
	return s.Schedule(s.now.Add(d), fn)
}

// Cancel removes e from the queue. It returns false if e already ran or was
// already cancelled.
func (s *Scheduler) Cancel(e *Event) bool {
	if e == nil || !e.queued {
		return false
	}
	if _, ok := s.events.Delete(e); !ok {
		panic(fmt.Sprintf("queued event at %v (seq %d) missing from queue", e.when, e.seq))
	}
	e.queued = false
	return true
}

// Pending returns the number of queued events.
func (s *Scheduler) Pending() int {
	return s.events.Len()
}

// Next returns the time of the earliest queued event.
func (s *Scheduler) Next() (ktime.Time, bool) {
	e, ok := s.events.Min()
	if !ok {
		return ktime.Time{}, false
	}
	return e.when, true
}

// Step runs the earliest queued event. It returns false if there was none.
func (s *Scheduler) Step() bool {
	e, ok := s.events.DeleteMin()
	if !ok {
		return false
	}
	e.queued = false
	s.now = e.when
	e.fn()
	return true
}

// Run runs events until the queue is empty or Stop is called.
func (s *Scheduler) Run() {
	s.running = true
	defer s.finish()
	for !s.stopped && s.Step() {
	}
}

// RunUntil runs every event scheduled at or before t, then advances the
// clock to t. It returns early if Stop is called.
func (s *Scheduler) RunUntil(t ktime.Time) {
	s.running = true
	defer s.finish()
	for !s.stopped {
		next, ok := s.Next()
		if !ok || next.After(t) {
			break
		}
		s.Step()
	}
	if !s.stopped && s.now.Before(t) {
		s.now = t
	}
}

// Stop makes the running Run or RunUntil return after the current event. It
// has no effect outside of them.
func (s *Scheduler) Stop() {
	if s.running {
		s.stopped = true
	}
}

func (s *Scheduler) finish() {
	s.running = false
	s.stopped = false
}
