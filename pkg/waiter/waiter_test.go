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

package waiter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	got []EventMask
}

func (r *recorder) NotifyEvent(mask EventMask) {
	r.got = append(r.got, mask)
}

func TestEmptyQueue(t *testing.T) {
	var q Queue

	// Notify the zero-value of a queue.
	q.Notify(EventIn)

	// Register then unregister a waiter, then notify the queue.
	cnt := 0
	e := NewFunctionEntry(EventIn, func(EventMask) { cnt++ })
	q.EventRegister(&e)
	q.EventUnregister(&e)
	q.Notify(EventIn)
	if cnt != 0 {
		t.Errorf("Callback was called when it shouldn't have been")
	}
	if !q.IsEmpty() {
		t.Errorf("queue not empty after unregister")
	}
}

func TestMask(t *testing.T) {
	// Register a waiter.
	var q Queue
	var cnt int
	e := NewFunctionEntry(EventIn|EventErr, func(EventMask) { cnt++ })
	q.EventRegister(&e)

	// Notify with an overlapping mask.
	cnt = 0
	q.Notify(EventIn | EventOut)
	if cnt != 1 {
		t.Errorf("Callback wasn't called when it should have been")
	}

	// Notify with a subset mask.
	cnt = 0
	q.Notify(EventIn)
	if cnt != 1 {
		t.Errorf("Callback wasn't called when it should have been")
	}

	// Notify with a superset mask.
	cnt = 0
	q.Notify(EventIn | EventErr | EventOut)
	if cnt != 1 {
		t.Errorf("Callback wasn't called when it should have been")
	}

	// Notify with the exact same mask.
	cnt = 0
	q.Notify(EventIn | EventErr)
	if cnt != 1 {
		t.Errorf("Callback wasn't called when it should have been")
	}

	// Notify with a disjoint mask.
	cnt = 0
	q.Notify(EventOut | EventHUp)
	if cnt != 0 {
		t.Errorf("Callback was called when it shouldn't have been")
	}
}

func TestNotifyPassesIntersection(t *testing.T) {
	var q Queue
	r := &recorder{}
	var e Entry
	e.Init(r, EventIn|EventHUp)
	q.EventRegister(&e)

	q.Notify(EventIn | EventOut)
	q.Notify(EventHUp | EventIn)
	if diff := cmp.Diff([]EventMask{EventIn, EventIn | EventHUp}, r.got); diff != "" {
		t.Errorf("notified masks mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	var q Queue
	var cnt int
	const registrations = 100

	entries := make([]Entry, registrations)
	for i := range entries {
		entries[i] = NewFunctionEntry(EventIn, func(EventMask) { cnt++ })
		q.EventRegister(&entries[i])
	}
	if got := q.Len(); got != registrations {
		t.Fatalf("Len() = %d, want %d", got, registrations)
	}

	q.Notify(EventIn)
	if cnt != registrations {
		t.Errorf("cnt = %d, want %d", cnt, registrations)
	}

	for i := range entries {
		q.EventUnregister(&entries[i])
	}
	if !q.IsEmpty() {
		t.Errorf("queue not empty after unregistering every entry")
	}
}

func TestUnregisterDuringNotify(t *testing.T) {
	var q Queue
	var order []int
	var a, b, c Entry

	// a removes itself and c; c must not run.
	a = NewFunctionEntry(EventIn, func(EventMask) {
		order = append(order, 1)
		q.EventUnregister(&a)
		q.EventUnregister(&c)
	})
	b = NewFunctionEntry(EventIn, func(EventMask) { order = append(order, 2) })
	c = NewFunctionEntry(EventIn, func(EventMask) { order = append(order, 3) })
	q.EventRegister(&a)
	q.EventRegister(&b)
	q.EventRegister(&c)

	q.Notify(EventIn)
	if diff := cmp.Diff([]int{1, 2}, order); diff != "" {
		t.Errorf("notify order mismatch (-want +got):\n%s", diff)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestEvents(t *testing.T) {
	var q Queue
	e1 := NewFunctionEntry(EventIn, func(EventMask) {})
	e2 := NewFunctionEntry(EventOut|EventErr, func(EventMask) {})
	q.EventRegister(&e1)
	q.EventRegister(&e2)
	if got, want := q.Events(), EventIn|EventOut|EventErr; got != want {
		t.Errorf("Events() = %#x, want %#x", got, want)
	}
	q.EventUnregister(&e2)
	if got, want := q.Events(), EventIn; got != want {
		t.Errorf("Events() = %#x, want %#x", got, want)
	}
}

func TestEventMaskFromLinux(t *testing.T) {
	// EPOLLONESHOT and EPOLLET are control flags, not events.
	const oneshotET = 1<<30 | 1<<31
	if got, want := EventMaskFromLinux(0x1|0x4|oneshotET), EventIn|EventOut; got != want {
		t.Errorf("EventMaskFromLinux = %#x, want %#x", got, want)
	}
}
