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

// Package waiter provides the implementation of a wait queue, where waiters can
// be enqueued to be notified when an event of interest happens.
//
// Becoming readable and/or writable are examples of events. A syscall that
// cannot complete registers an entry on the object it is waiting for and
// returns control to the scheduler; whoever changes the object's state calls
// Notify so that waiters are resumed:
//
//	func (o *object) deliver(...) {
//		wasEmpty := o.empty()
//		[...]
//		if wasEmpty {
//			o.queue.Notify(waiter.ReadableEvents)
//		}
//	}
//
// All kernel state, wait queues included, is owned by the simulation's
// scheduler goroutine. Queue therefore carries no lock.
package waiter

// EventMask represents io events as used in the poll() syscall.
type EventMask uint32

// Events that waiters can wait on. The meaning is the same as those in the
// poll() syscall.
const (
	EventIn     EventMask = 0x01   // POLLIN
	EventPri    EventMask = 0x02   // POLLPRI
	EventOut    EventMask = 0x04   // POLLOUT
	EventErr    EventMask = 0x08   // POLLERR
	EventHUp    EventMask = 0x10   // POLLHUP
	EventRdNorm EventMask = 0x0040 // POLLRDNORM
	EventWrNorm EventMask = 0x0100 // POLLWRNORM
	EventRdHUp  EventMask = 0x2000 // POLLRDHUP

	allEvents      EventMask = 0x1f | EventRdNorm | EventWrNorm | EventRdHUp
	ReadableEvents EventMask = EventIn | EventRdNorm
	WritableEvents EventMask = EventOut | EventWrNorm
)

// EventMaskFromLinux returns an EventMask representing the supported events
// from the Linux events e, which is in the format used by poll(2).
func EventMaskFromLinux(e uint32) EventMask {
	// Our flag definitions are currently identical to Linux.
	return EventMask(e) & allEvents
}

// ToLinux returns e in the format used by Linux poll(2).
func (e EventMask) ToLinux() uint32 {
	// Our flag definitions are currently identical to Linux.
	return uint32(e)
}

// Waitable contains the methods that need to be implemented by waitable
// objects.
type Waitable interface {
	// Readiness returns what the object is currently ready for. If it's
	// not ready for a desired purpose, the caller may use EventRegister and
	// EventUnregister to get notifications once the object becomes ready.
	//
	// Implementations should allow for events like EventHUp and EventErr
	// to be returned regardless of whether they are in the input EventMask.
	Readiness(mask EventMask) EventMask

	// EventRegister registers the given waiter entry to receive
	// notifications when an event occurs that makes the object ready for
	// at least one of the events in the entry's mask.
	EventRegister(e *Entry) error

	// EventUnregister unregisters a waiter entry previously registered with
	// EventRegister().
	EventUnregister(e *Entry)
}

// EventListener provides a notify callback.
type EventListener interface {
	// NotifyEvent is the function to be called when the waiter entry is
	// notified. It is responsible for doing whatever is needed to wake up
	// the waiter.
	//
	// The callback may unregister any entry from the queue that is
	// notifying it, including its own.
	NotifyEvent(mask EventMask)
}

// Entry represents a waiter that can be add to the a wait queue. It can
// only be in one queue at a time, and is added "intrusively" to the queue with
// no extra memory allocations.
type Entry struct {
	next  *Entry
	prev  *Entry
	queue *Queue

	// mask should be immutable once queued.
	mask EventMask

	// eventListener is invoked when a matching event is notified.
	eventListener EventListener
}

// Init initializes the Entry.
//
// This must only be called when unregistered.
func (e *Entry) Init(eventListener EventListener, mask EventMask) {
	e.eventListener = eventListener
	e.mask = mask
}

// Mask returns the entry mask.
func (e *Entry) Mask() EventMask {
	return e.mask
}

// Registered returns whether the entry is currently on a queue.
func (e *Entry) Registered() bool {
	return e.queue != nil
}

// NotifyEvent notifies the event listener.
//
// Mask should be the full set of active events.
func (e *Entry) NotifyEvent(mask EventMask) {
	if m := mask & e.mask; m != 0 {
		e.eventListener.NotifyEvent(m)
	}
}

// functionNotifier adapts a plain function to EventListener.
type functionNotifier func(EventMask)

// NotifyEvent implements EventListener.NotifyEvent.
func (f functionNotifier) NotifyEvent(mask EventMask) {
	f(mask)
}

// NewFunctionEntry returns a new Entry that calls fn when notified with any
// event in mask.
func NewFunctionEntry(mask EventMask, fn func(EventMask)) (e Entry) {
	e.Init(functionNotifier(fn), mask)
	return e
}

// Queue represents the wait queue where waiters can be added and
// notifiers can notify them when events happen.
//
// The zero value for waiter.Queue is an empty queue ready for use.
type Queue struct {
	head *Entry
	tail *Entry
}

// EventRegister adds a waiter to the wait queue.
func (q *Queue) EventRegister(e *Entry) {
	if e.queue != nil {
		panic("waiter: entry registered twice")
	}
	e.queue = q
	e.next = nil
	e.prev = q.tail
	if q.tail != nil {
		q.tail.next = e
	} else {
		q.head = e
	}
	q.tail = e
}

// EventUnregister removes the given waiter entry from the wait queue. It is a
// no-op for entries that are not on q.
func (q *Queue) EventUnregister(e *Entry) {
	if e.queue != q {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
	e.next, e.prev, e.queue = nil, nil, nil
}

// Notify notifies all waiters in the queue whose masks have at least one bit
// in common with the notification mask.
//
// Listeners may register or unregister entries while being notified. Entries
// registered during Notify are not notified by it; entries unregistered
// before their turn are skipped.
func (q *Queue) Notify(mask EventMask) {
	var pending []*Entry
	for e := q.head; e != nil; e = e.next {
		if e.mask&mask != 0 {
			pending = append(pending, e)
		}
	}
	for _, e := range pending {
		if e.queue == q {
			e.NotifyEvent(mask)
		}
	}
}

// Events returns the set of events being waited on. It is the union of the
// masks of all registered entries.
func (q *Queue) Events() EventMask {
	var ret EventMask
	for e := q.head; e != nil; e = e.next {
		ret |= e.mask
	}
	return ret
}

// IsEmpty returns if the wait queue is empty or not.
func (q *Queue) IsEmpty() bool {
	return q.head == nil
}

// Len returns the number of registered entries.
func (q *Queue) Len() int {
	n := 0
	for e := q.head; e != nil; e = e.next {
		n++
	}
	return n
}

// AlwaysReady implements the Waitable interface but is always ready. Embedding
// this struct into another struct makes it implement the boilerplate empty
// functions automatically.
type AlwaysReady struct {
}

// Readiness always returns the input mask because this object is always ready.
func (*AlwaysReady) Readiness(mask EventMask) EventMask {
	return mask
}

// EventRegister doesn't do anything because this object doesn't need to issue
// notifications because its readiness never changes.
func (*AlwaysReady) EventRegister(*Entry) error {
	return nil
}

// EventUnregister doesn't do anything because this object doesn't need to issue
// notifications because its readiness never changes.
func (*AlwaysReady) EventUnregister(e *Entry) {
}
