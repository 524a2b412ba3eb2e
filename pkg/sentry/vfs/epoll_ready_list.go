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

package vfs

// readyList is an intrusive FIFO of epollInterests with an O(1) length.
// Entries can be added to or removed from the list in O(1) time and with no
// additional memory allocations.
//
// The zero value for readyList is an empty list ready to use.
type readyList struct {
	head *epollInterest
	tail *epollInterest
	len  int
}

// readyEntry links an epollInterest into a readyList.
type readyEntry struct {
	next *epollInterest
	prev *epollInterest
}

// Next returns the entry that follows e in the list.
func (e *readyEntry) Next() *epollInterest {
	return e.next
}

// Empty returns true iff the list is empty.
func (l *readyList) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
func (l *readyList) Front() *epollInterest {
	return l.head
}

// Len returns the number of elements in the list.
func (l *readyList) Len() int {
	return l.len
}

// PushBack inserts the element e at the back of list l.
func (l *readyList) PushBack(e *epollInterest) {
	e.readyEntry.next = nil
	e.readyEntry.prev = l.tail
	if l.tail != nil {
		l.tail.readyEntry.next = e
	} else {
		l.head = e
	}
	l.tail = e
	l.len++
}

// PushBackList inserts list m at the end of list l, emptying m.
func (l *readyList) PushBackList(m *readyList) {
	if l.head == nil {
		l.head = m.head
		l.tail = m.tail
	} else if m.head != nil {
		l.tail.readyEntry.next = m.head
		m.head.readyEntry.prev = l.tail
		l.tail = m.tail
	}
	l.len += m.len
	m.head = nil
	m.tail = nil
	m.len = 0
}

// Remove removes e from l.
func (l *readyList) Remove(e *epollInterest) {
	prev := e.readyEntry.prev
	next := e.readyEntry.next

	if prev != nil {
		prev.readyEntry.next = next
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		next.readyEntry.prev = prev
	} else if l.tail == e {
		l.tail = prev
	}

	e.readyEntry.next = nil
	e.readyEntry.prev = nil
	l.len--
}
