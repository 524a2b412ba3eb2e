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

import (
	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/waiter"
	"hostsim.dev/hostsim/pkg/waiter/fdnotifier"
)

// epollMaxNests is the deepest chain of epoll instances watching one another,
// as Linux's EP_MAX_NESTS.
const epollMaxNests = 4

// edgeTriggerWarning reports, once per run, that EPOLLET is downgraded.
var edgeTriggerWarning = log.WarnOnce()

// EpollInstance represents an epoll instance, as described by epoll(7).
type EpollInstance struct {
	vfsfd FileDescription
	FileDescriptionDefaultImpl

	// q holds waiters on this EpollInstance.
	q waiter.Queue

	// interests is the set of file descriptors that are registered with the
	// EpollInstance for monitoring.
	interests map[epollInterestKey]*epollInterest

	// ready contains epollInterests that may be ready. Entries whose
	// condition turns out to be false are dropped when next inspected.
	//
	// Invariant: every entry of ready is in interests.
	ready readyList

	// host is the private host epoll instance backing interests in host
	// descriptors. It is created by the first such interest.
	host *fdnotifier.HostEpoll

	// hostInterests is the number of entries in interests that refer to
	// host descriptors.
	hostInterests int

	// watchers indexes host-fd interests so that closing a pass-through
	// descriptor scrubs them. It may be nil.
	watchers *HostWatchers
}

// epollInterestKey identifies a watched target. Exactly one of the two forms
// is used: a simulated file with the descriptor number it was added under
// (file != nil), or a raw host descriptor (file == nil).
type epollInterestKey struct {
	file   *FileDescription
	num    int32
	hostFD int32
}

// isHost returns whether the key names a host descriptor.
func (k epollInterestKey) isHost() bool {
	return k.file == nil
}

// epollInterest represents an EpollInstance's interest in a file descriptor.
type epollInterest struct {
	epoll *EpollInstance
	key   epollInterestKey

	// waiter is registered with key.file for simulated targets.
	waiter waiter.Entry

	// events is the event word passed to epoll_ctl, control flags included.
	events uint32

	// mask is the set of readiness events reported for this interest.
	// EventErr and EventHUp are always included.
	mask waiter.EventMask

	userData uint64

	// disabled is set after an EPOLLONESHOT interest is reported, until
	// EPOLL_CTL_MOD rearms it.
	disabled bool

	// hostReady is the readiness of a host target at the last host poll.
	hostReady waiter.EventMask

	// ready is true if this interest is in epoll.ready.
	ready bool
	readyEntry
}

// NewEpollInstanceFD returns a FileDescription representing a new epoll
// instance. watchers, if not nil, is told about every host descriptor the
// instance watches.
func NewEpollInstanceFD(watchers *HostWatchers) *FileDescription {
	ep := &EpollInstance{
		interests: make(map[epollInterestKey]*epollInterest),
		watchers:  watchers,
	}
	ep.vfsfd.Init(ep, FileTypeEpoll, 0)
	return &ep.vfsfd
}

// Release implements FileDescriptionImpl.Release.
func (ep *EpollInstance) Release() {
	for _, epi := range ep.interests {
		ep.removeInterest(epi)
	}
	if ep.host != nil {
		if err := ep.host.Close(); err != nil {
			log.Warningf("closing host epoll: %v", err)
		}
		ep.host = nil
	}
	ep.q.Notify(waiter.EventIn | waiter.EventHUp)
}

// Readiness implements waiter.Waitable.Readiness.
func (ep *EpollInstance) Readiness(mask waiter.EventMask) waiter.EventMask {
	if mask&waiter.ReadableEvents == 0 {
		return 0
	}
	if ep.NumReady() != 0 {
		return waiter.ReadableEvents & mask
	}
	return 0
}

// EventRegister implements waiter.Waitable.EventRegister.
func (ep *EpollInstance) EventRegister(e *waiter.Entry) error {
	ep.q.EventRegister(e)
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (ep *EpollInstance) EventUnregister(e *waiter.Entry) {
	ep.q.EventUnregister(e)
}

// NumInterests returns the size of the interest set.
func (ep *EpollInstance) NumInterests() int {
	return len(ep.interests)
}

func (epi *epollInterest) setEvent(event linux.EpollEvent) {
	if event.Events&linux.EPOLLET != 0 {
		edgeTriggerWarning.Warningf("EPOLLET requested: edge-triggered interests are reported level-triggered")
	}
	epi.events = event.Events
	epi.mask = waiter.EventMaskFromLinux(event.Events) | waiter.EventErr | waiter.EventHUp
	epi.userData = event.Data
	epi.disabled = false
}

// AddInterest implements the semantics of EPOLL_CTL_ADD for a simulated
// target. num is the file descriptor number for the watched file.
func (ep *EpollInstance) AddInterest(file *FileDescription, num int32, event linux.EpollEvent) error {
	key := epollInterestKey{file: file, num: num}
	if _, ok := ep.interests[key]; ok {
		return linuxerr.EEXIST
	}

	if target, ok := file.impl.(*EpollInstance); ok {
		if event.Events&linux.EPOLLEXCLUSIVE != 0 {
			return linuxerr.EINVAL
		}
		// Watching target must not create a cycle.
		if target == ep || target.watches(ep, 1) {
			return linuxerr.ELOOP
		}
	}

	epi := &epollInterest{
		epoll: ep,
		key:   key,
	}
	epi.setEvent(event)
	epi.waiter.Init(epi, epi.mask)
	if err := file.EventRegister(&epi.waiter); err != nil {
		return err
	}
	file.addEpoll(epi)
	ep.interests[key] = epi

	// Report the target if it is already ready.
	ep.checkReady(epi)
	return nil
}

// ModifyInterest implements the semantics of EPOLL_CTL_MOD for a simulated
// target.
func (ep *EpollInstance) ModifyInterest(file *FileDescription, num int32, event linux.EpollEvent) error {
	if event.Events&linux.EPOLLEXCLUSIVE != 0 {
		return linuxerr.EINVAL
	}
	epi, ok := ep.interests[epollInterestKey{file: file, num: num}]
	if !ok {
		return linuxerr.ENOENT
	}
	if epi.events&linux.EPOLLEXCLUSIVE != 0 {
		return linuxerr.EINVAL
	}

	file.EventUnregister(&epi.waiter)
	epi.setEvent(event)
	epi.waiter.Init(epi, epi.mask)
	if err := file.EventRegister(&epi.waiter); err != nil {
		return err
	}
	ep.checkReady(epi)
	return nil
}

// DeleteInterest implements the semantics of EPOLL_CTL_DEL for a simulated
// target.
func (ep *EpollInstance) DeleteInterest(file *FileDescription, num int32) error {
	epi, ok := ep.interests[epollInterestKey{file: file, num: num}]
	if !ok {
		return linuxerr.ENOENT
	}
	ep.removeInterest(epi)
	return nil
}

// removeInterest drops epi from the interest and ready sets and undoes its
// registrations.
func (ep *EpollInstance) removeInterest(epi *epollInterest) {
	if epi.key.isHost() {
		if ep.host != nil {
			if err := ep.host.Ctl(linux.EPOLL_CTL_DEL, epi.key.hostFD, 0); err != nil {
				log.Debugf("host epoll_ctl(DEL, %d): %v", epi.key.hostFD, err)
			}
		}
		ep.hostInterests--
		ep.watchers.remove(epi.key.hostFD, ep)
	} else {
		epi.key.file.EventUnregister(&epi.waiter)
		epi.key.file.removeEpoll(epi)
	}
	if epi.ready {
		epi.ready = false
		ep.ready.Remove(epi)
	}
	delete(ep.interests, epi.key)
}

// watches returns whether ep watches target, directly or through nested
// instances. Chains deeper than epollMaxNests count as watching.
func (ep *EpollInstance) watches(target *EpollInstance, depth int) bool {
	if depth > epollMaxNests {
		return true
	}
	for key := range ep.interests {
		if key.isHost() {
			continue
		}
		inner, ok := key.file.impl.(*EpollInstance)
		if !ok {
			continue
		}
		if inner == target || inner.watches(target, depth+1) {
			return true
		}
	}
	return false
}

// NotifyEvent implements waiter.EventListener.NotifyEvent.
func (epi *epollInterest) NotifyEvent(waiter.EventMask) {
	if epi.disabled || epi.ready {
		return
	}
	epi.epoll.markReady(epi)
	epi.epoll.q.Notify(waiter.ReadableEvents)
}

// readiness returns the subset of epi.mask that currently holds.
func (epi *epollInterest) readiness() waiter.EventMask {
	if epi.disabled {
		return 0
	}
	if epi.key.isHost() {
		return epi.hostReady & epi.mask
	}
	return epi.key.file.Readiness(epi.mask) & epi.mask
}

func (ep *EpollInstance) markReady(epi *epollInterest) {
	epi.ready = true
	ep.ready.PushBack(epi)
}

// checkReady queues epi if its condition already holds.
func (ep *EpollInstance) checkReady(epi *epollInterest) {
	if epi.ready || epi.readiness() == 0 {
		return
	}
	ep.markReady(epi)
	ep.q.Notify(waiter.ReadableEvents)
}

// NumReady refreshes the ready set and returns its size. Host targets are
// polled without blocking and simulated candidates whose condition no longer
// holds are dropped.
func (ep *EpollInstance) NumReady() int {
	ep.pollHost()
	for epi := ep.ready.Front(); epi != nil; {
		next := epi.Next()
		if epi.readiness() == 0 {
			ep.ready.Remove(epi)
			epi.ready = false
		}
		epi = next
	}
	return ep.ready.Len()
}

// ReadEvents reads up to len(events) ready events from ep into events and
// returns the number of events read. Host readiness is as of the last
// refresh by NumReady or PollHost.
//
// Interests are level-triggered: an interest that is still ready is moved to
// the back of the ready set and will be reported again. EPOLLONESHOT
// interests are disabled once reported.
func (ep *EpollInstance) ReadEvents(events []linux.EpollEvent) int {
	i := 0
	var requeue readyList
	for epi := ep.ready.Front(); epi != nil && i < len(events); {
		next := epi.Next()
		ep.ready.Remove(epi)
		wmask := epi.readiness()
		if wmask == 0 {
			epi.ready = false
			epi = next
			continue
		}

		events[i] = linux.EpollEvent{
			Events: wmask.ToLinux(),
			Data:   epi.userData,
		}
		i++

		if epi.events&linux.EPOLLONESHOT != 0 {
			epi.disabled = true
			epi.ready = false
		} else {
			requeue.PushBack(epi)
		}
		epi = next
	}
	ep.ready.PushBackList(&requeue)
	return i
}
