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
	"sort"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/waiter"
	"hostsim.dev/hostsim/pkg/waiter/fdnotifier"
)

// hostControlFlags are handled by EpollInstance itself and never passed to
// the host epoll, which always runs level-triggered.
const hostControlFlags = linux.EPOLLONESHOT | linux.EPOLLET | linux.EPOLLEXCLUSIVE | linux.EPOLLWAKEUP

// ensureHost creates the private host epoll instance on first use.
func (ep *EpollInstance) ensureHost() error {
	if ep.host != nil {
		return nil
	}
	h, err := fdnotifier.NewHostEpoll()
	if err != nil {
		return linuxerr.FromHost(err)
	}
	ep.host = h
	return nil
}

// AddHostInterest implements the semantics of EPOLL_CTL_ADD for a host
// descriptor that the simulator does not model.
func (ep *EpollInstance) AddHostInterest(hostFD int32, event linux.EpollEvent) error {
	key := epollInterestKey{hostFD: hostFD}
	if _, ok := ep.interests[key]; ok {
		return linuxerr.EEXIST
	}
	if err := ep.ensureHost(); err != nil {
		return err
	}
	if err := ep.host.Ctl(linux.EPOLL_CTL_ADD, hostFD, event.Events&^hostControlFlags); err != nil {
		return linuxerr.FromHost(err)
	}

	epi := &epollInterest{
		epoll: ep,
		key:   key,
	}
	epi.setEvent(event)
	ep.interests[key] = epi
	ep.hostInterests++
	ep.watchers.add(hostFD, ep)
	return nil
}

// ModifyHostInterest implements the semantics of EPOLL_CTL_MOD for a host
// descriptor.
func (ep *EpollInstance) ModifyHostInterest(hostFD int32, event linux.EpollEvent) error {
	if event.Events&linux.EPOLLEXCLUSIVE != 0 {
		return linuxerr.EINVAL
	}
	epi, ok := ep.interests[epollInterestKey{hostFD: hostFD}]
	if !ok {
		return linuxerr.ENOENT
	}
	if epi.events&linux.EPOLLEXCLUSIVE != 0 {
		return linuxerr.EINVAL
	}
	if err := ep.host.Ctl(linux.EPOLL_CTL_MOD, hostFD, event.Events&^hostControlFlags); err != nil {
		return linuxerr.FromHost(err)
	}
	epi.setEvent(event)
	return nil
}

// DeleteHostInterest implements the semantics of EPOLL_CTL_DEL for a host
// descriptor.
func (ep *EpollInstance) DeleteHostInterest(hostFD int32) error {
	epi, ok := ep.interests[epollInterestKey{hostFD: hostFD}]
	if !ok {
		return linuxerr.ENOENT
	}
	ep.removeInterest(epi)
	return nil
}

// HasHostInterests returns whether ep watches any host descriptor. A task
// blocked on such an instance polls it periodically.
func (ep *EpollInstance) HasHostInterests() bool {
	return ep.hostInterests != 0
}

// PollHost merges the current readiness of host targets into the ready set,
// waking waiters if any became ready.
func (ep *EpollInstance) PollHost() {
	ep.pollHost()
}

// pollHost performs a non-blocking wait on the host epoll. Host targets in
// the result become ready, those absent become not ready. Polling twice with
// no host change is a no-op.
func (ep *EpollInstance) pollHost() {
	if ep.hostInterests == 0 || ep.host == nil {
		return
	}
	evs, err := ep.host.Poll(ep.hostInterests)
	if err != nil {
		log.Warningf("host epoll_wait(%d): %v", ep.host.FD(), err)
		return
	}
	seen := make(map[int32]waiter.EventMask, len(evs))
	for _, ev := range evs {
		seen[ev.FD] = ev.Mask()
	}

	// Walk host interests in descriptor order so that the ready set is
	// filled identically on every run.
	hosts := make([]*epollInterest, 0, ep.hostInterests)
	for key, epi := range ep.interests {
		if key.isHost() {
			hosts = append(hosts, epi)
		}
	}
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].key.hostFD < hosts[j].key.hostFD
	})

	newReady := false
	for _, epi := range hosts {
		epi.hostReady = seen[epi.key.hostFD]
		if !epi.ready && epi.readiness() != 0 {
			ep.markReady(epi)
			newReady = true
		}
	}
	if newReady {
		ep.q.Notify(waiter.ReadableEvents)
	}
}

// HostWatchers indexes, per host descriptor, the epoll instances that hold
// an interest in it.
//
// A nil *HostWatchers is valid and indexes nothing.
type HostWatchers struct {
	m map[int32][]*EpollInstance
}

// NewHostWatchers returns an empty index.
func NewHostWatchers() *HostWatchers {
	return &HostWatchers{m: make(map[int32][]*EpollInstance)}
}

func (w *HostWatchers) add(hostFD int32, ep *EpollInstance) {
	if w == nil {
		return
	}
	for _, e := range w.m[hostFD] {
		if e == ep {
			return
		}
	}
	w.m[hostFD] = append(w.m[hostFD], ep)
}

func (w *HostWatchers) remove(hostFD int32, ep *EpollInstance) {
	if w == nil {
		return
	}
	eps := w.m[hostFD]
	for i, e := range eps {
		if e == ep {
			eps = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	if len(eps) == 0 {
		delete(w.m, hostFD)
	} else {
		w.m[hostFD] = eps
	}
}

// Count returns the number of instances watching hostFD.
func (w *HostWatchers) Count(hostFD int32) int {
	if w == nil {
		return 0
	}
	return len(w.m[hostFD])
}

// Forget drops every interest in hostFD and wakes the waiters of each
// instance that held one. It must be called before hostFD is closed on the
// host, while the host epolls can still be told about it.
func (w *HostWatchers) Forget(hostFD int32) {
	if w == nil {
		return
	}
	eps := append([]*EpollInstance(nil), w.m[hostFD]...)
	for _, ep := range eps {
		if epi, ok := ep.interests[epollInterestKey{hostFD: hostFD}]; ok {
			ep.removeInterest(epi)
			ep.q.Notify(waiter.EventIn | waiter.EventHUp)
		}
	}
	delete(w.m, hostFD)
}
