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

package phold

import (
	"fmt"
	"math/rand"
	"net/netip"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/marshal"
	"hostsim.dev/hostsim/pkg/marshal/primitive"
	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
)

// maxEvents is the capacity of the epoll_wait buffer.
const maxEvents = 10

// program is the guest program of one host.
type program struct {
	cfg   *Config
	peers []netip.Addr
	rng   *rand.Rand
	task  *kernel.Task
	guest *kernel.Guest
	stats HostStats

	// err is the failure that stopped the program.
	err error

	// Descriptors.
	epfd, listen, timer int32

	// Guest buffers.
	buf, events, addr, addrLen, count hostarch.Addr

	// Counters since the last heartbeat.
	intervalSent, intervalRecv uint64
}

// syscallError reports a failed syscall.
type syscallError struct {
	op  string
	err errno.Errno
}

func (e *syscallError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

// call issues a syscall and converts a negated errno into an error. Before
// the guest starts, syscalls are issued on the task directly and must not
// block.
func (p *program) call(op string, sysno uintptr, args ...uintptr) (int64, error) {
	var ret int64
	if p.guest != nil {
		ret = p.guest.Syscall(sysno, args...)
	} else {
		var blocked bool
		if ret, blocked = p.task.Syscall(sysno, arch.Args(args...), nil); blocked {
			return 0, fmt.Errorf("%s blocked during setup", op)
		}
	}
	if ret < 0 {
		return ret, &syscallError{op: op, err: errno.Errno(-ret)}
	}
	return ret, nil
}

func (p *program) run(g *kernel.Guest) {
	p.guest = g
	for i := 0; i < p.cfg.Load; i++ {
		p.sendNew()
	}
	p.err = p.loop()
	p.teardown()
	p.stats.Exited = g.Now()
	if p.err != nil {
		log.Warningf("%s: stopped at %v: %v", p.stats.Name, g.Now(), p.err)
	}
}

// alloc reserves the guest buffers.
func (p *program) alloc() error {
	mem := p.task.MemoryManager()
	for _, b := range []struct {
		addr *hostarch.Addr
		size int
	}{
		{&p.buf, p.cfg.Size},
		{&p.events, maxEvents * linux.SizeOfEpollEvent},
		{&p.addr, linux.SizeOfSockAddrInet},
		{&p.addrLen, 4},
		{&p.count, 8},
	} {
		addr, err := mem.Alloc(b.size)
		if err != nil {
			return fmt.Errorf("allocating %d bytes of guest memory: %w", b.size, err)
		}
		*b.addr = addr
	}
	payload := make([]byte, p.cfg.Size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	_, err := mem.CopyOut(p.buf, payload)
	return err
}

// setup opens the host's descriptors and binds its listening socket.
func (p *program) setup() error {
	p.epfd, p.listen, p.timer = -1, -1, -1
	if err := p.alloc(); err != nil {
		return err
	}
	task := p.task

	fd, err := p.call("epoll_create", linux.SYS_EPOLL_CREATE, 1)
	if err != nil {
		return err
	}
	p.epfd = int32(fd)

	fd, err = p.call("timerfd_create", linux.SYS_TIMERFD_CREATE, linux.CLOCK_MONOTONIC, linux.TFD_NONBLOCK)
	if err != nil {
		return err
	}
	p.timer = int32(fd)
	its := linux.Itimerspec{
		Value:    linux.DurationToTimespec(p.cfg.Heartbeat),
		Interval: linux.DurationToTimespec(p.cfg.Heartbeat),
	}
	if _, err := marshal.CopyOut(task, p.addr, &its); err != nil {
		return err
	}
	if _, err := p.call("timerfd_settime", linux.SYS_TIMERFD_SETTIME, uintptr(p.timer), 0, uintptr(p.addr), 0); err != nil {
		return err
	}

	fd, err = p.call("socket", linux.SYS_SOCKET, linux.AF_INET, linux.SOCK_DGRAM|linux.SOCK_NONBLOCK, 0)
	if err != nil {
		return err
	}
	p.listen = int32(fd)
	if err := p.writeAddr(netip.AddrPortFrom(netip.IPv4Unspecified(), p.cfg.Port)); err != nil {
		return err
	}
	if _, err := p.call("bind", linux.SYS_BIND, uintptr(p.listen), uintptr(p.addr), linux.SizeOfSockAddrInet); err != nil {
		return err
	}

	for _, fd := range []int32{p.listen, p.timer} {
		ev := linux.EpollEvent{Events: linux.EPOLLIN, Data: uint64(fd)}
		if _, err := marshal.CopyOut(task, p.addr, &ev); err != nil {
			return err
		}
		if _, err := p.call("epoll_ctl", linux.SYS_EPOLL_CTL, uintptr(p.epfd), linux.EPOLL_CTL_ADD, uintptr(fd), uintptr(p.addr)); err != nil {
			return err
		}
	}
	log.Debugf("%s: listening on fd %d, heartbeat timer on fd %d", p.stats.Name, p.listen, p.timer)
	return nil
}

func (p *program) teardown() {
	for _, fd := range []int32{p.listen, p.timer, p.epfd} {
		if fd >= 0 {
			p.guest.Syscall(linux.SYS_CLOSE, uintptr(fd))
		}
	}
}

func (p *program) writeAddr(ap netip.AddrPort) error {
	sa := linux.SockAddrInetFrom(ap)
	_, err := marshal.CopyOut(p.task, p.addr, &sa)
	return err
}

// budgetSpent returns true once the host may not send any more.
func (p *program) budgetSpent() bool {
	return p.stats.Sent+p.stats.SendErrors >= uint64(p.cfg.Messages)
}

// sendNew sends a message to a random peer from a fresh socket.
func (p *program) sendNew() {
	if p.budgetSpent() {
		return
	}
	peer := p.peers[p.rng.Intn(len(p.peers))]
	fd, err := p.call("socket", linux.SYS_SOCKET, linux.AF_INET, linux.SOCK_DGRAM|linux.SOCK_NONBLOCK, 0)
	if err != nil {
		log.Warningf("%s: %v", p.stats.Name, err)
		p.stats.SendErrors++
		return
	}
	defer p.guest.Syscall(linux.SYS_CLOSE, uintptr(fd))

	if err := p.writeAddr(netip.AddrPortFrom(peer, p.cfg.Port)); err != nil {
		log.Warningf("%s: %v", p.stats.Name, err)
		p.stats.SendErrors++
		return
	}
	n, err := p.call("sendto", linux.SYS_SENDTO, uintptr(fd), uintptr(p.buf), uintptr(p.cfg.Size), 0, uintptr(p.addr), linux.SizeOfSockAddrInet)
	if err != nil {
		log.Warningf("%s: %v", p.stats.Name, err)
		p.stats.SendErrors++
		return
	}
	p.stats.Sent++
	p.stats.BytesSent += uint64(n)
	p.intervalSent++
	if log.IsLogging(log.Debug) {
		log.Debugf("%s: sent %d bytes to %v at %v", p.stats.Name, n, peer, p.guest.Now())
	}
}

// loop processes events until the host is done.
func (p *program) loop() error {
	for {
		n, err := p.call("epoll_wait", linux.SYS_EPOLL_WAIT, uintptr(p.epfd), uintptr(p.events), maxEvents, ^uintptr(0))
		if err != nil {
			return err
		}
		done := false
		for i := 0; i < int(n); i++ {
			var ev linux.EpollEvent
			if _, err := marshal.CopyIn(p.task, p.events+hostarch.Addr(i*linux.SizeOfEpollEvent), &ev); err != nil {
				return err
			}
			switch int32(ev.Data) {
			case p.timer:
				if done, err = p.heartbeat(); err != nil {
					return err
				}
			case p.listen:
				if err := p.receive(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("event for unknown descriptor %d", ev.Data)
			}
		}
		if done {
			return nil
		}
	}
}

// heartbeat consumes the timer's expirations and reports whether the host
// is done.
func (p *program) heartbeat() (bool, error) {
	if _, err := p.call("read", linux.SYS_READ, uintptr(p.timer), uintptr(p.count), 8); err != nil {
		return false, err
	}
	exp, err := primitive.CopyUint64In(p.task, p.count)
	if err != nil {
		return false, err
	}
	p.stats.Heartbeats += exp
	log.Infof("%s: heartbeat at %v: msgs_sent=%d msgs_recv=%d tot_msgs_sent=%d tot_msgs_recv=%d tot_bytes_sent=%d tot_bytes_recv=%d",
		p.stats.Name, p.guest.Now(), p.intervalSent, p.intervalRecv, p.stats.Sent, p.stats.Recv, p.stats.BytesSent, p.stats.BytesRecv)
	p.intervalSent, p.intervalRecv = 0, 0

	elapsed := p.guest.Now().Sub(ktime.ZeroTime)
	return p.budgetSpent() || elapsed >= p.cfg.Duration, nil
}

// receive drains the listening socket, answering every message.
func (p *program) receive() error {
	for {
		if _, err := primitive.CopyUint32Out(p.task, p.addrLen, linux.SizeOfSockAddrInet); err != nil {
			return err
		}
		n, err := p.call("recvfrom", linux.SYS_RECVFROM, uintptr(p.listen), uintptr(p.buf), uintptr(p.cfg.Size), 0, uintptr(p.addr), uintptr(p.addrLen))
		if err != nil {
			if se, ok := err.(*syscallError); ok && se.err == errno.EAGAIN {
				return nil
			}
			return err
		}
		p.stats.Recv++
		p.stats.BytesRecv += uint64(n)
		p.intervalRecv++
		if log.IsLogging(log.Debug) {
			var from linux.SockAddrInet
			marshal.CopyIn(p.task, p.addr, &from)
			log.Debugf("%s: got %d bytes from %v at %v", p.stats.Name, n, from.AddrPort(), p.guest.Now())
		}
		p.sendNew()
	}
}
