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

// Package phold implements the PHOLD benchmark as a simulated workload.
//
// Every host listens on a UDP port and bootstraps a number of messages to
// peers chosen uniformly at random. Each received message is answered by a
// new message to another random peer, so the message population stays
// constant until the hosts' send budgets are spent. Hosts multiplex their
// listening socket and a heartbeat timerfd with epoll, and exit at the first
// heartbeat after their budget is spent or the run's duration has elapsed.
package phold

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/sentry/inet"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
	"hostsim.dev/hostsim/pkg/sentry/socket/udp"
	slinux "hostsim.dev/hostsim/pkg/sentry/syscalls/linux"
)

// Config configures a PHOLD run.
type Config struct {
	// Hosts is the number of simulated hosts.
	Hosts int `toml:"hosts"`

	// Load is the number of messages each host bootstraps.
	Load int `toml:"load"`

	// Size is the payload size of each message.
	Size int `toml:"size"`

	// Messages is the number of messages each host may send, bootstrap
	// messages included.
	Messages int `toml:"messages"`

	// Heartbeat is the period of each host's heartbeat timer.
	Heartbeat time.Duration `toml:"heartbeat"`

	// Duration bounds the simulated length of the run.
	Duration time.Duration `toml:"duration"`

	// Port is the port every host listens on.
	Port uint16 `toml:"port"`

	// BaseAddr is the address of the first host. Hosts are numbered
	// sequentially from it.
	BaseAddr string `toml:"base_addr"`

	// Seed seeds the hosts' peer choice. Host i uses Seed+i.
	Seed int64 `toml:"seed"`
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		Hosts:     10,
		Load:      10,
		Size:      1024,
		Messages:  1000,
		Heartbeat: time.Second,
		Duration:  time.Minute,
		Port:      8998,
		BaseAddr:  "11.0.0.1",
		Seed:      1,
	}
}

// Validate checks c for consistency.
func (c *Config) Validate() error {
	if c.Hosts <= 0 {
		return fmt.Errorf("hosts must be positive, got %d", c.Hosts)
	}
	if c.Load < 0 {
		return fmt.Errorf("load must not be negative, got %d", c.Load)
	}
	if c.Size <= 0 || c.Size > udp.MaxPayload {
		return fmt.Errorf("size must be in [1, %d], got %d", udp.MaxPayload, c.Size)
	}
	// Delivery takes no simulated time, so an unbounded budget would keep
	// the hosts busy at a single instant forever.
	if c.Messages <= 0 {
		return fmt.Errorf("messages must be positive, got %d", c.Messages)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %v", c.Heartbeat)
	}
	if c.Duration < c.Heartbeat {
		return fmt.Errorf("duration %v is shorter than the heartbeat %v", c.Duration, c.Heartbeat)
	}
	if c.Port == 0 {
		return fmt.Errorf("port must not be zero")
	}
	base, err := netip.ParseAddr(c.BaseAddr)
	if err != nil {
		return fmt.Errorf("base address: %w", err)
	}
	if !base.Is4() {
		return fmt.Errorf("base address %v is not IPv4", base)
	}
	last := binary.BigEndian.Uint32(base.AsSlice()) + uint32(c.Hosts-1)
	if last < binary.BigEndian.Uint32(base.AsSlice()) {
		return fmt.Errorf("%d hosts overflow the address space from %v", c.Hosts, base)
	}
	return nil
}

// hostAddr returns the address of host i.
func hostAddr(base netip.Addr, i int) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], binary.BigEndian.Uint32(base.AsSlice())+uint32(i))
	return netip.AddrFrom4(b)
}

// HostStats are the counters of one host.
type HostStats struct {
	Name      string
	Addr      netip.Addr
	Sent      uint64
	Recv      uint64
	BytesSent uint64
	BytesRecv uint64

	// SendErrors counts failed sendto calls.
	SendErrors uint64

	// Heartbeats counts heartbeat timer expirations observed.
	Heartbeats uint64

	// Exited is the simulated time the host's program returned.
	Exited ktime.Time
}

// Result is the outcome of a run.
type Result struct {
	Seed    int64
	Hosts   []HostStats
	Network inet.Stats

	// End is the simulated time the run stopped.
	End ktime.Time
}

// Totals sums the counters of every host.
func (r *Result) Totals() HostStats {
	t := HostStats{Name: "total"}
	for _, h := range r.Hosts {
		t.Sent += h.Sent
		t.Recv += h.Recv
		t.BytesSent += h.BytesSent
		t.BytesRecv += h.BytesRecv
		t.SendErrors += h.SendErrors
		t.Heartbeats += h.Heartbeats
		if h.Exited.After(t.Exited) {
			t.Exited = h.Exited
		}
	}
	return t
}

// Run simulates a PHOLD run on a fresh kernel configured by kcfg. The run
// ends when every host has exited or cfg.Duration of simulated time has
// elapsed. ctx is checked between heartbeats.
func Run(ctx context.Context, kcfg kernel.Config, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := netip.MustParseAddr(cfg.BaseAddr)

	k := kernel.New(kcfg, slinux.AMD64)
	defer k.Shutdown()

	peers := make([]netip.Addr, cfg.Hosts)
	for i := range peers {
		peers[i] = hostAddr(base, i)
	}
	progs := make([]*program, cfg.Hosts)
	for i := range progs {
		name := fmt.Sprintf("peer%d", i+1)
		h, err := k.NewHost(name, peers[i])
		if err != nil {
			return nil, err
		}
		progs[i] = &program{
			cfg:   &cfg,
			peers: peers,
			rng:   rand.New(rand.NewSource(cfg.Seed + int64(i))),
			task:  h.NewTask(),
			stats: HostStats{Name: name, Addr: peers[i]},
		}
	}
	// Every host listens before any host sends its initial load.
	for _, p := range progs {
		if err := p.setup(); err != nil {
			return nil, fmt.Errorf("%s: setup: %w", p.stats.Name, err)
		}
	}
	for _, p := range progs {
		p.guest = p.task.Start(p.run)
	}

	end := ktime.ZeroTime.Add(cfg.Duration)
	for k.Now().Before(end) && !allExited(progs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := k.Now().Add(cfg.Heartbeat)
		if next.After(end) {
			next = end
		}
		k.RunUntil(next)
	}

	res := &Result{
		Seed:    cfg.Seed,
		Hosts:   make([]HostStats, len(progs)),
		Network: k.Stack().Stats(),
		End:     k.Now(),
	}
	for i, p := range progs {
		if p.err != nil {
			return nil, fmt.Errorf("%s: %w", p.stats.Name, p.err)
		}
		res.Hosts[i] = p.stats
	}
	log.Infof("phold seed %d: %d hosts stopped at %v", cfg.Seed, cfg.Hosts, res.End)
	return res, nil
}

func allExited(progs []*program) bool {
	for _, p := range progs {
		if !p.guest.Exited() {
			return false
		}
	}
	return true
}
