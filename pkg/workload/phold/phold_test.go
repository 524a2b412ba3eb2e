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
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostsim.dev/hostsim/pkg/sentry/inet"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hosts = 4
	cfg.Load = 2
	cfg.Size = 64
	cfg.Messages = 50
	cfg.Duration = 10 * time.Second
	return cfg
}

func TestRun(t *testing.T) {
	res, err := Run(context.Background(), kernel.DefaultConfig(), testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Hosts) != 4 {
		t.Fatalf("got %d hosts, want 4", len(res.Hosts))
	}
	second := ktime.ZeroTime.Add(time.Second)
	last := ktime.ZeroTime.Add(10 * time.Second)
	for _, h := range res.Hosts {
		if h.Sent == 0 || h.Sent > 50 {
			t.Errorf("%s sent %d messages, want (0, 50]", h.Name, h.Sent)
		}
		if h.BytesSent != 64*h.Sent || h.BytesRecv != 64*h.Recv {
			t.Errorf("%s byte counts %d/%d do not match message counts %d/%d", h.Name, h.BytesSent, h.BytesRecv, h.Sent, h.Recv)
		}
		// Hosts that spent their budget leave at the first heartbeat, the
		// others run for the whole duration.
		if h.Sent == 50 {
			if h.Heartbeats != 1 || h.Exited != second {
				t.Errorf("%s exited at %v after %d heartbeats, want %v after 1", h.Name, h.Exited, h.Heartbeats, second)
			}
		} else if h.Heartbeats != 10 || h.Exited != last {
			t.Errorf("%s exited at %v after %d heartbeats, want %v after 10", h.Name, h.Exited, h.Heartbeats, last)
		}
	}

	// Nothing is lost while every host is up.
	total := res.Totals()
	if total.Recv != total.Sent {
		t.Errorf("received %d of %d messages", total.Recv, total.Sent)
	}
	if res.Network.Sent != total.Sent || res.Network.Delivered != total.Sent || res.Network.Dropped != 0 || res.Network.NoRoute != 0 {
		t.Errorf("network stats = %+v, want %d delivered", res.Network, total.Sent)
	}
	if res.End != total.Exited {
		t.Errorf("run ended at %v, want %v", res.End, total.Exited)
	}
}

func TestRunInitialLoadReachesEveryHost(t *testing.T) {
	cfg := testConfig()
	cfg.Hosts = 8
	cfg.Load = 1
	cfg.Messages = 1
	cfg.Duration = cfg.Heartbeat
	res, err := Run(context.Background(), kernel.DefaultConfig(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Later hosts are already bound when the first host sends.
	want := inet.Stats{Sent: 8, Delivered: 8}
	if diff := cmp.Diff(want, res.Network); diff != "" {
		t.Errorf("network stats mismatch (-want +got):\n%s", diff)
	}
	if tot := res.Totals(); tot.Sent != 8 || tot.Recv != 8 {
		t.Errorf("hosts sent %d and received %d messages, want 8 and 8", tot.Sent, tot.Recv)
	}
}

func TestRunDeterministic(t *testing.T) {
	a, err := Run(context.Background(), kernel.DefaultConfig(), testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := Run(context.Background(), kernel.DefaultConfig(), testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(a, b, cmp.Comparer(func(x, y netip.Addr) bool { return x == y })); diff != "" {
		t.Errorf("runs with the same seed differ (-first +second):\n%s", diff)
	}
}

func TestRunDuration(t *testing.T) {
	cfg := testConfig()
	cfg.Hosts = 1
	cfg.Load = 0
	cfg.Duration = 3 * time.Second
	res, err := Run(context.Background(), kernel.DefaultConfig(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	h := res.Hosts[0]
	if h.Sent != 0 || h.Heartbeats != 3 || h.Exited != ktime.ZeroTime.Add(3*time.Second) {
		t.Errorf("idle host = %+v, want 3 heartbeats and exit at 3s", h)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, kernel.DefaultConfig(), testConfig()); err != context.Canceled {
		t.Errorf("Run = %v, want %v", err, context.Canceled)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"no hosts", func(c *Config) { c.Hosts = 0 }},
		{"negative load", func(c *Config) { c.Load = -1 }},
		{"empty payload", func(c *Config) { c.Size = 0 }},
		{"oversized payload", func(c *Config) { c.Size = 70000 }},
		{"no budget", func(c *Config) { c.Messages = 0 }},
		{"no heartbeat", func(c *Config) { c.Heartbeat = 0 }},
		{"short duration", func(c *Config) { c.Duration = c.Heartbeat / 2 }},
		{"no port", func(c *Config) { c.Port = 0 }},
		{"bad address", func(c *Config) { c.BaseAddr = "nope" }},
		{"ipv6 address", func(c *Config) { c.BaseAddr = "::1" }},
		{"address overflow", func(c *Config) { c.BaseAddr = "255.255.255.254" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate succeeded")
			}
		})
	}
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
}

func TestHostAddr(t *testing.T) {
	cfg := testConfig()
	cfg.BaseAddr = "10.0.0.255"
	base := netip.MustParseAddr(cfg.BaseAddr)
	if got, want := hostAddr(base, 1).String(), "10.0.1.0"; got != want {
		t.Errorf("hostAddr = %s, want %s", got, want)
	}
}
