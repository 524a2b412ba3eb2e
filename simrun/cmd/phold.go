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

package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/workload/phold"
	"hostsim.dev/hostsim/simrun/config"
)

// Phold implements subcommands.Command for the "phold" command.
type Phold struct {
	hosts     int
	load      int
	size      int
	messages  int
	heartbeat time.Duration
	duration  time.Duration
	port      uint
	baseAddr  string
	seeds     int64Flags
	parallel  int
	output    string
}

// Name implements subcommands.Command.Name.
func (*Phold) Name() string {
	return "phold"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Phold) Synopsis() string {
	return "Run the PHOLD UDP workload on simulated hosts and print statistics."
}

// Usage implements subcommands.Command.Usage.
func (*Phold) Usage() string {
	return `phold [options] - Run the PHOLD UDP workload on simulated hosts.

Every host bootstraps -load messages to random peers and forwards each
message it receives to another random peer until it has sent -messages
messages. Each -seed runs on its own simulated kernel; several seeds run
concurrently.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Phold) SetFlags(f *flag.FlagSet) {
	def := phold.DefaultConfig()
	f.IntVar(&p.hosts, "hosts", def.Hosts, "number of simulated hosts.")
	f.IntVar(&p.load, "load", def.Load, "number of messages each host bootstraps.")
	f.IntVar(&p.size, "size", def.Size, "payload size of each message in bytes.")
	f.IntVar(&p.messages, "messages", def.Messages, "number of messages each host may send.")
	f.DurationVar(&p.heartbeat, "heartbeat", def.Heartbeat, "period of each host's heartbeat timer.")
	f.DurationVar(&p.duration, "duration", def.Duration, "maximum simulated length of a run.")
	f.UintVar(&p.port, "port", uint(def.Port), "UDP port every host listens on.")
	f.StringVar(&p.baseAddr, "base-addr", def.BaseAddr, "IPv4 address of the first host.")
	f.Var(&p.seeds, "seed", "seed of a run. Can be repeated to run several seeds.")
	f.IntVar(&p.parallel, "parallel", runtime.GOMAXPROCS(0), "maximum number of runs in flight.")
	f.StringVar(&p.output, "o", "table", "Output format (table, json).")
}

// Execute implements subcommands.Command.Execute.
func (p *Phold) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	out, ok := resultOutputMap[p.output]
	if !ok {
		Fatalf("Unsupported output format %q", p.output)
	}
	results, err := p.run(ctx, conf, f)
	if err != nil {
		Fatalf("phold: %v", err)
	}
	if err := out(os.Stdout, results); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// workload returns the workload configuration: the one in conf with the
// flags set in f applied on top.
func (p *Phold) workload(conf *config.Config, f *flag.FlagSet) phold.Config {
	cfg := conf.Phold
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "hosts":
			cfg.Hosts = p.hosts
		case "load":
			cfg.Load = p.load
		case "size":
			cfg.Size = p.size
		case "messages":
			cfg.Messages = p.messages
		case "heartbeat":
			cfg.Heartbeat = p.heartbeat
		case "duration":
			cfg.Duration = p.duration
		case "port":
			cfg.Port = uint16(p.port)
		case "base-addr":
			cfg.BaseAddr = p.baseAddr
		}
	})
	return cfg
}

// run runs one simulation per seed and returns the results in seed order.
func (p *Phold) run(ctx context.Context, conf *config.Config, f *flag.FlagSet) ([]*phold.Result, error) {
	base := p.workload(conf, f)
	if p.port > 0xffff {
		return nil, fmt.Errorf("port %d out of range", p.port)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	seeds := p.seeds.GetArray()
	if len(seeds) == 0 {
		seeds = []int64{base.Seed}
	}

	g, ctx := errgroup.WithContext(ctx)
	if p.parallel > 0 {
		g.SetLimit(p.parallel)
	}
	results := make([]*phold.Result, len(seeds))
	for i, seed := range seeds {
		i, seed := i, seed // per-iteration copies; module targets go 1.21 loop semantics
		g.Go(func() error {
			c := conf.Clone()
			c.Phold = base
			c.Phold.Seed = seed
			log.Debugf("phold seed %d: starting %d hosts", seed, c.Phold.Hosts)
			res, err := phold.Run(ctx, c.KernelConfig(), c.Phold)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type resultOutputFunc func(io.Writer, []*phold.Result) error

var resultOutputMap = map[string]resultOutputFunc{
	"table": outputResultTable,
	"json":  outputResultJSON,
}

// outputResultTable prints per host counters of every run.
func outputResultTable(w io.Writer, results []*phold.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, res := range results {
		fmt.Fprintf(tw, "seed %d: stopped at %v, network sent=%d delivered=%d dropped=%d noroute=%d\n",
			res.Seed, res.End, res.Network.Sent, res.Network.Delivered, res.Network.Dropped, res.Network.NoRoute)
		fmt.Fprintf(tw, "HOST\tADDR\tSENT\tRECV\tBYTES SENT\tBYTES RECV\tERRORS\tHEARTBEATS\tEXITED\n")
		for _, h := range append(res.Hosts, res.Totals()) {
			addr := "-"
			if h.Addr.IsValid() {
				addr = h.Addr.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%v\n",
				h.Name, addr, h.Sent, h.Recv, h.BytesSent, h.BytesRecv, h.SendErrors, h.Heartbeats, h.Exited)
		}
		if _, err := fmt.Fprintln(tw); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type hostJSON struct {
	Name       string `json:"name"`
	Addr       string `json:"addr,omitempty"`
	Sent       uint64 `json:"sent"`
	Recv       uint64 `json:"recv"`
	BytesSent  uint64 `json:"bytes_sent"`
	BytesRecv  uint64 `json:"bytes_recv"`
	SendErrors uint64 `json:"send_errors"`
	Heartbeats uint64 `json:"heartbeats"`
	ExitedNS   int64  `json:"exited_ns"`
}

type resultJSON struct {
	Seed      int64      `json:"seed"`
	EndNS     int64      `json:"end_ns"`
	Sent      uint64     `json:"network_sent"`
	Delivered uint64     `json:"network_delivered"`
	Dropped   uint64     `json:"network_dropped"`
	NoRoute   uint64     `json:"network_noroute"`
	Hosts     []hostJSON `json:"hosts"`
}

// outputResultJSON prints every run as JSON.
func outputResultJSON(w io.Writer, results []*phold.Result) error {
	out := make([]resultJSON, 0, len(results))
	for _, res := range results {
		r := resultJSON{
			Seed:      res.Seed,
			EndNS:     res.End.Nanoseconds(),
			Sent:      res.Network.Sent,
			Delivered: res.Network.Delivered,
			Dropped:   res.Network.Dropped,
			NoRoute:   res.Network.NoRoute,
		}
		for _, h := range res.Hosts {
			r.Hosts = append(r.Hosts, hostJSON{
				Name:       h.Name,
				Addr:       h.Addr.String(),
				Sent:       h.Sent,
				Recv:       h.Recv,
				BytesSent:  h.BytesSent,
				BytesRecv:  h.BytesRecv,
				SendErrors: h.SendErrors,
				Heartbeats: h.Heartbeats,
				ExitedNS:   h.Exited.Nanoseconds(),
			})
		}
		out = append(out, r)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(out)
}
