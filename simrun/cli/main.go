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

// Package cli is the main entrypoint for simrun.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/simrun/cmd"
	"hostsim.dev/hostsim/simrun/config"
)

// version is set at link time with -X.
var version = "VERSION_MISSING"

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "simrun version %s\n", version)
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf(err.Error())
	}

	target, closeLog, err := newTarget(conf, os.Stderr)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetTarget(target)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	const delimString = `**************** simrun ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d", version, runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	if err := closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log: %v\n", err)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by simrun.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Phold), "")
	cb(new(cmd.Syscalls), "")
}

// newTarget returns the log target described by conf and a function that
// flushes and closes it. Logs go to the log file if one is configured, and to
// stderr otherwise or in addition with --alsologtostderr.
func newTarget(conf *config.Config, stderr io.Writer) (log.Emitter, func() error, error) {
	f, err := log.OpenFile(conf.LogFilename, log.FileOpts{
		MaxSizeMB:  conf.LogMaxSizeMB,
		MaxBackups: conf.LogMaxBackups,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file %q: %v", conf.LogFilename, err)
	}

	var emitters log.MultiEmitter
	if f != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if f == nil || conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, stderr))
	}

	closeLog := func() error {
		for _, e := range emitters {
			if z, ok := e.(*log.ZapEmitter); ok {
				// Syncing a terminal fails with EINVAL; nothing is lost.
				_ = z.Sync()
			}
		}
		if f != nil {
			return f.Close()
		}
		return nil
	}

	if len(emitters) == 1 {
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		return emitters[0], closeLog, nil
	}
	return &emitters, closeLog, nil
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "zap":
		return log.NewZapEmitter(logFile)
	}
	cmd.Fatalf("invalid log format %q, must be 'text', 'json', or 'zap'", format)
	panic("unreachable")
}
