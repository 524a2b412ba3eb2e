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

// Package config provides basic infrastructure to set configuration settings
// for simrun. Each setting that can be changed from the command line must
// have a field in Config with a `flag` tag naming it. Settings can also be
// loaded from a TOML file given with --config; flags set explicitly on the
// command line take precedence over the file.
package config

import (
	"fmt"
	"time"

	"github.com/mohae/deepcopy"

	"hostsim.dev/hostsim/pkg/log"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/workload/phold"
)

// Config holds configuration that is not part of the workload being run.
type Config struct {
	// ConfigFile is the path of a TOML file to load settings from.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty. Logs go to
	// stderr otherwise.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format, "text", "json" or "zap".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// LogMaxSizeMB rotates the log file once it grows past this size. Zero
	// disables rotation.
	LogMaxSizeMB int `flag:"log-max-size-mb" toml:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated log files to keep.
	LogMaxBackups int `flag:"log-max-backups" toml:"log_max_backups"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr as well as to
	// the log file.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// HostPollInterval is the simulated time between polls of host
	// descriptors a task is blocked on.
	HostPollInterval time.Duration `flag:"host-poll-interval" toml:"host_poll_interval"`

	// MemorySize is the size of each task's address space in bytes.
	MemorySize int `flag:"memory-size" toml:"memory_size"`

	// RecvQueueLen is the number of datagrams a socket buffers.
	RecvQueueLen int `flag:"recv-queue-len" toml:"recv_queue_len"`

	// FDLimit is the number of descriptors a simulated host may have open.
	FDLimit int `flag:"fd-limit" toml:"fd_limit"`

	// Phold configures the phold workload. It is only settable from the
	// config file and the phold command's flags.
	Phold phold.Config `toml:"phold"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "zap":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json' or 'zap'", c.LogFormat)
	}
	if c.LogMaxSizeMB < 0 {
		return fmt.Errorf("log-max-size-mb must not be negative, got %d", c.LogMaxSizeMB)
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("log-max-backups must not be negative, got %d", c.LogMaxBackups)
	}
	if c.HostPollInterval <= 0 {
		return fmt.Errorf("host-poll-interval must be positive, got %v", c.HostPollInterval)
	}
	if c.MemorySize <= 0 {
		return fmt.Errorf("memory-size must be positive, got %d", c.MemorySize)
	}
	if c.RecvQueueLen <= 0 {
		return fmt.Errorf("recv-queue-len must be positive, got %d", c.RecvQueueLen)
	}
	if c.FDLimit <= 0 {
		return fmt.Errorf("fd-limit must be positive, got %d", c.FDLimit)
	}
	if err := c.Phold.Validate(); err != nil {
		return fmt.Errorf("phold: %w", err)
	}
	return nil
}

// KernelConfig returns the kernel configuration derived from c.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		HostPollInterval: c.HostPollInterval,
		MemorySize:       c.MemorySize,
		RecvQueueLen:     c.RecvQueueLen,
		FDLimit:          c.FDLimit,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("\t\tConfigFile: %q", c.ConfigFile)
	log.Infof("\t\tLog: %q, format: %s, debug: %t", c.LogFilename, c.LogFormat, c.Debug)
	log.Infof("\t\tHostPollInterval: %v", c.HostPollInterval)
	log.Infof("\t\tMemorySize: %d", c.MemorySize)
	log.Infof("\t\tRecvQueueLen: %d", c.RecvQueueLen)
	log.Infof("\t\tFDLimit: %d", c.FDLimit)
	log.Infof("\t\tPhold: %+v", c.Phold)
}
