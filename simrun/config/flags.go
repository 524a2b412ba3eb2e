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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"

	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/workload/phold"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	kdef := kernel.DefaultConfig()

	flagSet.String("config", "", "path to a TOML file with settings. Flags set on the command line take precedence.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or zap.")
	flagSet.Int("log-max-size-mb", 0, "rotate the log file once it grows past this many megabytes. 0 disables rotation.")
	flagSet.Int("log-max-backups", 3, "number of rotated log files to keep.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr in addition to the log file.")

	// Simulation flags.
	flagSet.Duration("host-poll-interval", kdef.HostPollInterval, "simulated time between polls of host descriptors a task is blocked on.")
	flagSet.Int("memory-size", kdef.MemorySize, "size of each simulated task's address space in bytes.")
	flagSet.Int("recv-queue-len", kdef.RecvQueueLen, "number of datagrams a simulated socket buffers before dropping.")
	flagSet.Int("fd-limit", kdef.FDLimit, "number of descriptors a simulated host may have open.")
}

// NewFromFlags creates a new Config with values coming from the given flag
// set and, if --config is set, the TOML file it names. This function panics
// if a field in Config has a `flag` tag with no registered flag.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{Phold: phold.DefaultConfig()}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		setField(obj.Field(i), lookup(flagSet, name))
	}

	if len(conf.ConfigFile) != 0 {
		if err := conf.loadFile(conf.ConfigFile, flagSet); err != nil {
			return nil, err
		}
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFile decodes the TOML file at path into c and then reapplies flags
// that were set explicitly in flagSet.
func (c *Config) loadFile(path string, flagSet *flag.FlagSet) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("loading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return fmt.Errorf("config file %q has unknown keys: %v", path, undecoded)
	}

	fields := make(map[string]int)
	st := reflect.TypeOf(c).Elem()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			fields[name] = i
		}
	}
	obj := reflect.ValueOf(c).Elem()
	flagSet.Visit(func(fl *flag.Flag) {
		if i, ok := fields[fl.Name]; ok {
			setField(obj.Field(i), fl)
		}
	})
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config. Only
// flags whose value differs from the registered default are returned.
func (c *Config) ToFlags() []string {
	defaults := flag.NewFlagSet("defaults", flag.ContinueOnError)
	RegisterFlags(defaults)

	var rv []string
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		val := getVal(obj.Field(i))
		if val == lookup(defaults, name).DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	return rv
}

func lookup(flagSet *flag.FlagSet, name string) *flag.Flag {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return fl
}

func setField(field reflect.Value, fl *flag.Flag) {
	getter, ok := fl.Value.(flag.Getter)
	if !ok {
		panic(fmt.Sprintf("Flag %q does not implement flag.Getter", fl.Name))
	}
	x := reflect.ValueOf(getter.Get())
	field.Set(x.Convert(field.Type()))
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
