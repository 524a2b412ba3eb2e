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

// Package cmd holds implementations of the simrun commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"hostsim.dev/hostsim/pkg/log"
)

// Fatalf logs the same message to the log and to stderr, and then exits.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	log.Warningf(format, args...)
	os.Exit(128)
}

// int64Flags can be used with int64 flags that appear multiple times.
type int64Flags []int64

// String implements flag.Value.
func (i *int64Flags) String() string {
	return fmt.Sprintf("%v", *i)
}

// Get implements flag.Getter.
func (i *int64Flags) Get() any {
	return i
}

// GetArray returns the values in the order they were set.
func (i *int64Flags) GetArray() []int64 {
	return *i
}

// Set implements flag.Value.
func (i *int64Flags) Set(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid flag value: %v", err)
	}
	*i = append(*i, v)
	return nil
}
