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

package linux

import (
	"time"

	"hostsim.dev/hostsim/pkg/hostarch"
)

// Clock identifiers for use with clock_gettime(2), timerfd_create(2) et al.
const (
	CLOCK_REALTIME  = 0
	CLOCK_MONOTONIC = 1
	CLOCK_BOOTTIME  = 7
)

// Flags for timerfd syscalls (timerfd_create(2), timerfd_settime(2)).
const (
	// TFD_CLOEXEC is a timerfd_create flag.
	TFD_CLOEXEC = O_CLOEXEC

	// TFD_NONBLOCK is a timerfd_create flag.
	TFD_NONBLOCK = O_NONBLOCK

	// TFD_TIMER_ABSTIME is a timerfd_settime flag.
	TFD_TIMER_ABSTIME = 1
)

// Timespec represents struct timespec in <time.h>.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// SizeOfTimespec is the size of a Timespec.
const SizeOfTimespec = 16

// ToDuration returns the duration represented by ts. Negative timespecs are
// clamped to zero.
func (ts Timespec) ToDuration() time.Duration {
	if ts.Sec < 0 || ts.Nsec < 0 {
		return 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}

// Valid returns whether the timespec contains valid values.
func (ts Timespec) Valid() bool {
	return !(ts.Sec < 0 || ts.Nsec < 0 || ts.Nsec >= int64(time.Second))
}

// DurationToTimespec returns the timespec representation of d.
func DurationToTimespec(d time.Duration) Timespec {
	return Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (ts *Timespec) SizeBytes() int {
	return SizeOfTimespec
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (ts *Timespec) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:8], uint64(ts.Sec))
	hostarch.ByteOrder.PutUint64(dst[8:16], uint64(ts.Nsec))
	return dst[SizeOfTimespec:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (ts *Timespec) UnmarshalBytes(src []byte) []byte {
	ts.Sec = int64(hostarch.ByteOrder.Uint64(src[0:8]))
	ts.Nsec = int64(hostarch.ByteOrder.Uint64(src[8:16]))
	return src[SizeOfTimespec:]
}

// Itimerspec represents struct itimerspec in <time.h>.
type Itimerspec struct {
	Interval Timespec
	Value    Timespec
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (its *Itimerspec) SizeBytes() int {
	return 2 * SizeOfTimespec
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (its *Itimerspec) MarshalBytes(dst []byte) []byte {
	dst = its.Interval.MarshalBytes(dst)
	return its.Value.MarshalBytes(dst)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (its *Itimerspec) UnmarshalBytes(src []byte) []byte {
	src = its.Interval.UnmarshalBytes(src)
	return its.Value.UnmarshalBytes(src)
}
