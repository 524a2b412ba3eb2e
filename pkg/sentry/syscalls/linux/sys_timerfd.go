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
	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/arch"
	"hostsim.dev/hostsim/pkg/sentry/fsimpl/timerfd"
	"hostsim.dev/hostsim/pkg/sentry/kernel"
	"hostsim.dev/hostsim/pkg/sentry/ktime"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
)

// TimerfdCreate implements Linux syscall timerfd_create(2).
func TimerfdCreate(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clockID := args[0].Int()
	flags := args[1].Int()

	if flags&^(linux.TFD_CLOEXEC|linux.TFD_NONBLOCK) != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	// Every clock is the simulation clock.
	switch clockID {
	case linux.CLOCK_REALTIME, linux.CLOCK_MONOTONIC, linux.CLOCK_BOOTTIME:
	default:
		return 0, nil, linuxerr.EINVAL
	}

	file := timerfd.New(t.Kernel().Scheduler(), uint32(flags))
	fd, err := t.NewFD(file, kernel.FDFlags{
		CloseOnExec: flags&linux.TFD_CLOEXEC != 0,
	})
	if err != nil {
		file.Release()
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// getTimerfd returns the timerfd at fd.
func getTimerfd(t *kernel.Task, fd int32) (*timerfd.TimerFileDescription, error) {
	file, err := t.FDTable().Validate(fd, vfs.FileTypeTimer)
	if err != nil {
		return nil, err
	}
	return file.Impl().(*timerfd.TimerFileDescription), nil
}

// TimerfdSettime implements Linux syscall timerfd_settime(2).
func TimerfdSettime(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	flags := args[1].Int()
	newValAddr := args[2].Pointer()
	oldValAddr := args[3].Pointer()

	if flags&^(linux.TFD_TIMER_ABSTIME) != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	tf, err := getTimerfd(t, fd)
	if err != nil {
		return 0, nil, err
	}

	var newVal linux.Itimerspec
	if _, err := t.CopyIn(newValAddr, &newVal); err != nil {
		return 0, nil, err
	}
	newS, err := ktime.SettingFromItimerspec(newVal, flags&linux.TFD_TIMER_ABSTIME != 0, tf.Clock().Now())
	if err != nil {
		return 0, nil, err
	}
	tm, oldS := tf.SetTime(newS)
	if oldValAddr != 0 {
		oldVal := ktime.ItimerspecFromSetting(tm, oldS)
		if _, err := t.CopyOut(oldValAddr, &oldVal); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}

// TimerfdGettime implements Linux syscall timerfd_gettime(2).
func TimerfdGettime(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	curValAddr := args[1].Pointer()

	tf, err := getTimerfd(t, fd)
	if err != nil {
		return 0, nil, err
	}

	tm, s := tf.GetTime()
	curVal := ktime.ItimerspecFromSetting(tm, s)
	_, err = t.CopyOut(curValAddr, &curVal)
	return 0, nil, err
}
