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

package linuxerr_test

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"hostsim.dev/hostsim/pkg/abi/linux/errno"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
)

func TestErrorFromUnix(t *testing.T) {
	for _, tc := range []struct {
		in   unix.Errno
		want error
	}{
		{in: 0, want: nil},
		{in: unix.EBADF, want: linuxerr.EBADF},
		{in: unix.EEXIST, want: linuxerr.EEXIST},
		{in: unix.ENOENT, want: linuxerr.ENOENT},
		{in: unix.EAGAIN, want: linuxerr.EWOULDBLOCK},
	} {
		t.Run(fmt.Sprintf("%d", tc.in), func(t *testing.T) {
			if got := linuxerr.ErrorFromUnix(tc.in); got != tc.want {
				t.Errorf("ErrorFromUnix(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestErrorFromUnixUnknown(t *testing.T) {
	err := linuxerr.ErrorFromUnix(unix.EHWPOISON)
	got, ok := linuxerr.ToErrno(err)
	if !ok || got != errno.Errno(unix.EHWPOISON) {
		t.Errorf("ToErrno(%v) = (%d, %t), want (%d, true)", err, got, ok, unix.EHWPOISON)
	}
}

func TestFromHost(t *testing.T) {
	if err := linuxerr.FromHost(nil); err != nil {
		t.Errorf("FromHost(nil) = %v, want nil", err)
	}
	if err := linuxerr.FromHost(fmt.Errorf("epoll_ctl: %w", unix.EPERM)); err != linuxerr.EPERM {
		t.Errorf("FromHost(wrapped EPERM) = %v, want EPERM", err)
	}
	if err := linuxerr.FromHost(fmt.Errorf("no errno")); err != linuxerr.EIO {
		t.Errorf("FromHost(plain) = %v, want EIO", err)
	}
}

func TestToErrno(t *testing.T) {
	for _, tc := range []struct {
		err    error
		want   errno.Errno
		wantOK bool
	}{
		{err: linuxerr.EINVAL, want: errno.EINVAL, wantOK: true},
		{err: linuxerr.ErrWouldBlock, want: errno.EAGAIN, wantOK: true},
		{err: fmt.Errorf("ctl: %w", linuxerr.EFAULT), want: errno.EFAULT, wantOK: true},
		{err: unix.ENOENT, want: errno.ENOENT, wantOK: true},
		{err: fmt.Errorf("opaque"), wantOK: false},
	} {
		got, ok := linuxerr.ToErrno(tc.err)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ToErrno(%v) = (%d, %t), want (%d, %t)", tc.err, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestEquals(t *testing.T) {
	if !linuxerr.Equals(linuxerr.EAGAIN, linuxerr.ErrWouldBlock) {
		t.Errorf("EAGAIN should equal ErrWouldBlock")
	}
	if !linuxerr.Equals(linuxerr.EBADF, unix.EBADF) {
		t.Errorf("EBADF should equal unix.EBADF")
	}
	if linuxerr.Equals(linuxerr.EBADF, linuxerr.EINVAL) {
		t.Errorf("EBADF should not equal EINVAL")
	}
	if !linuxerr.Equals(nil, nil) {
		t.Errorf("nil should equal nil")
	}
}
