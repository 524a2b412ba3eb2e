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

package marshal_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/marshal"
	"hostsim.dev/hostsim/pkg/usermem"
)

// bytesContext implements marshal.CopyContext over a usermem.BytesIO.
type bytesContext struct {
	usermem.BytesIO
}

func (b *bytesContext) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return b.CopyOut(addr, src)
}

func (b *bytesContext) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return b.CopyIn(addr, dst)
}

func TestCopyEpollEventRoundTrip(t *testing.T) {
	cc := &bytesContext{usermem.BytesIO{Bytes: make([]byte, 64)}}
	in := linux.EpollEvent{Events: linux.EPOLLIN | linux.EPOLLOUT, Data: 0xdeadbeefcafe}
	if n, err := marshal.CopyOut(cc, 8, &in); n != linux.SizeOfEpollEvent || err != nil {
		t.Fatalf("CopyOut: got (%d, %v), want (%d, nil)", n, err, linux.SizeOfEpollEvent)
	}
	var out linux.EpollEvent
	if _, err := marshal.CopyIn(cc, 8, &out); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	// The packed layout puts Data right after Events.
	if got := cc.Bytes[12]; got != 0xfe {
		t.Errorf("first data byte = %#x, want 0xfe", got)
	}
}

func TestCopySliceOutExactSize(t *testing.T) {
	const n = 3
	cc := &bytesContext{usermem.BytesIO{Bytes: make([]byte, n*linux.SizeOfEpollEvent)}}
	events := []linux.EpollEvent{{Events: 1, Data: 1}, {Events: 4, Data: 2}, {Events: 5, Data: 3}}
	if got, err := marshal.CopySliceOut(cc, 0, events); got != n*linux.SizeOfEpollEvent || err != nil {
		t.Fatalf("CopySliceOut: got (%d, %v), want (%d, nil)", got, err, n*linux.SizeOfEpollEvent)
	}
	// One more byte of offset no longer fits.
	if _, err := marshal.CopySliceOut(cc, 1, events); err != linuxerr.EFAULT {
		t.Errorf("CopySliceOut past end: got %v, want EFAULT", err)
	}
}
