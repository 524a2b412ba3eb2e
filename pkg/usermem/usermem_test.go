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

package usermem

import (
	"bytes"
	"testing"

	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/hostarch"
)

func newBytesIOString(s string) *BytesIO {
	return &BytesIO{[]byte(s)}
}

func TestBytesIOCopyOutSuccess(t *testing.T) {
	b := newBytesIOString("ABCDE")
	n, err := b.CopyOut(1, []byte("foo"))
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := b.Bytes, []byte("AfooE"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyOutFailure(t *testing.T) {
	b := newBytesIOString("ABC")
	n, err := b.CopyOut(1, []byte("foo"))
	if wantN, wantErr := 2, linuxerr.EFAULT; n != wantN || err != wantErr {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, %v)", n, err, wantN, wantErr)
	}
	if got, want := b.Bytes, []byte("Afo"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyOutPastEnd(t *testing.T) {
	b := newBytesIOString("ABC")
	n, err := b.CopyOut(3, []byte("x"))
	if n != 0 || err != linuxerr.EFAULT {
		t.Errorf("CopyOut: got (%v, %v), wanted (0, %v)", n, err, linuxerr.EFAULT)
	}
}

func TestBytesIOCopyInSuccess(t *testing.T) {
	b := newBytesIOString("AfooE")
	var dst [3]byte
	n, err := b.CopyIn(1, dst[:])
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := dst[:], []byte("foo"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyInFailure(t *testing.T) {
	b := newBytesIOString("Afo")
	var dst [3]byte
	n, err := b.CopyIn(1, dst[:])
	if wantN, wantErr := 2, linuxerr.EFAULT; n != wantN || err != wantErr {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, %v)", n, err, wantN, wantErr)
	}
	if got, want := dst[:], []byte("fo\x00"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestBytesIOZeroLength(t *testing.T) {
	b := newBytesIOString("")
	if n, err := b.CopyOut(100, nil); n != 0 || err != nil {
		t.Errorf("CopyOut of nothing: got (%v, %v), wanted (0, nil)", n, err)
	}
}

func TestBytesIOCheckRange(t *testing.T) {
	b := newBytesIOString("ABCDE")
	for _, tc := range []struct {
		addr   hostarch.Addr
		length int
		want   error
	}{
		{0, 5, nil},
		{3, 2, nil},
		{3, 3, linuxerr.EFAULT},
		{5, 1, linuxerr.EFAULT},
		{100, 0, nil},
	} {
		if err := b.CheckRange(tc.addr, tc.length); err != tc.want {
			t.Errorf("CheckRange(%d, %d): got %v, wanted %v", tc.addr, tc.length, err, tc.want)
		}
	}
	if got, want := b.Bytes, []byte("ABCDE"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}
