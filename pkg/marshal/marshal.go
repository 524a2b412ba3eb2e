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

// Package marshal defines the Marshallable interface for serializing guest
// ABI structures, and helpers to copy them across the guest boundary.
package marshal

import (
	"github.com/valyala/bytebufferpool"
	"hostsim.dev/hostsim/pkg/hostarch"
)

// CopyContext defines the memory operations required to marshal to and from
// guest memory.
type CopyContext interface {
	// CopyOutBytes copies the contents of b to guest memory at addr. It
	// returns the number of bytes copied, which is less than len(b) only if
	// err is non-nil.
	CopyOutBytes(addr hostarch.Addr, b []byte) (int, error)

	// CopyInBytes copies guest memory at addr into b. It returns the number
	// of bytes copied, which is less than len(b) only if err is non-nil.
	CopyInBytes(addr hostarch.Addr, b []byte) (int, error)
}

// Marshallable represents operations on a type that can be marshalled to and
// from the guest's memory layout.
type Marshallable interface {
	// SizeBytes is the size of the memory representation of a type in
	// marshalled form.
	SizeBytes() int

	// MarshalBytes serializes a copy of a type to dst and returns the
	// remaining portion of dst. Precondition: len(dst) >= SizeBytes().
	MarshalBytes(dst []byte) []byte

	// UnmarshalBytes deserializes a type from src and returns the remaining
	// portion of src. Precondition: len(src) >= SizeBytes().
	UnmarshalBytes(src []byte) []byte
}

// CopyIn copies a Marshallable in from guest memory at addr.
func CopyIn(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	b := grow(buf, m.SizeBytes())
	n, err := cc.CopyInBytes(addr, b)
	if err != nil {
		return n, err
	}
	m.UnmarshalBytes(b)
	return n, nil
}

// CopyOut copies a Marshallable out to guest memory at addr.
func CopyOut(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	b := grow(buf, m.SizeBytes())
	m.MarshalBytes(b)
	return cc.CopyOutBytes(addr, b)
}

// CopySliceOut marshals every element of src into a single contiguous
// buffer of exactly len(src)*size bytes and copies it to addr. It returns
// the number of bytes copied.
func CopySliceOut[T any, PT interface {
	*T
	Marshallable
}](cc CopyContext, addr hostarch.Addr, src []T) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	size := PT(&src[0]).SizeBytes()
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	b := grow(buf, size*len(src))
	rest := b
	for i := range src {
		rest = PT(&src[i]).MarshalBytes(rest)
	}
	return cc.CopyOutBytes(addr, b)
}

// grow resizes buf to exactly n bytes and returns its contents.
func grow(buf *bytebufferpool.ByteBuffer, n int) []byte {
	if cap(buf.B) < n {
		buf.B = make([]byte, n)
	}
	buf.B = buf.B[:n]
	return buf.B
}
