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

// Package primitive defines marshal.Marshallable implementations for primitive
// types.
package primitive

import (
	"hostsim.dev/hostsim/pkg/hostarch"
	"hostsim.dev/hostsim/pkg/marshal"
)

// Uint32 is a marshal.Marshallable implementation for uint32.
type Uint32 uint32

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint32) SizeBytes() int {
	return 4
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint32) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*u))
	return dst[4:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint32) UnmarshalBytes(src []byte) []byte {
	*u = Uint32(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// Uint64 is a marshal.Marshallable implementation for uint64.
type Uint64 uint64

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint64) SizeBytes() int {
	return 8
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint64) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], uint64(*u))
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint64) UnmarshalBytes(src []byte) []byte {
	*u = Uint64(hostarch.ByteOrder.Uint64(src[:8]))
	return src[8:]
}

// CopyUint32In is a convenient wrapper for copying in a uint32 from the
// guest's memory.
func CopyUint32In(cc marshal.CopyContext, addr hostarch.Addr) (uint32, error) {
	var v Uint32
	if _, err := marshal.CopyIn(cc, addr, &v); err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// CopyUint32Out is a convenient wrapper for copying out a uint32 to the
// guest's memory.
func CopyUint32Out(cc marshal.CopyContext, addr hostarch.Addr, src uint32) (int, error) {
	v := Uint32(src)
	return marshal.CopyOut(cc, addr, &v)
}

// CopyUint64In is a convenient wrapper for copying in a uint64 from the
// guest's memory.
func CopyUint64In(cc marshal.CopyContext, addr hostarch.Addr) (uint64, error) {
	var v Uint64
	if _, err := marshal.CopyIn(cc, addr, &v); err != nil {
		return 0, err
	}
	return uint64(v), nil
}
