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

// Package hostarch describes the guest architecture as seen by the
// simulator: address type, page size and byte order.
package hostarch

import (
	"encoding/binary"
	"fmt"
)

// Addr represents a guest virtual address.
type Addr uintptr

// PageSize is the guest page size.
const PageSize = 1 << 12

// ByteOrder is the guest byte order (little-endian, amd64).
var ByteOrder = binary.LittleEndian

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uintptr is
	// smaller than 64 bits.
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// RoundUp returns the address rounded up to the nearest multiple of align,
// which must be a power of two. ok is true iff rounding up did not wrap
// around.
func (v Addr) RoundUp(align uint64) (addr Addr, ok bool) {
	addr = (v + Addr(align-1)) &^ Addr(align-1)
	ok = addr >= v
	return
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}
