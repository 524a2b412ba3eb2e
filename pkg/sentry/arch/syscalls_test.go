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

package arch

import (
	"testing"
)

func TestArgumentConversions(t *testing.T) {
	// -1 as a full register.
	a := SyscallArgument{Value: ^uintptr(0)}
	if got := a.Int(); got != -1 {
		t.Errorf("Int() = %d, want -1", got)
	}
	if got := a.Uint(); got != 0xffffffff {
		t.Errorf("Uint() = %#x, want 0xffffffff", got)
	}
	if got := a.Int64(); got != -1 {
		t.Errorf("Int64() = %d, want -1", got)
	}

	// A 32-bit -1 that was zero-extended into the register still reads as
	// -1 through Int.
	b := SyscallArgument{Value: 0xffffffff}
	if got := b.Int(); got != -1 {
		t.Errorf("Int() of zero-extended -1 = %d, want -1", got)
	}
	if got := b.Int64(); got != 0xffffffff {
		t.Errorf("Int64() of zero-extended -1 = %d", got)
	}
}

func TestArgs(t *testing.T) {
	args := Args(1, 2, 3)
	for i, want := range []uintptr{1, 2, 3, 0, 0, 0} {
		if args[i].Value != want {
			t.Errorf("args[%d] = %d, want %d", i, args[i].Value, want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Args with 7 values did not panic")
		}
	}()
	Args(1, 2, 3, 4, 5, 6, 7)
}
