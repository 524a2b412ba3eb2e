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

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"hostsim.dev/hostsim/pkg/abi/linux"
	"hostsim.dev/hostsim/pkg/errors/linuxerr"
	"hostsim.dev/hostsim/pkg/sentry/vfs"
	"hostsim.dev/hostsim/pkg/waiter"
)

const (
	// maxFD is the maximum FD to try to create in the map.
	//
	// This number of open files has been seen in the wild.
	maxFD = 2 * 1024
)

// testFile is a simulated file that is never ready.
type testFile struct {
	vfsfd vfs.FileDescription
	vfs.FileDescriptionDefaultImpl
	released bool
}

func newTestFile(typ vfs.FileType) *testFile {
	f := &testFile{}
	f.vfsfd.Init(f, typ, 0)
	return f
}

func (f *testFile) Release() {
	f.released = true
}

func (f *testFile) Readiness(mask waiter.EventMask) waiter.EventMask {
	return 0
}

func (f *testFile) EventRegister(*waiter.Entry) error {
	return nil
}

func (f *testFile) EventUnregister(*waiter.Entry) {}

// TestFDTableMany allocates maxFD FDs, i.e. maxes out the FDTable, until there
// is no room, then makes sure that if we remove one and add one that works too.
func TestFDTableMany(t *testing.T) {
	fdTable := NewFDTable(maxFD)
	file := newTestFile(vfs.FileTypeFile)
	for i := 0; i < maxFD; i++ {
		if _, err := fdTable.NewFD(&file.vfsfd, FDFlags{}); err != nil {
			t.Fatalf("Allocated %v FDs but wanted to allocate %v", i, maxFD)
		}
	}

	if _, err := fdTable.NewFD(&file.vfsfd, FDFlags{}); !linuxerr.Equals(linuxerr.EMFILE, err) {
		t.Fatalf("fdTable.NewFD in full map: got %v, wanted EMFILE", err)
	}

	i := int32(2)
	delete(fdTable.descriptors, i)
	if fd, err := fdTable.NewFD(&file.vfsfd, FDFlags{}); err != nil || fd != i {
		t.Fatalf("fdTable.NewFD = %d, %v; want %d, nil", fd, err, i)
	}
}

func TestFDTableLowestFree(t *testing.T) {
	fdTable := NewFDTable(maxFD)
	var files []*testFile
	for i := 0; i < 4; i++ {
		f := newTestFile(vfs.FileTypeFile)
		files = append(files, f)
		if fd, err := fdTable.NewFD(&f.vfsfd, FDFlags{}); err != nil || fd != int32(i) {
			t.Fatalf("NewFD = %d, %v; want %d", fd, err, i)
		}
	}
	if err := fdTable.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if !files[1].released {
		t.Errorf("Remove did not release the file")
	}
	if err := fdTable.Remove(1); !linuxerr.Equals(linuxerr.EBADF, err) {
		t.Errorf("second Remove(1): got %v, want EBADF", err)
	}
	f := newTestFile(vfs.FileTypeFile)
	if fd, err := fdTable.NewFD(&f.vfsfd, FDFlags{CloseOnExec: true}); err != nil || fd != 1 {
		t.Errorf("NewFD after Remove = %d, %v; want 1", fd, err)
	}
	if diff := cmp.Diff([]int32{0, 1, 2, 3}, fdTable.GetFDs()); diff != "" {
		t.Errorf("GetFDs mismatch (-want +got):\n%s", diff)
	}
	if _, flags := fdTable.Get(1); !flags.CloseOnExec || flags.ToLinuxFDFlags() != linux.FD_CLOEXEC {
		t.Errorf("Get(1) flags = %+v, want CloseOnExec", flags)
	}
}

func TestFDTableValidate(t *testing.T) {
	fdTable := NewFDTable(maxFD)
	ep := newTestFile(vfs.FileTypeEpoll)
	sock := newTestFile(vfs.FileTypeSocket)
	epfd, _ := fdTable.NewFD(&ep.vfsfd, FDFlags{})
	sockfd, _ := fdTable.NewFD(&sock.vfsfd, FDFlags{})

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[1])
	hostfd, err := fdTable.NewHostFD(int32(p[0]), FDFlags{})
	if err != nil {
		t.Fatalf("NewHostFD: %v", err)
	}

	for _, tc := range []struct {
		name string
		fd   int32
		want error
	}{
		{"epoll", epfd, nil},
		{"socket", sockfd, linuxerr.EINVAL},
		{"host", hostfd, linuxerr.EINVAL},
		{"closed", 17, linuxerr.EBADF},
		{"negative", -1, linuxerr.EBADF},
	} {
		t.Run(tc.name, func(t *testing.T) {
			file, err := fdTable.Validate(tc.fd, vfs.FileTypeEpoll)
			if err != tc.want {
				t.Fatalf("Validate(%d) = %v, want %v", tc.fd, err, tc.want)
			}
			if err == nil && file != &ep.vfsfd {
				t.Errorf("Validate returned the wrong file")
			}
		})
	}

	if got, ok := fdTable.GetHostFD(hostfd); !ok || got != int32(p[0]) {
		t.Errorf("GetHostFD = %d, %t; want %d, true", got, ok, p[0])
	}
	if _, ok := fdTable.GetHostFD(epfd); ok {
		t.Errorf("GetHostFD of a simulated file succeeded")
	}
	if f, _ := fdTable.Get(hostfd); f != nil {
		t.Errorf("Get of a host descriptor returned %v", f)
	}

	if err := fdTable.Remove(hostfd); err != nil {
		t.Fatalf("Remove(host): %v", err)
	}
	if _, err := unix.FcntlInt(uintptr(p[0]), unix.F_GETFD, 0); err != unix.EBADF {
		t.Errorf("host descriptor still open after Remove: %v", err)
	}
}

func TestFDTableRemoveAll(t *testing.T) {
	fdTable := NewFDTable(maxFD)
	a, b := newTestFile(vfs.FileTypeFile), newTestFile(vfs.FileTypeSocket)
	fdTable.NewFD(&a.vfsfd, FDFlags{})
	fdTable.NewFD(&b.vfsfd, FDFlags{})
	fdTable.RemoveAll()
	if fdTable.Size() != 0 || !a.released || !b.released {
		t.Errorf("RemoveAll left size %d, released %t %t", fdTable.Size(), a.released, b.released)
	}
}
