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

package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hostsim.dev/hostsim/pkg/abi/linux"
	slinux "hostsim.dev/hostsim/pkg/sentry/syscalls/linux"
)

func TestSyscallDocsSorted(t *testing.T) {
	docs := syscallDocs(slinux.AMD64)
	if len(docs) != len(slinux.AMD64.Table) {
		t.Fatalf("got %d docs, want %d", len(docs), len(slinux.AMD64.Table))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Num >= docs[i].Num {
			t.Errorf("docs not sorted: %d before %d", docs[i-1].Num, docs[i].Num)
		}
	}
	if got, want := docs[0], (SyscallDoc{Num: linux.SYS_READ, Name: "read", Support: "Full Support", Note: "Fully Supported."}); got != want {
		t.Errorf("docs[0] = %+v, want %+v", got, want)
	}
}

func TestOutputTable(t *testing.T) {
	var buf bytes.Buffer
	if err := outputTable(&buf, syscallDocs(slinux.AMD64)); err != nil {
		t.Fatalf("outputTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(slinux.AMD64.Table)+1 {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(slinux.AMD64.Table)+1, buf.String())
	}
	if fields := strings.Fields(lines[0]); !cmp.Equal(fields, []string{"NUM", "NAME", "SUPPORT", "NOTE"}) {
		t.Errorf("header = %q", lines[0])
	}
	var found bool
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "233 ") {
			found = true
			if !strings.Contains(line, "epoll_ctl") || !strings.Contains(line, "Partial Support") {
				t.Errorf("epoll_ctl line = %q", line)
			}
		}
	}
	if !found {
		t.Errorf("epoll_ctl missing from table:\n%s", buf.String())
	}
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	want := syscallDocs(slinux.AMD64)
	if err := outputJSON(&buf, want); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	var got []SyscallDoc
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := outputCSV(&buf, syscallDocs(slinux.AMD64)); err != nil {
		t.Fatalf("outputCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != len(slinux.AMD64.Table)+1 {
		t.Fatalf("got %d rows, want %d", len(rows), len(slinux.AMD64.Table)+1)
	}
	var pwait []string
	for _, row := range rows {
		if row[1] == "epoll_pwait" {
			pwait = row
		}
	}
	if want := []string{"281", "epoll_pwait", "Unimplemented"}; pwait == nil || !cmp.Equal(pwait[:3], want) {
		t.Errorf("epoll_pwait row = %q, want prefix %q", pwait, want)
	}
}
