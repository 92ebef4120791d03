// Copyright 2026 The ufork Authors.
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

package image

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ufork.dev/ufork/pkg/arch"
)

func TestBuiltins(t *testing.T) {
	want := []string{"badwrite", "cowdemo", "forktree", "sfork", "stack"}
	if diff := cmp.Diff(want, Builtins()); diff != "" {
		t.Fatalf("Builtins mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		img, err := Builtin(name)
		if err != nil {
			t.Errorf("Builtin(%q) failed: %v", name, err)
			continue
		}
		if img.Name != name {
			t.Errorf("Builtin(%q) has name %q", name, img.Name)
		}
		if _, err := Assemble(img); err != nil {
			t.Errorf("Assemble(%q) failed: %v", name, err)
		}
	}
	if _, err := Builtin("nosuch"); err == nil {
		t.Errorf("Builtin(nosuch) succeeded")
	}
}

func TestAssembleLayout(t *testing.T) {
	img, err := Parse([]byte(`
name = "layout"
stack_pages = 3
text = """
	load r1, a
	store r1, b+8
	exit
"""

[[data]]
name = "a"
words = [1, -1]

[[data]]
name = "b"
pages = 2
writable = true

[[data]]
name = "c"
address = 0x20000000
words = [5]
writable = true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	prog, err := Assemble(img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	type seg struct {
		Addr     arch.Addr
		MemSize  uint32
		Writable bool
	}
	var got []seg
	for _, s := range prog.Segments {
		got = append(got, seg{s.Addr, s.MemSize, s.Writable})
	}
	want := []seg{
		{arch.UTEXT, 24, false},
		{DataBase, arch.PageSize, false},
		{DataBase + arch.PageSize, 2 * arch.PageSize, true},
		{0x20000000, arch.PageSize, true},
		{arch.ULIBDATA, arch.PageSize, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, prog.Segments[1].Data); diff != "" {
		t.Errorf("data of a mismatch (-want +got):\n%s", diff)
	}
	if prog.Entry != arch.UTEXT || prog.StackPages != 3 {
		t.Errorf("entry %v, stack pages %d, want %v and 3", prog.Entry, prog.StackPages, arch.UTEXT)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		want string
	}{
		{"unknown key", "name = \"x\"\ntext = \"exit\"\ncolour = 1", "unknown image keys"},
		{"no name", "text = \"exit\"", "no name"},
		{"no text", "name = \"x\"", "no text"},
		{"bad stack", "name = \"x\"\ntext = \"exit\"\nstack_pages = 99", "stack_pages"},
		{"duplicate data", "name = \"x\"\ntext = \"exit\"\n[[data]]\nname = \"a\"\n[[data]]\nname = \"a\"", "duplicate"},
		{"unaligned", "name = \"x\"\ntext = \"exit\"\n[[data]]\nname = \"a\"\naddress = 0x900010", "not page aligned"},
		{"too many words", "name = \"x\"\ntext = \"exit\"\n[[data]]\nname = \"a\"\npages = 1\nwords = [" + strings.Repeat("1, ", 1025) + "1]", "more than fit"},
		{"syntax", "name = ", "decoding image"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse got error %v, want one containing %q", err, tc.want)
			}
		})
	}
}

func TestAssembleErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		img  Image
		want string
	}{
		{
			name: "overlap",
			img: Image{Name: "x", Text: "exit", Data: []Data{
				{Name: "a", Address: uint32(DataBase), Pages: 2},
				{Name: "b", Address: uint32(DataBase + arch.PageSize)},
			}},
			want: "overlaps",
		},
		{
			name: "library data",
			img:  Image{Name: "x", Text: "exit", Data: []Data{{Name: "a", Address: uint32(arch.ULIBDATA)}}},
			want: "overlaps",
		},
		{
			name: "below text",
			img:  Image{Name: "x", Text: "exit", Data: []Data{{Name: "a", Address: uint32(arch.UTEMP)}}},
			want: "outside the program area",
		},
		{
			name: "undefined symbol",
			img:  Image{Name: "x", Text: "load r1, nothing"},
			want: "undefined symbol",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(&tc.img)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Assemble got error %v, want one containing %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.toml")
	if err := os.WriteFile(path, []byte("name = \"prog\"\ntext = \"exit\"\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Name != "prog" {
		t.Errorf("Load got name %q want %q", img.Name, "prog")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}

func TestProgramLoads(t *testing.T) {
	img, err := Builtin("cowdemo")
	if err != nil {
		t.Fatalf("Builtin failed: %v", err)
	}
	prog, err := Assemble(img)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(prog.Segments) != 3 {
		t.Errorf("cowdemo has %d segments, want text, value and library data", len(prog.Segments))
	}
}
