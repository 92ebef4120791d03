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

// Package image defines program images: a TOML description of a program's
// text, written in the cpu package's assembly language, and its data
// segments.
//
// Example:
//
//	name = "count"
//	text = """
//		load r1, counter
//		addi r1, 1
//		store r1, counter
//		exit
//	"""
//
//	[[data]]
//	name = "counter"
//	words = [41]
//	writable = true
package image

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"ufork.dev/ufork/pkg/arch"
)

// DataBase is where data segments without an explicit address are placed,
// one after the other.
const DataBase = arch.UTEXT + 0x100000

// MaxStackPages is the largest supported stack.
const MaxStackPages = 16

// Image is a program image.
type Image struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`

	// Text is the program source. It is assembled at UTEXT and execution
	// starts at its first instruction.
	Text string `toml:"text"`

	// StackPages is the number of stack pages. Zero means one.
	StackPages int `toml:"stack_pages"`

	Data []Data `toml:"data"`
}

// Data is a data segment. Its name is a symbol for its address in the
// program text.
type Data struct {
	Name string `toml:"name"`

	// Address is the page aligned load address. Zero means the next free
	// address from DataBase.
	Address uint32 `toml:"address"`

	// Words are the initial 32-bit little-endian words. The rest of the
	// segment is zero.
	Words []int64 `toml:"words"`

	// Writable segments can be written by the program. Fork makes them
	// copy-on-write; read-only segments are shared.
	Writable bool `toml:"writable"`

	// Pages is the size of the segment in pages. Zero means just enough
	// for Words, and at least one.
	Pages int `toml:"pages"`
}

// Parse decodes an image. Unknown keys are an error.
func Parse(b []byte) (*Image, error) {
	var img Image
	md, err := toml.NewDecoder(bytes.NewReader(b)).Decode(&img)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown image keys: %v", undecoded)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Load reads and parses the image file at path.
func Load(path string) (*Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Validate checks the image for errors that do not need assembly to find.
func (img *Image) Validate() error {
	if img.Name == "" {
		return fmt.Errorf("image has no name")
	}
	if img.Text == "" {
		return fmt.Errorf("image %q has no text", img.Name)
	}
	if img.StackPages < 0 || img.StackPages > MaxStackPages {
		return fmt.Errorf("image %q: stack_pages %d out of range [0, %d]", img.Name, img.StackPages, MaxStackPages)
	}
	names := make(map[string]bool)
	for i := range img.Data {
		d := &img.Data[i]
		if d.Name == "" {
			return fmt.Errorf("image %q: data segment %d has no name", img.Name, i)
		}
		if names[d.Name] {
			return fmt.Errorf("image %q: duplicate data segment %q", img.Name, d.Name)
		}
		names[d.Name] = true
		if !arch.Addr(d.Address).IsPageAligned() {
			return fmt.Errorf("image %q: data segment %q address %#x is not page aligned", img.Name, d.Name, d.Address)
		}
		if d.Pages < 0 {
			return fmt.Errorf("image %q: data segment %q has negative size", img.Name, d.Name)
		}
		if d.Pages > 0 && len(d.Words)*4 > d.Pages*arch.PageSize {
			return fmt.Errorf("image %q: data segment %q has %d words, more than fit in %d pages", img.Name, d.Name, len(d.Words), d.Pages)
		}
		for _, w := range d.Words {
			if w < -(1<<31) || w > 1<<32-1 {
				return fmt.Errorf("image %q: data segment %q word %d does not fit in 32 bits", img.Name, d.Name, w)
			}
		}
	}
	return nil
}

// pages returns the size of d in pages.
func (d *Data) pages() int {
	if d.Pages > 0 {
		return d.Pages
	}
	return max(1, (len(d.Words)*4+arch.PageSize-1)/arch.PageSize)
}

// bytes returns the encoded initial contents of d.
func (d *Data) bytes() []byte {
	b := make([]byte, 4*len(d.Words))
	for i, w := range d.Words {
		v := uint32(w)
		b[4*i], b[4*i+1], b[4*i+2], b[4*i+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	return b
}

// region is a span of the address space claimed by a segment.
type region struct {
	name       string
	start, end arch.Addr
}

func checkOverlaps(rs []region) error {
	sort.Slice(rs, func(i, j int) bool { return rs[i].start < rs[j].start })
	for i := 1; i < len(rs); i++ {
		if rs[i].start < rs[i-1].end {
			return fmt.Errorf("%s [%v, %v) overlaps %s [%v, %v)", rs[i].name, rs[i].start, rs[i].end, rs[i-1].name, rs[i-1].start, rs[i-1].end)
		}
	}
	return nil
}
