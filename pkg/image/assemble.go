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
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/cpu"
	"ufork.dev/ufork/pkg/kernel"
)

// Assemble lays out img and assembles its text, producing a program the
// kernel can load. Every program also gets a writable library data page at
// ULIBDATA.
func Assemble(img *Image) (*kernel.Program, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	syms := make(map[string]uint32)
	regions := []region{{name: "library data", start: arch.ULIBDATA, end: arch.ULIBDATA + arch.PageSize}}
	var segs []kernel.Segment
	next := DataBase
	for i := range img.Data {
		d := &img.Data[i]
		addr := arch.Addr(d.Address)
		if addr == 0 {
			addr = next
		}
		size := arch.Addr(d.pages() * arch.PageSize)
		if addr < arch.UTEXT || addr+size < addr || addr+size > arch.USTACKTOP-MaxStackPages*arch.PageSize {
			return nil, fmt.Errorf("image %q: data segment %q at %v is outside the program area", img.Name, d.Name, addr)
		}
		next = max(next, addr+size)
		syms[d.Name] = uint32(addr)
		regions = append(regions, region{name: "data segment " + d.Name, start: addr, end: addr + size})
		segs = append(segs, kernel.Segment{
			Addr:     addr,
			Data:     d.bytes(),
			MemSize:  uint32(size),
			Writable: d.Writable,
		})
	}

	code, err := cpu.Assemble(img.Text, arch.UTEXT, syms)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", img.Name, err)
	}
	textEnd, _ := (arch.UTEXT + arch.Addr(len(code))).RoundUp()
	regions = append(regions, region{name: "text", start: arch.UTEXT, end: textEnd})
	if err := checkOverlaps(regions); err != nil {
		return nil, fmt.Errorf("image %q: %w", img.Name, err)
	}

	prog := &kernel.Program{
		Segments: []kernel.Segment{{
			Addr:    arch.UTEXT,
			Data:    code,
			MemSize: uint32(len(code)),
		}},
		Entry:      arch.UTEXT,
		StackPages: max(img.StackPages, 1),
	}
	prog.Segments = append(prog.Segments, segs...)
	prog.Segments = append(prog.Segments, kernel.Segment{
		Addr:     arch.ULIBDATA,
		MemSize:  arch.PageSize,
		Writable: true,
	})
	return prog, nil
}
