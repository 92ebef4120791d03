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

package mmu

import (
	"encoding/binary"

	"ufork.dev/ufork/pkg/arch"
)

// PhysicalMemory gives the MMU access to frame contents.
type PhysicalMemory interface {
	// Data returns the contents of frame fn. The slice aliases the frame.
	Data(fn uint32) []byte
}

// Table is a page directory or page table stored in a physical frame.
type Table struct {
	data []byte
}

// TableAt returns the table stored at physical address pa.
func TableAt(mem PhysicalMemory, pa arch.PhysAddr) Table {
	return Table{data: mem.Data(pa.FrameNumber())}
}

// Get returns entry i.
func (t Table) Get(i uint32) PTE {
	return PTE(binary.LittleEndian.Uint32(t.data[4*i:]))
}

// Set stores entry i.
func (t Table) Set(i uint32, pte PTE) {
	binary.LittleEndian.PutUint32(t.data[4*i:], uint32(pte))
}

// AccessType describes a memory access checked by Translate.
type AccessType struct {
	Write bool
	User  bool
}

// Translate walks the page directory at pgdir and returns the physical
// address va maps to under access. On failure it returns a *arch.PageFault
// carrying the hardware error code.
func Translate(mem PhysicalMemory, pgdir arch.PhysAddr, va arch.Addr, at AccessType) (arch.PhysAddr, error) {
	var ec uint32
	if at.Write {
		ec |= arch.FEC_WR
	}
	if at.User {
		ec |= arch.FEC_U
	}

	pde := TableAt(mem, pgdir).Get(va.PDX())
	if !pde.Present() {
		return 0, &arch.PageFault{Addr: va, Err: ec}
	}
	pte := TableAt(mem, pde.Addr()).Get(va.PTX())
	if !pte.Present() {
		return 0, &arch.PageFault{Addr: va, Err: ec}
	}

	// Permissions are the intersection of both levels.
	perm := pde & pte
	if at.User && !perm.Has(PTE_U) {
		return 0, &arch.PageFault{Addr: va, Err: ec | arch.FEC_PR}
	}
	if at.Write && !perm.Has(PTE_W) {
		return 0, &arch.PageFault{Addr: va, Err: ec | arch.FEC_PR}
	}
	return pte.Addr() + arch.PhysAddr(va.PageOffset()), nil
}
