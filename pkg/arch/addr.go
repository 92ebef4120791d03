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

// Package arch describes the simulated 32-bit machine that environments run
// on: addresses, page geometry, the user memory layout and the trap frames
// exchanged between the kernel and user space.
package arch

import (
	"fmt"

	"ufork.dev/ufork/pkg/bits"
)

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// PTShift is the binary log of the span mapped by one page table.
	PTShift = 22

	// PTSize is the number of bytes mapped by one page table (one page
	// directory entry).
	PTSize = 1 << PTShift

	// NPTEntries is the number of entries in a page table.
	NPTEntries = 1024

	// NPDEntries is the number of entries in a page directory.
	NPDEntries = 1024

	// NPages is the number of virtual pages in the address space.
	NPages = NPTEntries * NPDEntries
)

// Addr represents a user virtual address.
type Addr uint32

// PhysAddr represents a physical address.
type PhysAddr uint32

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return bits.AlignDown(v, PageSize)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	return bits.AlignUp(v, PageSize)
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint32 {
	return uint32(v & (PageSize - 1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return bits.IsAligned(v, PageSize)
}

// PageNumber returns the virtual page number containing v.
func (v Addr) PageNumber() uint32 {
	return uint32(v) >> PageShift
}

// PDX returns the page directory index of v.
func (v Addr) PDX() uint32 {
	return uint32(v) >> PTShift
}

// PTX returns the page table index of v.
func (v Addr) PTX() uint32 {
	return (uint32(v) >> PageShift) & (NPTEntries - 1)
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#08x", uint32(v))
}

// PageAddr returns the address of the first byte of virtual page pn.
func PageAddr(pn uint32) Addr {
	return Addr(pn << PageShift)
}

// PDAddr returns the first address mapped by page directory entry pdx.
func PDAddr(pdx uint32) Addr {
	return Addr(pdx << PTShift)
}

// FrameNumber returns the physical frame number containing p.
func (p PhysAddr) FrameNumber() uint32 {
	return uint32(p) >> PageShift
}

// PageOffset returns the offset of p into its frame.
func (p PhysAddr) PageOffset() uint32 {
	return uint32(p & (PageSize - 1))
}

// FrameAddr returns the physical address of frame number fn.
func FrameAddr(fn uint32) PhysAddr {
	return PhysAddr(fn << PageShift)
}
