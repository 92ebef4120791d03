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

// Package mmu defines page table entries and the two-level translation the
// simulated hardware performs on every user memory access.
package mmu

import (
	"fmt"
	"strings"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/bits"
)

// PTE is a page table or page directory entry: a frame address in the upper
// 20 bits and flags in the lower 12.
type PTE uint32

// Page table entry flags.
const (
	PTE_P   PTE = 0x001 // Present
	PTE_W   PTE = 0x002 // Writeable
	PTE_U   PTE = 0x004 // User
	PTE_PWT PTE = 0x008 // Write-Through
	PTE_PCD PTE = 0x010 // Cache-Disable
	PTE_A   PTE = 0x020 // Accessed
	PTE_D   PTE = 0x040 // Dirty

	// PTE_AVAIL are the bits available for software use. The hardware and
	// kernel never interpret them.
	PTE_AVAIL PTE = 0xE00

	// PTE_COW marks copy-on-write entries. It is one of the PTE_AVAIL bits.
	PTE_COW PTE = 0x800

	// PTE_SYSCALL are the only flags user space may pass to the mapping
	// system calls.
	PTE_SYSCALL = PTE_AVAIL | PTE_P | PTE_W | PTE_U

	flagsMask PTE = arch.PageSize - 1
)

// MakePTE returns an entry mapping physical address pa with flags.
func MakePTE(pa arch.PhysAddr, flags PTE) PTE {
	return PTE(pa)&^flagsMask | flags&flagsMask
}

// Addr returns the physical address the entry refers to.
func (p PTE) Addr() arch.PhysAddr {
	return arch.PhysAddr(p &^ flagsMask)
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() PTE {
	return p & flagsMask
}

// Has returns true if all of flags are set in p.
func (p PTE) Has(flags PTE) bool {
	return bits.IsOn(p, flags)
}

// HasAny returns true if any of flags is set in p.
func (p PTE) HasAny(flags PTE) bool {
	return bits.IsAnyOn(p, flags)
}

// Present returns true if the entry is present.
func (p PTE) Present() bool {
	return p.Has(PTE_P)
}

var flagNames = []struct {
	flag PTE
	name string
}{
	{PTE_P, "P"},
	{PTE_W, "W"},
	{PTE_U, "U"},
	{PTE_COW, "COW"},
}

// FlagString returns a compact representation of the interesting flags, such
// as "P|U|COW".
func (p PTE) FlagString() string {
	var names []string
	for _, f := range flagNames {
		if p.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%#08x[%s]", uint32(p.Addr()), p.FlagString())
}
