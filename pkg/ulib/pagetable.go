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

package ulib

import (
	"encoding/binary"
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/mmu"
)

// PageTableView reads the current environment's page tables through the
// read-only UVPT and UVPD self-map. Reads always reflect the kernel's
// current state.
type PageTableView struct {
	k Kernel
}

// PageTables returns the page table view of p.
func (p *Process) PageTables() PageTableView {
	return PageTableView{k: p.k}
}

func (v PageTableView) read(va arch.Addr) (mmu.PTE, error) {
	var buf [4]byte
	if err := v.k.CopyIn(va, buf[:]); err != nil {
		return 0, err
	}
	return mmu.PTE(binary.LittleEndian.Uint32(buf[:])), nil
}

// PDE returns page directory entry pdx.
func (v PageTableView) PDE(pdx uint32) (mmu.PTE, error) {
	if pdx >= arch.NPDEntries {
		return 0, fmt.Errorf("page directory index %#x out of range", pdx)
	}
	return v.read(arch.UVPD + arch.Addr(4*pdx))
}

// PTE returns the page table entry of virtual page pn. The page table must
// exist: reading the entry of a page whose PDE is not present faults.
func (v PageTableView) PTE(pn uint32) (mmu.PTE, error) {
	if pn >= arch.NPages {
		return 0, fmt.Errorf("page number %#x out of range", pn)
	}
	return v.read(arch.UVPT + arch.Addr(4*pn))
}

// Lookup returns the entry mapping va, checking the PDE first. It returns
// zero if va has no page table.
func (v PageTableView) Lookup(va arch.Addr) (mmu.PTE, error) {
	pde, err := v.PDE(va.PDX())
	if err != nil || !pde.Present() {
		return 0, err
	}
	return v.PTE(va.PageNumber())
}
