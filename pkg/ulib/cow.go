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
	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/metric"
	"ufork.dev/ufork/pkg/mmu"
)

var cowFaults = metric.MustCreateNewUint64Metric("/ulib/cow_faults", "Number of copy-on-write faults resolved.")

// CowHandler is the copy-on-write page fault handler.
//
// It resolves write faults on pages marked PTE_COW by giving the faulting
// environment a private writable copy of the page. Any other fault is fatal.
func CowHandler(p *Process, utf *arch.UTrapframe) error {
	va := utf.FaultVA
	kind := "read"
	if utf.IsWrite() {
		kind = "write"
	}

	pte, err := p.PageTables().Lookup(va)
	if err != nil {
		return p.abort(err, "pgfault: reading page table for %v: %v", va, err)
	}
	if !utf.IsWrite() || !pte.Present() || !pte.Has(mmu.PTE_COW) {
		return p.Fatalf("pgfault: %s fault at %v (pte %v) is not a copy-on-write write fault", kind, va, pte)
	}

	pg := va.RoundDown()
	if err := p.k.PageAlloc(0, arch.PFTEMP, mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
		return p.abort(err, "pgfault: sys_page_alloc: %v", err)
	}
	var page [arch.PageSize]byte
	if err := p.Read(pg, page[:]); err != nil {
		return err
	}
	if err := p.Write(arch.PFTEMP, page[:]); err != nil {
		return err
	}
	if err := p.k.PageMap(0, arch.PFTEMP, 0, pg, mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
		return p.abort(err, "pgfault: sys_page_map: %v", err)
	}
	if err := p.k.PageUnmap(0, arch.PFTEMP); err != nil {
		return p.abort(err, "pgfault: sys_page_unmap: %v", err)
	}

	cowFaults.Increment()
	p.faultLog.Debugf("[%v] copy-on-write %s fault at %v resolved, pc %v", p.k.Getenvid(), kind, va, utf.PC)
	return nil
}
