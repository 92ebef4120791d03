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

package kernel

import (
	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/mmu"
)

// Page tables and the page directory are always mapped with these
// permissions. The leaf entry decides the effective permissions.
const tablePerm = mmu.PTE_P | mmu.PTE_W | mmu.PTE_U

// setupVMLocked gives e an empty page directory whose UVPT slot maps the
// directory itself read-only.
//
// Preconditions: k.mu is locked.
func (k *Kernel) setupVMLocked(e *Env) error {
	fn, err := k.mf.Allocate(true)
	if err != nil {
		return err
	}
	k.mf.IncRef(fn)
	e.pgdir = arch.FrameAddr(fn)
	mmu.TableAt(k.mf, e.pgdir).Set(arch.UVPT.PDX(), mmu.MakePTE(e.pgdir, mmu.PTE_P|mmu.PTE_U))
	return nil
}

// freeVMLocked unmaps every user page of e and releases its page tables and
// page directory.
//
// Preconditions: k.mu is locked.
func (k *Kernel) freeVMLocked(e *Env) {
	pd := mmu.TableAt(k.mf, e.pgdir)
	for pdx := uint32(0); pdx < arch.UTOP.PDX(); pdx++ {
		pde := pd.Get(pdx)
		if !pde.Present() {
			continue
		}
		pt := mmu.TableAt(k.mf, pde.Addr())
		for ptx := uint32(0); ptx < arch.NPTEntries; ptx++ {
			if pte := pt.Get(ptx); pte.Present() {
				k.mf.DecRef(pte.Addr().FrameNumber())
				pt.Set(ptx, 0)
			}
		}
		pd.Set(pdx, 0)
		k.mf.DecRef(pde.Addr().FrameNumber())
	}
	k.mf.DecRef(e.pgdir.FrameNumber())
	e.pgdir = 0
}

// walkLocked returns the page table covering va. If the table does not exist
// and create is set, a zeroed table is allocated; otherwise ok is false.
//
// Preconditions: k.mu is locked.
func (k *Kernel) walkLocked(e *Env, va arch.Addr, create bool) (mmu.Table, bool, error) {
	pd := mmu.TableAt(k.mf, e.pgdir)
	pde := pd.Get(va.PDX())
	if pde.Present() {
		return mmu.TableAt(k.mf, pde.Addr()), true, nil
	}
	if !create {
		return mmu.Table{}, false, nil
	}
	fn, err := k.mf.Allocate(true)
	if err != nil {
		return mmu.Table{}, false, err
	}
	k.mf.IncRef(fn)
	pd.Set(va.PDX(), mmu.MakePTE(arch.FrameAddr(fn), tablePerm))
	return mmu.TableAt(k.mf, arch.FrameAddr(fn)), true, nil
}

// lookupLocked returns the page table entry for va, or false if va has no
// page table.
//
// Preconditions: k.mu is locked.
func (k *Kernel) lookupLocked(e *Env, va arch.Addr) (mmu.PTE, bool) {
	pt, ok, _ := k.walkLocked(e, va, false)
	if !ok {
		return 0, false
	}
	return pt.Get(va.PTX()), true
}

// pageInsertLocked maps frame fn at va in e with perm. Any page already
// mapped at va is removed. The reference on fn is taken before the old page
// is released, so remapping a page over itself is safe.
//
// Preconditions: k.mu is locked.
func (k *Kernel) pageInsertLocked(e *Env, fn uint32, va arch.Addr, perm mmu.PTE) error {
	pt, _, err := k.walkLocked(e, va, true)
	if err != nil {
		return err
	}
	k.mf.IncRef(fn)
	if old := pt.Get(va.PTX()); old.Present() {
		k.mf.DecRef(old.Addr().FrameNumber())
	}
	pt.Set(va.PTX(), mmu.MakePTE(arch.FrameAddr(fn), perm|mmu.PTE_P))
	return nil
}

// pageRemoveLocked unmaps va in e. It is a no-op if nothing is mapped.
//
// Preconditions: k.mu is locked.
func (k *Kernel) pageRemoveLocked(e *Env, va arch.Addr) {
	pt, ok, _ := k.walkLocked(e, va, false)
	if !ok {
		return
	}
	if old := pt.Get(va.PTX()); old.Present() {
		k.mf.DecRef(old.Addr().FrameNumber())
		pt.Set(va.PTX(), 0)
	}
}

// checkUserVA validates a user-supplied page address.
func checkUserVA(va arch.Addr) error {
	if va >= arch.UTOP || !va.IsPageAligned() {
		return kernerr.EInval
	}
	return nil
}

// checkPerm validates user-supplied page permissions: P and U must be set
// and nothing outside PTE_SYSCALL may be.
func checkPerm(perm mmu.PTE) error {
	if !perm.Has(mmu.PTE_P|mmu.PTE_U) || perm&^mmu.PTE_SYSCALL != 0 {
		return kernerr.EInval
	}
	return nil
}

// Mapping describes one mapped user page.
type Mapping struct {
	VA   arch.Addr
	PTE  mmu.PTE
	Refs uint32
}

// Mappings returns every present user page of environment id in ascending
// address order.
func (k *Kernel) Mappings(id EnvID) ([]Mapping, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, false)
	if err != nil {
		return nil, err
	}
	var ms []Mapping
	pd := mmu.TableAt(k.mf, e.pgdir)
	for pdx := uint32(0); pdx < arch.UTOP.PDX(); pdx++ {
		pde := pd.Get(pdx)
		if !pde.Present() {
			continue
		}
		pt := mmu.TableAt(k.mf, pde.Addr())
		for ptx := uint32(0); ptx < arch.NPTEntries; ptx++ {
			if pte := pt.Get(ptx); pte.Present() {
				ms = append(ms, Mapping{
					VA:   arch.PDAddr(pdx) + arch.PageAddr(ptx),
					PTE:  pte,
					Refs: k.mf.Refs(pte.Addr().FrameNumber()),
				})
			}
		}
	}
	return ms, nil
}

// PageTableEntry returns the page table entry for va in environment id, as
// the kernel sees it. ok is false if va has no page table.
func (k *Kernel) PageTableEntry(id EnvID, va arch.Addr) (pte mmu.PTE, ok bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, false)
	if err != nil {
		return 0, false, err
	}
	pte, ok = k.lookupLocked(e, va)
	return pte, ok, nil
}
