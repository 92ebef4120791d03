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
	"ufork.dev/ufork/pkg/errors"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/kernel"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/metric"
	"ufork.dev/ufork/pkg/mmu"
)

var (
	forks       = metric.MustCreateNewUint64Metric("/ulib/forks", "Number of successful forks.")
	pagesCOW    = metric.MustCreateNewUint64Metric("/ulib/pages_cow", "Number of pages duplicated copy-on-write by fork.")
	pagesShared = metric.MustCreateNewUint64Metric("/ulib/pages_shared", "Number of read-only pages shared by fork.")
)

// ErrNotImplemented is returned by Sfork.
var ErrNotImplemented = errors.New(kernerr.CodeInval, "sfork not implemented")

// ForkResult is the outcome of Fork. In the parent Child is the new
// environment. In the child it is zero.
type ForkResult struct {
	Child kernel.EnvID
}

// InChild reports whether the result was observed by the child.
func (r ForkResult) InChild() bool {
	return r.Child == 0
}

// Fork creates a child environment with a copy-on-write duplicate of the
// current address space.
//
// The parent returns from Fork with the child's id. The child is created
// with a pending continuation and completes the same call with a zero id the
// first time it runs (see Resume). Any failure is fatal, and a partially
// built child is never made runnable.
func Fork(p *Process) (ForkResult, error) {
	if err := SetPgfaultHandler(p, p.syms.MustLookup(SymPgfault)); err != nil {
		return ForkResult{}, err
	}

	p.Regs.Cont = p.syms.MustLookup(SymForkResume)
	child, err := p.k.Exofork()
	p.Regs.Cont = 0
	if err != nil {
		return ForkResult{}, p.abort(err, "sys_exofork: %v", err)
	}
	return forkFrom(p, child)
}

// forkResume is the child's side of Fork. Regs[0] holds the value exofork
// returned in this environment.
func forkResume(p *Process) (uint32, error) {
	r, err := forkFrom(p, kernel.EnvID(p.Regs.Regs[0]))
	return uint32(r.Child), err
}

// forkFrom finishes Fork once exofork has returned envid.
func forkFrom(p *Process, envid kernel.EnvID) (ForkResult, error) {
	if envid == 0 {
		// The library globals still describe the parent.
		if err := p.setThisEnv(p.k.Getenvid()); err != nil {
			return ForkResult{}, err
		}
		return ForkResult{}, nil
	}

	if err := duplicateAddressSpace(p, envid); err != nil {
		return ForkResult{}, err
	}
	if err := p.k.PageAlloc(envid, arch.UXStackBottom(), mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
		return ForkResult{}, p.abort(err, "fork: allocating child exception stack: %v", err)
	}
	me, err := p.ThisEnv()
	if err != nil {
		return ForkResult{}, p.abort(err, "fork: %v", err)
	}
	if err := p.k.EnvSetPgfaultUpcall(envid, me.PgfaultUpcall); err != nil {
		return ForkResult{}, p.abort(err, "fork: sys_env_set_pgfault_upcall: %v", err)
	}
	if err := p.k.EnvSetStatus(envid, kernel.EnvRunnable); err != nil {
		return ForkResult{}, p.abort(err, "fork: sys_env_set_status: %v", err)
	}

	forks.Increment()
	log.Debugf("[%v] forked child %v", me.ID, envid)
	return ForkResult{Child: envid}, nil
}

// duplicateAddressSpace maps every present page in [UTEXT, UTOP) except the
// exception stack into child, in ascending address order.
func duplicateAddressSpace(p *Process, child kernel.EnvID) error {
	pt := p.PageTables()
	for base := arch.UTEXT; base < arch.UTOP; base += arch.PTSize {
		pde, err := pt.PDE(base.PDX())
		if err != nil {
			return p.abort(err, "fork: reading PDE for %v: %v", base, err)
		}
		if !pde.Present() {
			continue
		}
		for va := base; va < base+arch.PTSize && va < arch.UXStackBottom(); va += arch.PageSize {
			pte, err := pt.PTE(va.PageNumber())
			if err != nil {
				return p.abort(err, "fork: reading PTE for %v: %v", va, err)
			}
			if !pte.Present() {
				continue
			}
			if err := duppage(p, child, va, pte); err != nil {
				return err
			}
		}
	}
	return nil
}

// duppage maps the page at va into child. Writable and copy-on-write pages
// become copy-on-write in both environments. The parent's entry is
// re-marked even when it already is copy-on-write. Other pages are shared
// read-only.
func duppage(p *Process, child kernel.EnvID, va arch.Addr, pte mmu.PTE) error {
	if pte.HasAny(mmu.PTE_W | mmu.PTE_COW) {
		const perm = mmu.PTE_P | mmu.PTE_U | mmu.PTE_COW
		if err := p.k.PageMap(0, va, child, va, perm); err != nil {
			return p.abort(err, "duppage: mapping %v into child: %v", va, err)
		}
		if err := p.k.PageMap(0, va, 0, va, perm); err != nil {
			return p.abort(err, "duppage: remapping %v copy-on-write: %v", va, err)
		}
		pagesCOW.Increment()
		return nil
	}
	if err := p.k.PageMap(0, va, child, va, mmu.PTE_P|mmu.PTE_U); err != nil {
		return p.abort(err, "duppage: sharing %v with child: %v", va, err)
	}
	pagesShared.Increment()
	return nil
}

// Sfork is the shared-memory variant of Fork. It is not supported: it fails
// without side effects and never falls back to Fork.
func Sfork(p *Process) (ForkResult, error) {
	return ForkResult{}, ErrNotImplemented
}

// Resume runs the continuation pending in p's registers, if any, and clears
// it. ok is false if there was none.
func Resume(p *Process) (v uint32, ok bool, err error) {
	if p.Regs.Cont == 0 {
		return 0, false, nil
	}
	addr := p.Regs.Cont
	p.Regs.Cont = 0
	cont, found := p.syms.continuation(addr)
	if !found {
		return 0, true, p.Fatalf("resuming at %v: not a library continuation", addr)
	}
	v, err = cont(p)
	return v, true, err
}
