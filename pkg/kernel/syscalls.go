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
	"io"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/cleanup"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/mmu"
)

// Getenvid returns the id of the current environment.
func (k *Kernel) Getenvid() EnvID {
	syscalls.Increment()
	return k.Current()
}

// Cputs writes s to the console.
func (k *Kernel) Cputs(s string) error {
	syscalls.Increment()
	if k.console == nil {
		return nil
	}
	_, err := io.WriteString(k.console, s)
	return err
}

// Exofork creates a new environment with an empty address space and a copy
// of the current environment's registers, except that Regs[0] is zero so the
// child sees a zero return value. The child is not runnable.
func (k *Kernel) Exofork() (EnvID, error) {
	syscalls.Increment()
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, err := k.currentLocked()
	if err != nil {
		return 0, err
	}
	e, err := k.envAllocLocked(cur.id)
	if err != nil {
		return 0, err
	}
	e.tf = cur.tf
	e.tf.Regs[0] = 0
	log.Debugf("[%v] sys_exofork: child %v", cur.id, e.id)
	return e.id, nil
}

// EnvSetStatus sets the status of environment id to EnvRunnable or
// EnvNotRunnable.
func (k *Kernel) EnvSetStatus(id EnvID, status EnvStatus) error {
	syscalls.Increment()
	if status != EnvRunnable && status != EnvNotRunnable {
		return kernerr.EInval
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, true)
	if err != nil {
		return err
	}
	log.Debugf("[%v] sys_env_set_status %v: %v", k.curIDLocked(), e.id, status)
	e.status = status
	return nil
}

// EnvSetPgfaultUpcall sets the page fault entry point of environment id.
func (k *Kernel) EnvSetPgfaultUpcall(id EnvID, upcall arch.Addr) error {
	syscalls.Increment()
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, true)
	if err != nil {
		return err
	}
	e.pgfaultUpcall = upcall
	return nil
}

// PageAlloc maps a fresh zeroed page at va in environment id with perm,
// replacing any page already mapped there.
func (k *Kernel) PageAlloc(id EnvID, va arch.Addr, perm mmu.PTE) error {
	syscalls.Increment()
	if err := checkUserVA(va); err != nil {
		return err
	}
	if err := checkPerm(perm); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, true)
	if err != nil {
		return err
	}
	fn, err := k.mf.Allocate(true)
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() { k.mf.Free(fn) })
	defer cu.Clean()
	if err := k.pageInsertLocked(e, fn, va, perm); err != nil {
		return err
	}
	cu.Release()
	pagesAllocated.Increment()
	log.Debugf("[%v] sys_page_alloc %v %v [%s]", k.curIDLocked(), e.id, va, perm.FlagString())
	return nil
}

// PageMap maps the page at srcva in environment srcid at dstva in
// environment dstid with perm. A read-only page cannot be mapped writable.
// Mapping a page over itself only changes its permissions.
func (k *Kernel) PageMap(srcid EnvID, srcva arch.Addr, dstid EnvID, dstva arch.Addr, perm mmu.PTE) error {
	syscalls.Increment()
	if err := checkUserVA(srcva); err != nil {
		return err
	}
	if err := checkUserVA(dstva); err != nil {
		return err
	}
	if err := checkPerm(perm); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	src, err := k.envid2envLocked(srcid, true)
	if err != nil {
		return err
	}
	dst, err := k.envid2envLocked(dstid, true)
	if err != nil {
		return err
	}
	pte, ok := k.lookupLocked(src, srcva)
	if !ok || !pte.Present() {
		return kernerr.EInval
	}
	if perm.Has(mmu.PTE_W) && !pte.Has(mmu.PTE_W) {
		return kernerr.EInval
	}
	if err := k.pageInsertLocked(dst, pte.Addr().FrameNumber(), dstva, perm); err != nil {
		return err
	}
	log.Debugf("[%v] sys_page_map %v %v -> %v %v [%s]", k.curIDLocked(), src.id, srcva, dst.id, dstva, perm.FlagString())
	return nil
}

// PageUnmap unmaps the page at va in environment id. Unmapping an unmapped
// page succeeds.
func (k *Kernel) PageUnmap(id EnvID, va arch.Addr) error {
	syscalls.Increment()
	if err := checkUserVA(va); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, true)
	if err != nil {
		return err
	}
	k.pageRemoveLocked(e, va)
	return nil
}

// EnvDestroy destroys environment id and frees its memory. If it is the
// current environment, no environment is current afterwards.
func (k *Kernel) EnvDestroy(id EnvID) error {
	syscalls.Increment()
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, true)
	if err != nil {
		return err
	}
	k.envFreeLocked(e)
	return nil
}

// Yield gives up the CPU. The current environment stays runnable and the
// next call to Schedule picks another environment if there is one.
func (k *Kernel) Yield() {
	syscalls.Increment()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cur != nil && k.cur.status == EnvRunning {
		k.cur.status = EnvRunnable
	}
}
