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
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/mmu"
)

// CopyIn reads len(dst) bytes at va from the current environment's address
// space with user permissions. A failed translation returns *arch.PageFault.
func (k *Kernel) CopyIn(va arch.Addr, dst []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.currentLocked()
	if err != nil {
		return err
	}
	return k.copyLocked(e, va, dst, false)
}

// CopyOut writes src at va in the current environment's address space with
// user permissions. A failed translation returns *arch.PageFault; the pages
// before the faulting one may already have been written.
func (k *Kernel) CopyOut(va arch.Addr, src []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.currentLocked()
	if err != nil {
		return err
	}
	return k.copyLocked(e, va, src, true)
}

// Preconditions: k.mu is locked.
func (k *Kernel) copyLocked(e *Env, va arch.Addr, buf []byte, write bool) error {
	at := mmu.AccessType{Write: write, User: true}
	for len(buf) > 0 {
		pa, err := mmu.Translate(k.mf, e.pgdir, va, at)
		if err != nil {
			return err
		}
		n := min(len(buf), arch.PageSize-int(va.PageOffset()))
		data := k.mf.Data(pa.FrameNumber())[pa.PageOffset():]
		if write {
			copy(data[:n], buf[:n])
		} else {
			copy(buf[:n], data[:n])
		}
		buf = buf[n:]
		va += arch.Addr(n)
	}
	return nil
}

// userMemCheckLocked reports whether [va, va+n) is mapped in e with user
// write permission.
//
// Preconditions: k.mu is locked.
func (k *Kernel) userMemCheckLocked(e *Env, va arch.Addr, n int) bool {
	end := va + arch.Addr(n)
	if end < va || end > arch.ULIM {
		return false
	}
	for p := va.RoundDown(); p < end; p += arch.PageSize {
		if _, err := mmu.Translate(k.mf, e.pgdir, p, mmu.AccessType{Write: true, User: true}); err != nil {
			return false
		}
	}
	return true
}

// PageFault delivers fault to the current environment.
//
// If the environment has an upcall, a UTrapframe describing the fault and
// the current registers is pushed on the user exception stack, SP is pointed
// at it and PC at the upcall, and the upcall address is returned. If the
// environment is already running on the exception stack, the new frame goes
// below the current one with one empty word in between.
//
// If there is no upcall, or the exception stack is missing or overflows, the
// environment is destroyed and *FaultError is returned.
func (k *Kernel) PageFault(fault arch.PageFault) (arch.Addr, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.currentLocked()
	if err != nil {
		return 0, err
	}
	tf := &e.tf
	if e.pgfaultUpcall == 0 {
		return 0, k.faultDestroyLocked(e, fault, "no page fault upcall")
	}

	var sp arch.Addr
	if tf.SP >= arch.UXStackBottom() && tf.SP < arch.UXSTACKTOP {
		sp = tf.SP - 4 - arch.UTrapframeSize
	} else {
		sp = arch.UXSTACKTOP - arch.UTrapframeSize
	}
	if !k.userMemCheckLocked(e, sp, arch.UTrapframeSize) || sp < arch.UXStackBottom() {
		return 0, k.faultDestroyLocked(e, fault, "bad exception stack")
	}

	utf := arch.UTrapframe{
		FaultVA: fault.Addr,
		Err:     fault.Err,
		Regs:    tf.Regs,
		PC:      tf.PC,
		SP:      tf.SP,
	}
	var buf [arch.UTrapframeSize]byte
	utf.MarshalBytes(buf[:])
	if err := k.copyLocked(e, sp, buf[:], true); err != nil {
		return 0, k.faultDestroyLocked(e, fault, "bad exception stack")
	}
	tf.SP = sp
	tf.PC = e.pgfaultUpcall
	faultsDelivered.Increment()
	return e.pgfaultUpcall, nil
}

// Preconditions: k.mu is locked.
func (k *Kernel) faultDestroyLocked(e *Env, fault arch.PageFault, reason string) error {
	ferr := &FaultError{
		Env:    e.id,
		Fault:  fault,
		PC:     e.tf.PC,
		Reason: reason,
	}
	log.Warningf("%v", ferr)
	k.envFreeLocked(e)
	return ferr
}
