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
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/kernel"
	"ufork.dev/ufork/pkg/mmu"
)

const cowPerm = mmu.PTE_P | mmu.PTE_U | mmu.PTE_COW

// forkChild forks te.p and returns the child's id.
func forkChild(t *testing.T, te *testEnv) kernel.EnvID {
	t.Helper()
	r, err := Fork(te.p)
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if r.InChild() {
		t.Fatalf("Fork returned the child result in the parent")
	}
	if te.p.Regs.Cont != 0 {
		t.Errorf("parent has pending continuation %v after Fork", te.p.Regs.Cont)
	}
	return r.Child
}

// resumeChild makes child current and completes its side of Fork.
func resumeChild(t *testing.T, te *testEnv, child kernel.EnvID) *Process {
	t.Helper()
	te.switchTo(t, child)
	tf, err := te.k.Trapframe(child)
	if err != nil {
		t.Fatalf("Trapframe failed: %v", err)
	}
	cp := NewProcess(te.k, tf, Options{Symbols: te.p.Symbols()})
	v, ok, err := Resume(cp)
	if err != nil || !ok {
		t.Fatalf("Resume in child got (ok=%v, err=%v)", ok, err)
	}
	if v != 0 {
		t.Errorf("fork returned %#x in the child, want 0", v)
	}
	return cp
}

// TestForkScenario walks through a parent and child diverging on a shared
// writable page.
func TestForkScenario(t *testing.T) {
	te := newTestEnv(t, nil)
	parent := te.id
	child := forkChild(t, te)

	ppte := te.pte(t, parent, dataVA)
	cpte := te.pte(t, child, dataVA)
	if ppte.Flags() != cowPerm || cpte.Flags() != cowPerm {
		t.Errorf("after fork parent pte %v, child pte %v, want both P|U|COW", ppte, cpte)
	}
	if ppte.Addr() != cpte.Addr() {
		t.Errorf("after fork parent and child map different frames: %v, %v", ppte, cpte)
	}
	orig := ppte.Addr().FrameNumber()

	// The parent writes and gets a private page.
	if err := te.p.WriteWord(dataVA, 222); err != nil {
		t.Fatalf("parent write failed: %v", err)
	}
	ppte = te.pte(t, parent, dataVA)
	if ppte.Flags() != mmu.PTE_P|mmu.PTE_U|mmu.PTE_W || ppte.Addr().FrameNumber() == orig {
		t.Errorf("after parent write parent pte got %v, want a new P|U|W frame", ppte)
	}
	if got := te.pte(t, child, dataVA); got != cpte {
		t.Errorf("parent write changed child pte from %v to %v", cpte, got)
	}
	if got := te.mf.Refs(orig); got != 1 {
		t.Errorf("original frame refs got %d want 1", got)
	}
	if v, _ := te.p.ReadWord(dataVA); v != 222 {
		t.Errorf("parent reads %d want 222", v)
	}

	// The child still sees the old value, and its own writes stay private.
	cp := resumeChild(t, te, child)
	if v, err := cp.ReadWord(dataVA); err != nil || v != dataWord {
		t.Errorf("child reads (%d, %v) want (%d, nil)", v, err, dataWord)
	}
	if err := cp.WriteWord(dataVA, 333); err != nil {
		t.Fatalf("child write failed: %v", err)
	}
	te.switchTo(t, parent)
	if v, _ := te.p.ReadWord(dataVA); v != 222 {
		t.Errorf("after child write parent reads %d want 222", v)
	}
}

func TestForkChildRebindsThisEnv(t *testing.T) {
	te := newTestEnv(t, nil)
	child := forkChild(t, te)
	libdata := te.pte(t, child, arch.ULIBDATA)

	te.switchTo(t, child)
	tf, _ := te.k.Trapframe(child)
	cp := NewProcess(te.k, tf, Options{Symbols: te.p.Symbols()})
	if me, _ := cp.ThisEnv(); me.ID != te.id {
		t.Errorf("before resuming, child thisenv got %v want parent %v", me.ID, te.id)
	}
	if _, _, err := Resume(cp); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	me, err := cp.ThisEnv()
	if err != nil {
		t.Fatalf("ThisEnv failed: %v", err)
	}
	if me.ID != child {
		t.Errorf("child thisenv got %v want %v", me.ID, child)
	}
	// Rebinding wrote the library data page, which the child's own handler
	// copied.
	if got := te.pte(t, child, arch.ULIBDATA); got.Has(mmu.PTE_COW) || got.Addr() == libdata.Addr() {
		t.Errorf("child library data pte got %v, want a private copy of %v", got, libdata)
	}
	te.switchTo(t, te.id)
	if me, _ := te.p.ThisEnv(); me.ID != te.id {
		t.Errorf("parent thisenv got %v want %v", me.ID, te.id)
	}
}

func TestForkDuplicatesAddressSpace(t *testing.T) {
	te := newTestEnv(t, nil)
	// A page in a second page table, and a page that is already
	// copy-on-write.
	far := arch.UTEXT + 3*arch.PTSize
	if err := te.k.PageAlloc(0, far, mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
		t.Fatalf("PageAlloc failed: %v", err)
	}
	cow := dataVA + arch.PageSize
	if err := te.k.PageAlloc(0, cow, cowPerm); err != nil {
		t.Fatalf("PageAlloc failed: %v", err)
	}
	// Pages below UTEXT are not duplicated.
	if err := te.k.PageAlloc(0, arch.UTEMP, mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
		t.Fatalf("PageAlloc failed: %v", err)
	}

	before, err := te.k.Mappings(te.id)
	if err != nil {
		t.Fatalf("Mappings failed: %v", err)
	}
	child := forkChild(t, te)

	got := make(map[arch.Addr]mmu.PTE)
	cms, err := te.k.Mappings(child)
	if err != nil {
		t.Fatalf("Mappings(child) failed: %v", err)
	}
	for _, m := range cms {
		got[m.VA] = m.PTE
	}
	want := make(map[arch.Addr]string)
	for _, m := range before {
		switch {
		case m.VA < arch.UTEXT:
		case m.VA == arch.UXStackBottom():
			want[m.VA] = "P|W|U"
		case m.PTE.HasAny(mmu.PTE_W | mmu.PTE_COW):
			want[m.VA] = "P|U|COW"
			if p := te.pte(t, te.id, m.VA); p.Flags() != cowPerm {
				t.Errorf("parent pte for %v got %v want P|U|COW", m.VA, p)
			}
		default:
			want[m.VA] = "P|U"
		}
	}
	want[arch.UXStackBottom()] = "P|W|U"
	gotFlags := make(map[arch.Addr]string)
	for va, pte := range got {
		gotFlags[va] = pte.FlagString()
		if va == arch.UXStackBottom() {
			continue
		}
		if ppte := te.pte(t, te.id, va); ppte.Addr() != pte.Addr() {
			t.Errorf("child %v maps frame %v, parent maps %v", va, pte.Addr(), ppte.Addr())
		}
	}
	if diff := cmp.Diff(want, gotFlags); diff != "" {
		t.Errorf("child mappings mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got[far]; !ok {
		t.Errorf("page %v in a second page table was not duplicated", far)
	}
}

func TestForkExceptionStackIsPrivate(t *testing.T) {
	te := newTestEnv(t, nil)
	child := forkChild(t, te)
	ppte := te.pte(t, te.id, arch.UXStackBottom())
	cpte := te.pte(t, child, arch.UXStackBottom())
	if ppte.Addr() == cpte.Addr() {
		t.Errorf("parent and child share exception stack frame %v", ppte.Addr())
	}
	for _, pte := range []mmu.PTE{ppte, cpte} {
		if pte.Has(mmu.PTE_COW) || !pte.Has(mmu.PTE_W) {
			t.Errorf("exception stack pte got %v want P|U|W", pte)
		}
	}
}

func TestForkTwice(t *testing.T) {
	te := newTestEnv(t, nil)
	first := forkChild(t, te)
	second := forkChild(t, te)
	for _, id := range []kernel.EnvID{te.id, first, second} {
		if pte := te.pte(t, id, dataVA); pte.Flags() != cowPerm {
			t.Errorf("env %v pte for %v got %v want P|U|COW", id, dataVA, pte)
		}
	}
	if got := te.mf.Refs(te.pte(t, te.id, dataVA).Addr().FrameNumber()); got != 3 {
		t.Errorf("shared frame refs got %d want 3", got)
	}
	for _, id := range []kernel.EnvID{first, second} {
		cp := resumeChild(t, te, id)
		if v, err := cp.ReadWord(dataVA); err != nil || v != dataWord {
			t.Errorf("child %v reads (%d, %v) want (%d, nil)", id, v, err, dataWord)
		}
	}
}

// recordingKernel records system calls that target an environment other
// than the current one, and can fail them.
type recordingKernel struct {
	*kernel.Kernel
	calls []string

	// failMapAt fails the n-th PageMap into another environment with
	// ENoMem. Zero disables.
	failMapAt int
	maps      int
}

func (r *recordingKernel) record(format string, v ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, v...))
}

func (r *recordingKernel) PageMap(srcid kernel.EnvID, srcva arch.Addr, dstid kernel.EnvID, dstva arch.Addr, perm mmu.PTE) error {
	if dstid != 0 {
		r.maps++
		r.record("page_map")
		if r.maps == r.failMapAt {
			return kernerr.ENoMem
		}
	}
	return r.Kernel.PageMap(srcid, srcva, dstid, dstva, perm)
}

func (r *recordingKernel) PageAlloc(id kernel.EnvID, va arch.Addr, perm mmu.PTE) error {
	if id != 0 {
		r.record("page_alloc %v", va)
	}
	return r.Kernel.PageAlloc(id, va, perm)
}

func (r *recordingKernel) EnvSetPgfaultUpcall(id kernel.EnvID, upcall arch.Addr) error {
	if id != 0 {
		r.record("set_pgfault_upcall")
	}
	return r.Kernel.EnvSetPgfaultUpcall(id, upcall)
}

func (r *recordingKernel) EnvSetStatus(id kernel.EnvID, status kernel.EnvStatus) error {
	if info, ok := r.Kernel.Env(id); ok {
		r.record("set_status %v (upcall set: %v)", status, info.PgfaultUpcall != 0)
	}
	return r.Kernel.EnvSetStatus(id, status)
}

func TestForkActivatesChildLast(t *testing.T) {
	var rk *recordingKernel
	te := newTestEnv(t, func(k *kernel.Kernel) Kernel {
		rk = &recordingKernel{Kernel: k}
		return rk
	})
	rk.calls = nil
	forkChild(t, te)

	n := len(rk.calls)
	if n < 3 {
		t.Fatalf("too few calls recorded: %v", rk.calls)
	}
	want := []string{
		fmt.Sprintf("page_alloc %v", arch.UXStackBottom()),
		"set_pgfault_upcall",
		"set_status runnable (upcall set: true)",
	}
	if diff := cmp.Diff(want, rk.calls[n-3:]); diff != "" {
		t.Errorf("last calls of fork mismatch (-want +got):\n%s", diff)
	}
	for _, c := range rk.calls[:n-3] {
		if c != "page_map" {
			t.Errorf("unexpected call %q before the child's exception stack was set up", c)
		}
	}
}

func TestForkFailureAbandonsChild(t *testing.T) {
	te := newTestEnv(t, func(k *kernel.Kernel) Kernel {
		return &recordingKernel{Kernel: k, failMapAt: 2}
	})
	_, err := Fork(te.p)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("Fork got %v, want *FatalError", err)
	}
	if !errors.Is(err, kernerr.ENoMem) {
		t.Errorf("Fork error %v does not carry %v", err, kernerr.ENoMem)
	}
	if te.p.State() != Aborted {
		t.Errorf("state got %v want %v", te.p.State(), Aborted)
	}
	var children int
	for _, info := range te.k.Envs() {
		if info.ParentID != te.id {
			continue
		}
		children++
		if info.Status == kernel.EnvRunnable {
			t.Errorf("partially built child %v is runnable", info.ID)
		}
	}
	if children != 1 {
		t.Errorf("got %d children want 1", children)
	}
}

func TestSfork(t *testing.T) {
	te := newTestEnv(t, nil)
	before := len(te.k.Envs())
	r, err := Sfork(te.p)
	if err != ErrNotImplemented {
		t.Errorf("Sfork got err %v want %v", err, ErrNotImplemented)
	}
	if r.Child != 0 {
		t.Errorf("Sfork got child %v", r.Child)
	}
	if got := len(te.k.Envs()); got != before {
		t.Errorf("Sfork created environments: %d want %d", got, before)
	}
	if te.p.State() != Idle {
		t.Errorf("Sfork changed state to %v", te.p.State())
	}
}

// selfMapKernel counts PageMap calls that re-map a page of the current
// environment over itself.
type selfMapKernel struct {
	*kernel.Kernel
	remaps map[arch.Addr]int
}

func (s *selfMapKernel) PageMap(srcid kernel.EnvID, srcva arch.Addr, dstid kernel.EnvID, dstva arch.Addr, perm mmu.PTE) error {
	if srcid == 0 && dstid == 0 && srcva == dstva {
		s.remaps[srcva]++
	}
	return s.Kernel.PageMap(srcid, srcva, dstid, dstva, perm)
}

func TestForkReassertsParentCOW(t *testing.T) {
	var sk *selfMapKernel
	te := newTestEnv(t, func(k *kernel.Kernel) Kernel {
		sk = &selfMapKernel{Kernel: k, remaps: make(map[arch.Addr]int)}
		return sk
	})
	forkChild(t, te)
	if pte := te.pte(t, te.id, dataVA); pte.Flags() != cowPerm {
		t.Fatalf("parent pte for %v got %v want P|U|COW", dataVA, pte)
	}

	// The page is already copy-on-write; the second fork re-marks it anyway.
	clear(sk.remaps)
	forkChild(t, te)
	if got := sk.remaps[dataVA]; got != 1 {
		t.Errorf("parent re-mapped %v %d times during the second fork, want 1", dataVA, got)
	}
	if got := sk.remaps[textVA]; got != 0 {
		t.Errorf("parent re-mapped read-only %v %d times, want 0", textVA, got)
	}
}
