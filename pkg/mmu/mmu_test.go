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
	"errors"
	"testing"

	"ufork.dev/ufork/pkg/arch"
)

type fakeMemory map[uint32][]byte

func (m fakeMemory) Data(fn uint32) []byte {
	d, ok := m[fn]
	if !ok {
		d = make([]byte, arch.PageSize)
		m[fn] = d
	}
	return d
}

func TestPTE(t *testing.T) {
	pte := MakePTE(arch.FrameAddr(7), PTE_P|PTE_U|PTE_COW)
	if got, want := pte.Addr(), arch.FrameAddr(7); got != want {
		t.Errorf("Addr() got %#x want %#x", got, want)
	}
	if !pte.Has(PTE_P | PTE_COW) {
		t.Errorf("Has(P|COW) got false for %v", pte)
	}
	if pte.Has(PTE_W) || pte.HasAny(PTE_W) {
		t.Errorf("%v unexpectedly writable", pte)
	}
	if got, want := pte.FlagString(), "P|U|COW"; got != want {
		t.Errorf("FlagString() got %q want %q", got, want)
	}
	if PTE_SYSCALL.Has(PTE_A) {
		t.Errorf("PTE_SYSCALL must not contain hardware-managed bits")
	}
}

func TestTranslate(t *testing.T) {
	mem := fakeMemory{}
	const (
		pgdirFrame = 1
		ptFrame    = 2
		roFrame    = 3
		rwFrame    = 4
	)
	pgdir := arch.FrameAddr(pgdirFrame)
	ro := arch.UTEXT
	rw := arch.UTEXT + arch.PageSize
	TableAt(mem, pgdir).Set(ro.PDX(), MakePTE(arch.FrameAddr(ptFrame), PTE_P|PTE_W|PTE_U))
	pt := TableAt(mem, arch.FrameAddr(ptFrame))
	pt.Set(ro.PTX(), MakePTE(arch.FrameAddr(roFrame), PTE_P|PTE_U|PTE_COW))
	pt.Set(rw.PTX(), MakePTE(arch.FrameAddr(rwFrame), PTE_P|PTE_U|PTE_W))

	for _, tc := range []struct {
		name    string
		va      arch.Addr
		at      AccessType
		want    arch.PhysAddr
		wantErr uint32
		fault   bool
	}{
		{
			name: "user read of COW page",
			va:   ro + 0x10,
			at:   AccessType{User: true},
			want: arch.FrameAddr(roFrame) + 0x10,
		},
		{
			name:    "user write of COW page",
			va:      ro + 0x10,
			at:      AccessType{User: true, Write: true},
			fault:   true,
			wantErr: arch.FEC_PR | arch.FEC_WR | arch.FEC_U,
		},
		{
			name: "user write of writable page",
			va:   rw + 0xffc,
			at:   AccessType{User: true, Write: true},
			want: arch.FrameAddr(rwFrame) + 0xffc,
		},
		{
			name:    "read of unmapped page",
			va:      rw + arch.PageSize,
			at:      AccessType{User: true},
			fault:   true,
			wantErr: arch.FEC_U,
		},
		{
			name:    "write with no page table",
			va:      arch.USTACKTOP - 4,
			at:      AccessType{User: true, Write: true},
			fault:   true,
			wantErr: arch.FEC_WR | arch.FEC_U,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pa, err := Translate(mem, pgdir, tc.va, tc.at)
			if !tc.fault {
				if err != nil {
					t.Fatalf("Translate(%v) failed: %v", tc.va, err)
				}
				if pa != tc.want {
					t.Errorf("Translate(%v) got %#x want %#x", tc.va, pa, tc.want)
				}
				return
			}
			var pf *arch.PageFault
			if !errors.As(err, &pf) {
				t.Fatalf("Translate(%v) got err %v want page fault", tc.va, err)
			}
			if pf.Addr != tc.va || pf.Err != tc.wantErr {
				t.Errorf("Translate(%v) got fault {%v %#x} want {%v %#x}", tc.va, pf.Addr, pf.Err, tc.va, tc.wantErr)
			}
		})
	}
}
