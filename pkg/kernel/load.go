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
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/cleanup"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/mmu"
)

// Segment is a contiguous region of a program image.
type Segment struct {
	// Addr is the page aligned load address.
	Addr arch.Addr

	// Data is the initial contents. Memory past len(Data) up to MemSize is
	// zero.
	Data []byte

	// MemSize is the size of the region in memory. It is at least
	// len(Data).
	MemSize uint32

	// Writable segments are mapped P|U|W, others P|U.
	Writable bool
}

// Program is a loadable program.
type Program struct {
	Segments []Segment

	// Entry is the initial PC.
	Entry arch.Addr

	// StackPages is the number of stack pages mapped below USTACKTOP. At
	// least one is always mapped.
	StackPages int
}

// EnvCreate creates a runnable environment running prog. It has no parent.
func (k *Kernel) EnvCreate(prog *Program) (EnvID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envAllocLocked(0)
	if err != nil {
		return 0, err
	}
	cu := cleanup.Make(func() { k.envFreeLocked(e) })
	defer cu.Clean()

	for _, seg := range prog.Segments {
		if err := k.loadSegmentLocked(e, &seg); err != nil {
			return 0, fmt.Errorf("loading segment at %v: %w", seg.Addr, err)
		}
	}
	stack := Segment{
		Addr:     arch.USTACKTOP - arch.Addr(max(prog.StackPages, 1)*arch.PageSize),
		MemSize:  uint32(max(prog.StackPages, 1) * arch.PageSize),
		Writable: true,
	}
	if err := k.loadSegmentLocked(e, &stack); err != nil {
		return 0, fmt.Errorf("mapping stack: %w", err)
	}

	e.tf.PC = prog.Entry
	e.tf.SP = arch.USTACKTOP
	e.status = EnvRunnable
	cu.Release()
	log.Debugf("Created env %v entry %v", e.id, prog.Entry)
	return e.id, nil
}

// Preconditions: k.mu is locked.
func (k *Kernel) loadSegmentLocked(e *Env, seg *Segment) error {
	if !seg.Addr.IsPageAligned() || uint32(len(seg.Data)) > seg.MemSize {
		return fmt.Errorf("malformed segment: addr %v, %d bytes of data, memsize %d", seg.Addr, len(seg.Data), seg.MemSize)
	}
	end, ok := (seg.Addr + arch.Addr(seg.MemSize)).RoundUp()
	if !ok || end > arch.UTOP || end < seg.Addr {
		return fmt.Errorf("segment at %v with size %d is outside user memory", seg.Addr, seg.MemSize)
	}
	perm := mmu.PTE_P | mmu.PTE_U
	if seg.Writable {
		perm |= mmu.PTE_W
	}
	data := seg.Data
	for va := seg.Addr; va < end; va += arch.PageSize {
		fn, err := k.mf.Allocate(true)
		if err != nil {
			return err
		}
		if err := k.pageInsertLocked(e, fn, va, perm); err != nil {
			k.mf.Free(fn)
			return err
		}
		n := copy(k.mf.Data(fn), data)
		data = data[n:]
	}
	return nil
}
