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

// Package pgalloc contains the physical memory of the simulated machine: a
// fixed number of page frames backed by a single anonymous host mapping,
// with per-frame reference counts.
package pgalloc

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/metric"
)

var (
	framesAllocated = metric.MustCreateNewUint64Metric("/pgalloc/frames_allocated", "Number of physical frames handed out by the allocator.")
	framesFreed     = metric.MustCreateNewUint64Metric("/pgalloc/frames_freed", "Number of physical frames returned to the allocator.")
)

// MinFrames is the smallest supported memory size.
const MinFrames = 16

// MemoryFile is the machine's physical memory.
//
// Frame 0 is never handed out, so that a zero physical address can stand for
// "no page".
type MemoryFile struct {
	mu sync.Mutex

	// mapping backs all frames; frame n occupies
	// mapping[n*PageSize:(n+1)*PageSize].
	mapping []byte

	// refs holds the reference count of each frame. Allocated frames start
	// at zero and are freed when a DecRef brings them back to zero.
	refs []uint32

	// allocated marks frames that are not in free.
	allocated []bool

	// free is the set of free frame numbers. Allocation takes the lowest.
	free *btree.BTreeG[uint32]
}

// NewMemoryFile creates physical memory of n frames.
func NewMemoryFile(n int) (*MemoryFile, error) {
	if n < MinFrames || n > arch.NPages {
		return nil, fmt.Errorf("invalid physical memory size %d frames (want %d-%d)", n, MinFrames, arch.NPages)
	}
	m, err := unix.Mmap(-1, 0, n*arch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d frames: %w", n, err)
	}
	f := &MemoryFile{
		mapping:   m,
		refs:      make([]uint32, n),
		allocated: make([]bool, n),
		free:      btree.NewG[uint32](8, func(a, b uint32) bool { return a < b }),
	}
	f.allocated[0] = true
	for fn := uint32(1); fn < uint32(n); fn++ {
		f.free.ReplaceOrInsert(fn)
	}
	log.Debugf("Physical memory: %d frames (%d KiB)", n, n*arch.PageSize/1024)
	return f, nil
}

// Close releases the host mapping. The MemoryFile must not be used after.
func (f *MemoryFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapping == nil {
		return nil
	}
	err := unix.Munmap(f.mapping)
	f.mapping = nil
	return err
}

// TotalFrames returns the number of frames, including the reserved frame 0.
func (f *MemoryFile) TotalFrames() int {
	return len(f.refs)
}

// Allocate takes the lowest free frame. The frame's reference count is zero;
// callers take references with IncRef. If zero is true the frame is cleared.
//
// It returns kernerr.ENoMem when no frame is free.
func (f *MemoryFile) Allocate(zero bool) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.free.DeleteMin()
	if !ok {
		return 0, kernerr.ENoMem
	}
	f.allocated[fn] = true
	if zero {
		clear(f.dataLocked(fn))
	}
	framesAllocated.Increment()
	return fn, nil
}

// IncRef takes a reference on frame fn.
func (f *MemoryFile) IncRef(fn uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkAllocatedLocked(fn)
	f.refs[fn]++
}

// DecRef drops a reference on frame fn, freeing it when the count drops to
// zero.
func (f *MemoryFile) DecRef(fn uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkAllocatedLocked(fn)
	if f.refs[fn] > 0 {
		f.refs[fn]--
	}
	if f.refs[fn] == 0 {
		f.freeLocked(fn)
	}
}

// Free returns an unreferenced frame to the allocator. It is used to undo an
// Allocate whose frame was never mapped.
func (f *MemoryFile) Free(fn uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkAllocatedLocked(fn)
	if f.refs[fn] != 0 {
		panic(fmt.Sprintf("freeing frame %d with %d references", fn, f.refs[fn]))
	}
	f.freeLocked(fn)
}

// Preconditions: f.mu is locked.
func (f *MemoryFile) freeLocked(fn uint32) {
	f.allocated[fn] = false
	f.free.ReplaceOrInsert(fn)
	framesFreed.Increment()
}

// Preconditions: f.mu is locked.
func (f *MemoryFile) checkAllocatedLocked(fn uint32) {
	if fn == 0 || int(fn) >= len(f.refs) || !f.allocated[fn] {
		panic(fmt.Sprintf("frame %d is not allocated", fn))
	}
}

// Refs returns the reference count of frame fn.
func (f *MemoryFile) Refs(fn uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(fn) >= len(f.refs) {
		return 0
	}
	return f.refs[fn]
}

// InUse returns the number of allocated frames, excluding frame 0.
func (f *MemoryFile) InUse() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refs) - 1 - f.free.Len()
}

// Data implements mmu.PhysicalMemory.Data.
func (f *MemoryFile) Data(fn uint32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataLocked(fn)
}

// Preconditions: f.mu is locked.
func (f *MemoryFile) dataLocked(fn uint32) []byte {
	if int(fn) >= len(f.refs) {
		panic(fmt.Sprintf("frame %d out of range", fn))
	}
	off := int(fn) * arch.PageSize
	return f.mapping[off : off+arch.PageSize : off+arch.PageSize]
}
