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

// Package ulib is the user-space library environments are linked with.
//
// The kernel underneath exports only primitive system calls. ulib builds
// copy-on-write fork on top of them: it installs a page fault handler that
// privatizes copy-on-write pages on write, and duplicates an address space by
// sharing every page with the child, marking writable pages copy-on-write on
// both sides.
//
// A Process is the library's view of one running environment: its live
// registers, its system call interface and its fault handling state. Memory
// accesses made through a Process fault like hardware accesses do. The fault
// is delivered to the registered upcall and the access is retried once the
// handler returns.
package ulib

import (
	"errors"
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/kernel"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/mmu"
)

// Kernel is the system call interface a Process runs on. *kernel.Kernel
// implements it. All calls act on behalf of the current environment.
type Kernel interface {
	Getenvid() kernel.EnvID
	Exofork() (kernel.EnvID, error)
	EnvSetStatus(id kernel.EnvID, status kernel.EnvStatus) error
	EnvSetPgfaultUpcall(id kernel.EnvID, upcall arch.Addr) error
	PageAlloc(id kernel.EnvID, va arch.Addr, perm mmu.PTE) error
	PageMap(srcid kernel.EnvID, srcva arch.Addr, dstid kernel.EnvID, dstva arch.Addr, perm mmu.PTE) error
	PageUnmap(id kernel.EnvID, va arch.Addr) error
	EnvDestroy(id kernel.EnvID) error
	Yield()
	Cputs(s string) error

	// Env reads the environment table.
	Env(id kernel.EnvID) (kernel.EnvInfo, bool)

	// CopyIn and CopyOut access user memory. They return *arch.PageFault
	// when the access faults.
	CopyIn(va arch.Addr, dst []byte) error
	CopyOut(va arch.Addr, src []byte) error

	// PageFault delivers a fault and returns the upcall to run.
	PageFault(fault arch.PageFault) (arch.Addr, error)
}

// HandlerState is the page fault handling state of a Process.
type HandlerState int

const (
	// Idle means no fault is being handled.
	Idle HandlerState = iota

	// Handling means a fault handler is running on the exception stack.
	Handling

	// Aborted is terminal. The process hit a fatal error and must not run
	// again.
	Aborted
)

// String implements fmt.Stringer.String.
func (s HandlerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handling:
		return "handling"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("HandlerState(%d)", int(s))
	}
}

// maxFaultRetries bounds how often one access may fault. A handler that
// returns without fixing the fault would otherwise loop forever.
const maxFaultRetries = 4

// Options configure a Process.
type Options struct {
	// Symbols resolves library entry points. Defaults to NewLibrary().
	Symbols *Symbols

	// FaultLog receives a debug message for each resolved copy-on-write
	// fault. Defaults to the global logger.
	FaultLog log.Logger
}

// Process is the user runtime of one environment.
type Process struct {
	k    Kernel
	syms *Symbols

	// Regs are the environment's live registers.
	Regs *arch.Trapframe

	state    HandlerState
	fatal    *FatalError
	faultLog log.Logger
}

// NewProcess returns the runtime of the environment whose registers are regs.
func NewProcess(k Kernel, regs *arch.Trapframe, opts Options) *Process {
	if opts.Symbols == nil {
		opts.Symbols = NewLibrary()
	}
	if opts.FaultLog == nil {
		opts.FaultLog = log.Log()
	}
	return &Process{
		k:        k,
		syms:     opts.Symbols,
		Regs:     regs,
		faultLog: opts.FaultLog,
	}
}

// Kernel returns the system call interface.
func (p *Process) Kernel() Kernel {
	return p.k
}

// Symbols returns the library symbol table.
func (p *Process) Symbols() *Symbols {
	return p.syms
}

// State returns the fault handling state.
func (p *Process) State() HandlerState {
	return p.state
}

// Fatal returns the error that aborted p, or nil.
func (p *Process) Fatal() *FatalError {
	return p.fatal
}

// Read reads len(dst) bytes at va, handling page faults.
func (p *Process) Read(va arch.Addr, dst []byte) error {
	return p.access(va, dst, false)
}

// Write writes src at va, handling page faults.
func (p *Process) Write(va arch.Addr, src []byte) error {
	return p.access(va, src, true)
}

// ReadWord reads the 32-bit little-endian word at va.
func (p *Process) ReadWord(va arch.Addr) (uint32, error) {
	var buf [4]byte
	if err := p.Read(va, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// WriteWord writes v as a 32-bit little-endian word at va.
func (p *Process) WriteWord(va arch.Addr, v uint32) error {
	buf := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return p.Write(va, buf[:])
}

func (p *Process) access(va arch.Addr, buf []byte, write bool) error {
	if p.fatal != nil {
		return p.fatal
	}
	var last arch.Addr
	tries := 0
	for {
		var err error
		if write {
			err = p.k.CopyOut(va, buf)
		} else {
			err = p.k.CopyIn(va, buf)
		}
		var pf *arch.PageFault
		if !errors.As(err, &pf) {
			return err
		}
		if pf.Addr == last {
			tries++
		} else {
			last, tries = pf.Addr, 1
		}
		if tries > maxFaultRetries {
			return p.Fatalf("unresolved page fault at %v after %d attempts", pf.Addr, maxFaultRetries)
		}
		if err := p.deliver(*pf); err != nil {
			return err
		}
	}
}

// deliver hands fault to the kernel and runs the upcall it selects.
func (p *Process) deliver(fault arch.PageFault) error {
	if p.state == Handling {
		return p.Fatalf("%v while handling a page fault", &fault)
	}
	entry, err := p.k.PageFault(fault)
	if err != nil {
		// The kernel has already destroyed the environment.
		return p.abort(err, "%v", err)
	}
	upcall, ok := p.syms.upcall(entry)
	if !ok {
		return p.Fatalf("page fault upcall %v is not a library entry point", entry)
	}
	return upcall(p)
}
