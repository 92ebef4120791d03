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
	"ufork.dev/ufork/pkg/mmu"
)

// SetPgfaultHandler installs the page fault handler at address handler.
//
// The first call in an environment allocates the exception stack. Every
// call registers the library upcall with the kernel, so an environment whose
// upcall was cleared recovers, and then records the new handler. A failure
// is fatal.
func SetPgfaultHandler(p *Process, handler arch.Addr) error {
	if _, ok := p.syms.handler(handler); !ok {
		return p.Fatalf("set_pgfault_handler: %v is not a page fault handler", handler)
	}
	cur, err := p.ReadWord(pgfaultHandlerVar)
	if err != nil {
		return err
	}
	if cur == 0 {
		if err := p.k.PageAlloc(0, arch.UXStackBottom(), mmu.PTE_P|mmu.PTE_U|mmu.PTE_W); err != nil {
			return p.abort(err, "set_pgfault_handler: allocating exception stack: %v", err)
		}
	}
	if err := p.k.EnvSetPgfaultUpcall(0, p.syms.MustLookup(SymPgfaultUpcall)); err != nil {
		return p.abort(err, "set_pgfault_handler: sys_env_set_pgfault_upcall: %v", err)
	}
	return p.WriteWord(pgfaultHandlerVar, uint32(handler))
}

// pgfaultUpcall is the entry point the kernel transfers to on a page fault.
// SP points at the UTrapframe. It calls the installed handler and then
// resumes the faulting context from the trap frame.
func pgfaultUpcall(p *Process) error {
	p.state = Handling

	var buf [arch.UTrapframeSize]byte
	if err := p.Read(p.Regs.SP, buf[:]); err != nil {
		return err
	}
	var utf arch.UTrapframe
	utf.UnmarshalBytes(buf[:])

	addr, err := p.ReadWord(pgfaultHandlerVar)
	if err != nil {
		return err
	}
	handler, ok := p.syms.handler(arch.Addr(addr))
	if !ok {
		return p.Fatalf("page fault at %v with no handler installed (handler %v)", utf.FaultVA, arch.Addr(addr))
	}
	if err := handler(p, &utf); err != nil {
		return p.abort(err, "%v", err)
	}

	p.Regs.Regs = utf.Regs
	p.Regs.PC = utf.PC
	p.Regs.SP = utf.SP
	p.state = Idle
	return nil
}
