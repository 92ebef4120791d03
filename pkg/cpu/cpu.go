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

package cpu

import (
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/ulib"
)

// StopReason tells why Run returned.
type StopReason int

const (
	// StopBudget means the instruction budget ran out.
	StopBudget StopReason = iota

	// StopYield means the environment executed yield.
	StopYield

	// StopExit means the environment executed exit and was destroyed.
	StopExit

	// StopFatal means the environment hit a fatal error.
	StopFatal
)

// String implements fmt.Stringer.String.
func (r StopReason) String() string {
	switch r {
	case StopBudget:
		return "budget"
	case StopYield:
		return "yield"
	case StopExit:
		return "exit"
	case StopFatal:
		return "fatal"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Run executes up to budget instructions of the current environment, whose
// runtime is p, and returns why it stopped and how many steps it took. It
// returns early on yield, exit or a fatal error; in the last case the error
// is returned too.
//
// A pending library continuation is completed before the next fetch: its
// value is the result of the instruction at PC, which is then retired. This
// counts as one step.
func Run(p *ulib.Process, budget int) (StopReason, int, error) {
	for n := 0; n < budget; n++ {
		if p.Regs.Cont != 0 {
			if err := resume(p); err != nil {
				return StopFatal, n + 1, err
			}
			continue
		}
		inst, err := fetch(p, p.Regs.PC)
		if err != nil {
			return StopFatal, n + 1, err
		}
		stop, err := step(p, inst)
		if err != nil {
			return StopFatal, n + 1, err
		}
		if stop != StopBudget {
			return stop, n + 1, nil
		}
	}
	return StopBudget, budget, nil
}

func fetch(p *ulib.Process, pc arch.Addr) (Inst, error) {
	var buf [InstSize]byte
	if err := p.Read(pc, buf[:]); err != nil {
		return Inst{}, err
	}
	return Decode(buf[:]), nil
}

func resume(p *ulib.Process) error {
	pc := p.Regs.PC
	v, _, err := ulib.Resume(p)
	if err != nil {
		return err
	}
	inst, err := fetch(p, pc)
	if err != nil {
		return err
	}
	if err := checkReg(p, inst.Rd); err != nil {
		return err
	}
	p.Regs.Regs[inst.Rd] = v
	p.Regs.PC = pc + InstSize
	return nil
}

func checkReg(p *ulib.Process, r uint8) error {
	if int(r) >= arch.NumRegs {
		return p.Fatalf("illegal register r%d at %v", r, p.Regs.PC)
	}
	return nil
}

// step executes one instruction. It returns StopBudget to continue.
func step(p *ulib.Process, inst Inst) (StopReason, error) {
	if inst.Op >= numOps {
		return StopFatal, p.Fatalf("illegal instruction %v at %v", inst, p.Regs.PC)
	}
	if err := checkReg(p, inst.Rd); err != nil {
		return StopFatal, err
	}
	if err := checkReg(p, inst.Rs); err != nil {
		return StopFatal, err
	}
	regs := &p.Regs.Regs
	next := p.Regs.PC + InstSize
	switch inst.Op {
	case OpNop:
	case OpMovi:
		regs[inst.Rd] = inst.Imm
	case OpAddi:
		regs[inst.Rd] += inst.Imm
	case OpAdd:
		regs[inst.Rd] += regs[inst.Rs]
	case OpLoad, OpLoadr:
		va := arch.Addr(inst.Imm)
		if inst.Op == OpLoadr {
			va += arch.Addr(regs[inst.Rs])
		}
		v, err := p.ReadWord(va)
		if err != nil {
			return StopFatal, err
		}
		regs[inst.Rd] = v
	case OpStore, OpStorer:
		va := arch.Addr(inst.Imm)
		if inst.Op == OpStorer {
			va += arch.Addr(regs[inst.Rs])
		}
		if err := p.WriteWord(va, regs[inst.Rd]); err != nil {
			return StopFatal, err
		}
	case OpJmp:
		next = arch.Addr(inst.Imm)
	case OpJz:
		if regs[inst.Rd] == 0 {
			next = arch.Addr(inst.Imm)
		}
	case OpJnz:
		if regs[inst.Rd] != 0 {
			next = arch.Addr(inst.Imm)
		}
	case OpPush:
		sp := p.Regs.SP - 4
		if err := p.WriteWord(sp, regs[inst.Rd]); err != nil {
			return StopFatal, err
		}
		p.Regs.SP = sp
	case OpPop:
		v, err := p.ReadWord(p.Regs.SP)
		if err != nil {
			return StopFatal, err
		}
		regs[inst.Rd] = v
		p.Regs.SP += 4
	case OpFork:
		r, err := ulib.Fork(p)
		if err != nil {
			return StopFatal, err
		}
		regs[inst.Rd] = uint32(r.Child)
	case OpSfork:
		r, err := ulib.Sfork(p)
		switch {
		case err == nil:
			regs[inst.Rd] = uint32(r.Child)
		case p.Fatal() != nil:
			return StopFatal, err
		default:
			regs[inst.Rd] = uint32(-int32(kernerr.ToCode(err)))
		}
	case OpGetenvid:
		regs[inst.Rd] = uint32(p.Kernel().Getenvid())
	case OpPrint:
		msg := fmt.Sprintf("[%08x] %d\n", uint32(p.Kernel().Getenvid()), int32(regs[inst.Rd]))
		if err := p.Kernel().Cputs(msg); err != nil {
			return StopFatal, p.Fatalf("console: %v", err)
		}
	case OpYield:
		p.Regs.PC = next
		p.Kernel().Yield()
		return StopYield, nil
	case OpExit:
		p.Regs.PC = next
		if err := ulib.Exit(p); err != nil {
			return StopFatal, p.Fatalf("exit: %v", err)
		}
		return StopExit, nil
	}
	p.Regs.PC = next
	return StopBudget, nil
}
