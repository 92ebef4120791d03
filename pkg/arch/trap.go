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

package arch

import (
	"encoding/binary"
	"fmt"
)

// Page fault error code bits, as pushed by the hardware.
const (
	// FEC_PR is set if the fault was a protection violation on a present
	// page, and clear if the page was not present.
	FEC_PR uint32 = 0x1

	// FEC_WR is set if the faulting access was a write.
	FEC_WR uint32 = 0x2

	// FEC_U is set if the fault occurred in user mode.
	FEC_U uint32 = 0x4
)

// NumRegs is the number of general purpose registers.
const NumRegs = 8

// Trapframe is the saved register state of an environment.
type Trapframe struct {
	// Regs are the general purpose registers. Regs[0] carries system call
	// return values.
	Regs [NumRegs]uint32

	// PC is the address of the current user instruction.
	PC Addr

	// SP is the stack pointer.
	SP Addr

	// Cont, if non-zero, is a library continuation the environment resumes
	// in before executing the instruction at PC.
	Cont Addr
}

// UTrapframe is the frame the kernel pushes on the user exception stack when
// it delivers a page fault.
type UTrapframe struct {
	FaultVA Addr
	Err     uint32
	Regs    [NumRegs]uint32
	PC      Addr
	SP      Addr
}

// UTrapframeSize is the encoded size of a UTrapframe in bytes.
const UTrapframeSize = 4 * (4 + NumRegs)

// IsWrite returns true if the fault was caused by a write.
func (utf *UTrapframe) IsWrite() bool {
	return utf.Err&FEC_WR != 0
}

// MarshalBytes encodes utf into dst, which must be UTrapframeSize bytes.
func (utf *UTrapframe) MarshalBytes(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], uint32(utf.FaultVA))
	le.PutUint32(dst[4:], utf.Err)
	for i, r := range utf.Regs {
		le.PutUint32(dst[8+4*i:], r)
	}
	le.PutUint32(dst[8+4*NumRegs:], uint32(utf.PC))
	le.PutUint32(dst[12+4*NumRegs:], uint32(utf.SP))
}

// UnmarshalBytes decodes utf from src, which must be UTrapframeSize bytes.
func (utf *UTrapframe) UnmarshalBytes(src []byte) {
	le := binary.LittleEndian
	utf.FaultVA = Addr(le.Uint32(src[0:]))
	utf.Err = le.Uint32(src[4:])
	for i := range utf.Regs {
		utf.Regs[i] = le.Uint32(src[8+4*i:])
	}
	utf.PC = Addr(le.Uint32(src[8+4*NumRegs:]))
	utf.SP = Addr(le.Uint32(src[12+4*NumRegs:]))
}

// PageFault is returned by memory accesses that the MMU refused.
type PageFault struct {
	Addr Addr
	Err  uint32
}

// Error implements error.Error.
func (f *PageFault) Error() string {
	kind := "read"
	if f.Err&FEC_WR != 0 {
		kind = "write"
	}
	state := "not-present"
	if f.Err&FEC_PR != 0 {
		state = "protection"
	}
	return fmt.Sprintf("page fault: %s %s at %v", state, kind, f.Addr)
}
