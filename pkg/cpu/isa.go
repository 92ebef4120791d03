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

// Package cpu implements the user-mode CPU of the simulated machine and an
// assembler for it.
//
// Instructions are InstSize bytes: opcode, destination register, source
// register, one byte of padding and a 32-bit little-endian immediate. All
// memory accesses, instruction fetches included, go through the
// environment's page tables, so they fault exactly like hardware accesses.
//
// fork, sfork and getenvid return their result in rd. In the child of a
// fork, r0 also reads zero.
package cpu

import (
	"encoding/binary"
	"fmt"
)

// InstSize is the size of an encoded instruction.
const InstSize = 8

// Op is an opcode.
type Op uint8

// Opcodes.
const (
	OpNop      Op = iota // nop
	OpMovi               // movi rd, imm: rd = imm
	OpAddi               // addi rd, imm: rd += imm
	OpAdd                // add rd, rs: rd += rs
	OpLoad               // load rd, addr: rd = [addr]
	OpStore              // store rd, addr: [addr] = rd
	OpLoadr              // loadr rd, rs[, off]: rd = [rs+off]
	OpStorer             // storer rd, rs[, off]: [rs+off] = rd
	OpJmp                // jmp addr
	OpJz                 // jz rd, addr: jump if rd == 0
	OpJnz                // jnz rd, addr: jump if rd != 0
	OpPush               // push rd
	OpPop                // pop rd
	OpFork               // fork rd
	OpSfork              // sfork rd
	OpGetenvid           // getenvid rd
	OpPrint              // print rd: write "[envid] value" to the console
	OpYield              // yield
	OpExit               // exit
	numOps
)

// operands describes the operand syntax of an opcode.
type operands int

const (
	none       operands = iota // op
	regImm                     // op rd, imm
	regReg                     // op rd, rs
	regRegOpt                  // op rd, rs[, imm]
	imm                        // op imm
	reg                        // op rd
)

var opInfo = [numOps]struct {
	name string
	args operands
}{
	OpNop:      {"nop", none},
	OpMovi:     {"movi", regImm},
	OpAddi:     {"addi", regImm},
	OpAdd:      {"add", regReg},
	OpLoad:     {"load", regImm},
	OpStore:    {"store", regImm},
	OpLoadr:    {"loadr", regRegOpt},
	OpStorer:   {"storer", regRegOpt},
	OpJmp:      {"jmp", imm},
	OpJz:       {"jz", regImm},
	OpJnz:      {"jnz", regImm},
	OpPush:     {"push", reg},
	OpPop:      {"pop", reg},
	OpFork:     {"fork", reg},
	OpSfork:    {"sfork", reg},
	OpGetenvid: {"getenvid", reg},
	OpPrint:    {"print", reg},
	OpYield:    {"yield", none},
	OpExit:     {"exit", none},
}

// String implements fmt.Stringer.String.
func (op Op) String() string {
	if op < numOps {
		return opInfo[op].name
	}
	return fmt.Sprintf("op(%#x)", uint8(op))
}

// Inst is a decoded instruction.
type Inst struct {
	Op  Op
	Rd  uint8
	Rs  uint8
	Imm uint32
}

// Encode appends the encoding of i to b.
func (i Inst) Encode(b []byte) []byte {
	b = append(b, byte(i.Op), i.Rd, i.Rs, 0)
	return binary.LittleEndian.AppendUint32(b, i.Imm)
}

// Decode decodes the instruction in b, which must be InstSize bytes.
func Decode(b []byte) Inst {
	return Inst{
		Op:  Op(b[0]),
		Rd:  b[1],
		Rs:  b[2],
		Imm: binary.LittleEndian.Uint32(b[4:]),
	}
}

// String implements fmt.Stringer.String.
func (i Inst) String() string {
	if i.Op >= numOps {
		return i.Op.String()
	}
	switch opInfo[i.Op].args {
	case regImm:
		return fmt.Sprintf("%v r%d, %#x", i.Op, i.Rd, i.Imm)
	case regReg:
		return fmt.Sprintf("%v r%d, r%d", i.Op, i.Rd, i.Rs)
	case regRegOpt:
		if i.Imm != 0 {
			return fmt.Sprintf("%v r%d, r%d, %d", i.Op, i.Rd, i.Rs, int32(i.Imm))
		}
		return fmt.Sprintf("%v r%d, r%d", i.Op, i.Rd, i.Rs)
	case imm:
		return fmt.Sprintf("%v %#x", i.Op, i.Imm)
	case reg:
		return fmt.Sprintf("%v r%d", i.Op, i.Rd)
	default:
		return i.Op.String()
	}
}
