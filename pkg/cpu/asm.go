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
	"strconv"
	"strings"
	"unicode"

	"ufork.dev/ufork/pkg/arch"
)

// AsmError is an assembly error at a source line.
type AsmError struct {
	Line int
	Msg  string
}

// Error implements error.Error.
func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type asmLine struct {
	num  int
	op   Op
	args []string
}

// Assemble translates src into machine code loaded at base.
//
// Each line holds at most one label ("name:") and one instruction. Comments
// start with '#' or ';'. Operands are registers r0 to r7 or immediates:
// decimal or 0x-prefixed hex numbers, labels, or names from syms, optionally
// followed by +n or -n.
func Assemble(src string, base arch.Addr, syms map[string]uint32) ([]byte, error) {
	labels := make(map[string]uint32)
	var lines []asmLine
	for i, text := range strings.Split(src, "\n") {
		num := i + 1
		if c := strings.IndexAny(text, "#;"); c >= 0 {
			text = text[:c]
		}
		text = strings.TrimSpace(text)
		if c := strings.Index(text, ":"); c >= 0 {
			label := strings.TrimSpace(text[:c])
			if !validIdent(label) {
				return nil, &AsmError{num, fmt.Sprintf("invalid label %q", label)}
			}
			if _, ok := labels[label]; ok {
				return nil, &AsmError{num, fmt.Sprintf("duplicate label %q", label)}
			}
			if _, ok := syms[label]; ok {
				return nil, &AsmError{num, fmt.Sprintf("label %q shadows a symbol", label)}
			}
			labels[label] = uint32(base) + uint32(len(lines)*InstSize)
			text = strings.TrimSpace(text[c+1:])
		}
		if text == "" {
			continue
		}
		mnemonic, rest := text, ""
		if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
			mnemonic, rest = text[:i], text[i:]
		}
		op, ok := lookupOp(strings.ToLower(mnemonic))
		if !ok {
			return nil, &AsmError{num, fmt.Sprintf("unknown instruction %q", mnemonic)}
		}
		var args []string
		if rest = strings.TrimSpace(rest); rest != "" {
			for _, a := range strings.Split(rest, ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
		lines = append(lines, asmLine{num: num, op: op, args: args})
	}

	resolve := func(name string) (uint32, bool) {
		if v, ok := labels[name]; ok {
			return v, true
		}
		v, ok := syms[name]
		return v, ok
	}
	code := make([]byte, 0, len(lines)*InstSize)
	for _, l := range lines {
		inst, err := assembleLine(l, resolve)
		if err != nil {
			return nil, &AsmError{l.num, err.Error()}
		}
		code = inst.Encode(code)
	}
	return code, nil
}

func lookupOp(name string) (Op, bool) {
	for op := Op(0); op < numOps; op++ {
		if opInfo[op].name == name {
			return op, true
		}
	}
	return 0, false
}

func assembleLine(l asmLine, resolve func(string) (uint32, bool)) (Inst, error) {
	inst := Inst{Op: l.op}
	form := opInfo[l.op].args
	want := map[operands][]int{
		none:      {0},
		regImm:    {2},
		regReg:    {2},
		regRegOpt: {2, 3},
		imm:       {1},
		reg:       {1},
	}[form]
	okCount := false
	for _, n := range want {
		okCount = okCount || len(l.args) == n
	}
	if !okCount {
		return inst, fmt.Errorf("%v takes %v operands, got %d", l.op, want, len(l.args))
	}

	var err error
	switch form {
	case regImm:
		if inst.Rd, err = parseReg(l.args[0]); err != nil {
			return inst, err
		}
		inst.Imm, err = parseImm(l.args[1], resolve)
	case regReg, regRegOpt:
		if inst.Rd, err = parseReg(l.args[0]); err != nil {
			return inst, err
		}
		if inst.Rs, err = parseReg(l.args[1]); err != nil {
			return inst, err
		}
		if len(l.args) == 3 {
			inst.Imm, err = parseImm(l.args[2], resolve)
		}
	case imm:
		inst.Imm, err = parseImm(l.args[0], resolve)
	case reg:
		inst.Rd, err = parseReg(l.args[0])
	}
	return inst, err
}

func parseReg(s string) (uint8, error) {
	s = strings.ToLower(s)
	if len(s) == 2 && s[0] == 'r' && s[1] >= '0' && s[1] < '0'+arch.NumRegs {
		return s[1] - '0', nil
	}
	return 0, fmt.Errorf("invalid register %q", s)
}

func parseImm(s string, resolve func(string) (uint32, bool)) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("missing operand")
	}
	if s[0] == '-' || (s[0] >= '0' && s[0] <= '9') {
		return parseNumber(s)
	}
	// name, name+n or name-n.
	name, off, sign := s, "", uint32(1)
	if i := strings.IndexAny(s, "+-"); i > 0 {
		name, off = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if s[i] == '-' {
			sign = ^uint32(0)
		}
	}
	v, ok := resolve(name)
	if !ok {
		return 0, fmt.Errorf("undefined symbol %q", name)
	}
	if off != "" {
		n, err := parseNumber(off)
		if err != nil {
			return 0, err
		}
		v += sign * n
	}
	return v, nil
}

func parseNumber(s string) (uint32, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil || n < -(1<<31) || n > 1<<32-1 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
