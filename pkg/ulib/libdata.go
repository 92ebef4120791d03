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
	"fmt"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/kernel"
)

// Library globals live in the ULIBDATA page, which is ordinary writable
// program data. Fork therefore makes it copy-on-write like any other data.
const (
	// thisenvVar holds the id of the environment the library believes it
	// runs in.
	thisenvVar = arch.ULIBDATA

	// pgfaultHandlerVar holds the address of the installed page fault
	// handler, or zero if none has been installed.
	pgfaultHandlerVar = arch.ULIBDATA + 4
)

// Libmain initializes the library globals of a freshly loaded environment.
// It must run before the environment's first instruction.
func Libmain(p *Process) error {
	return p.setThisEnv(p.k.Getenvid())
}

func (p *Process) setThisEnv(id kernel.EnvID) error {
	return p.WriteWord(thisenvVar, uint32(id))
}

// ThisEnv returns the descriptor of the current environment as recorded in
// the library globals.
func (p *Process) ThisEnv() (kernel.EnvInfo, error) {
	v, err := p.ReadWord(thisenvVar)
	if err != nil {
		return kernel.EnvInfo{}, err
	}
	info, ok := p.k.Env(kernel.EnvID(v))
	if !ok {
		return kernel.EnvInfo{}, fmt.Errorf("thisenv %v is not a live environment", kernel.EnvID(v))
	}
	return info, nil
}

// Exit destroys the current environment.
func Exit(p *Process) error {
	return p.k.EnvDestroy(0)
}
