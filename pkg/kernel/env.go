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
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/log"
)

const (
	// LogNEnv is the binary log of the number of environments.
	LogNEnv = 10

	// NEnv is the maximum number of environments.
	NEnv = 1 << LogNEnv

	// envGenShift is the shift of the generation counter within an EnvID.
	envGenShift = 12
)

// EnvID identifies an environment. The low LogNEnv bits are the slot index
// and the bits from envGenShift up are a generation number, so ids of
// destroyed environments are not reused right away. Zero means the current
// environment.
type EnvID int32

// Index returns the slot index of id.
func (id EnvID) Index() int {
	return int(id) & (NEnv - 1)
}

// String implements fmt.Stringer.String.
func (id EnvID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// EnvStatus is the state of an environment slot.
type EnvStatus int

// Environment states.
const (
	EnvFree EnvStatus = iota
	EnvDying
	EnvRunnable
	EnvRunning
	EnvNotRunnable
)

// String implements fmt.Stringer.String.
func (s EnvStatus) String() string {
	switch s {
	case EnvFree:
		return "free"
	case EnvDying:
		return "dying"
	case EnvRunnable:
		return "runnable"
	case EnvRunning:
		return "running"
	case EnvNotRunnable:
		return "not-runnable"
	default:
		return fmt.Sprintf("EnvStatus(%d)", int(s))
	}
}

// Env is an environment: an address space and a saved register set.
type Env struct {
	id       EnvID
	parentID EnvID
	status   EnvStatus
	runs     int

	// tf holds the environment's registers. While the environment runs the
	// CPU operates on tf directly.
	tf arch.Trapframe

	// pgdir is the physical address of the page directory.
	pgdir arch.PhysAddr

	// pgfaultUpcall is the user entry point for page faults, or zero.
	pgfaultUpcall arch.Addr
}

// EnvInfo is the user-visible view of an environment.
type EnvInfo struct {
	ID            EnvID
	ParentID      EnvID
	Status        EnvStatus
	Runs          int
	PgfaultUpcall arch.Addr
}

func (e *Env) info() EnvInfo {
	return EnvInfo{
		ID:            e.id,
		ParentID:      e.parentID,
		Status:        e.status,
		Runs:          e.runs,
		PgfaultUpcall: e.pgfaultUpcall,
	}
}

// Env returns the public view of environment id, or false if no such
// environment exists. No permission check is made: the environment table is
// readable by everyone.
func (k *Kernel) Env(id EnvID) (EnvInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := &k.envs[id.Index()]
	if e.status == EnvFree || e.id != id {
		return EnvInfo{}, false
	}
	return e.info(), true
}

// Envs returns all live environments in slot order.
func (k *Kernel) Envs() []EnvInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	var infos []EnvInfo
	for i := range k.envs {
		if e := &k.envs[i]; e.status != EnvFree {
			infos = append(infos, e.info())
		}
	}
	return infos
}

// Trapframe returns the register set of environment id. The returned pointer
// stays valid until the environment is destroyed.
func (k *Kernel) Trapframe(id EnvID) (*arch.Trapframe, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, false)
	if err != nil {
		return nil, err
	}
	return &e.tf, nil
}

// envid2envLocked converts id to an environment. If checkperm is set, the
// environment must be the current environment or one of its children.
//
// Preconditions: k.mu is locked.
func (k *Kernel) envid2envLocked(id EnvID, checkperm bool) (*Env, error) {
	if id == 0 {
		return k.currentLocked()
	}
	e := &k.envs[id.Index()]
	if e.status == EnvFree || e.id != id {
		return nil, kernerr.EBadEnv
	}
	if checkperm {
		if k.cur == nil || (e != k.cur && e.parentID != k.cur.id) {
			return nil, kernerr.EBadEnv
		}
	}
	return e, nil
}

// envAllocLocked takes a free slot and gives it an empty address space. The
// new environment is not runnable.
//
// Preconditions: k.mu is locked.
func (k *Kernel) envAllocLocked(parent EnvID) (*Env, error) {
	if len(k.freeEnvs) == 0 {
		return nil, kernerr.ENoFreeEnv
	}
	idx := k.freeEnvs[len(k.freeEnvs)-1]
	e := &k.envs[idx]
	if err := k.setupVMLocked(e); err != nil {
		return nil, err
	}
	k.freeEnvs = k.freeEnvs[:len(k.freeEnvs)-1]

	gen := (e.id + (1 << envGenShift)) &^ (NEnv - 1)
	if gen <= 0 {
		gen = 1 << envGenShift
	}
	e.id = gen | EnvID(idx)
	e.parentID = parent
	e.status = EnvNotRunnable
	e.runs = 0
	e.tf = arch.Trapframe{}
	e.pgfaultUpcall = 0

	envsCreated.Increment()
	log.Debugf("[%v] new env %v", parent, e.id)
	return e, nil
}

// envFreeLocked releases everything e owns and returns its slot.
//
// Preconditions: k.mu is locked.
func (k *Kernel) envFreeLocked(e *Env) {
	log.Debugf("[%v] free env %v", k.curIDLocked(), e.id)
	k.freeVMLocked(e)
	e.status = EnvFree
	e.pgfaultUpcall = 0
	if k.cur == e {
		k.cur = nil
	}
	k.freeEnvs = append(k.freeEnvs, e.id.Index())
}

// Preconditions: k.mu is locked.
func (k *Kernel) curIDLocked() EnvID {
	if k.cur == nil {
		return 0
	}
	return k.cur.id
}
