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

// Package kernel implements the exokernel the user library runs on.
//
// The kernel exports primitive system calls only: environment creation
// (exofork), page allocation, page mapping and unmapping, status changes and
// page fault upcall registration. Everything else, fork included, is built in
// user space on top of these. Each environment's page tables are visible to
// itself read-only through the UVPT self-map.
//
// System calls act on behalf of the current environment, chosen by Switch or
// Schedule. An environment id of zero names the current environment.
package kernel

import (
	"fmt"
	"io"
	"sync"

	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/errors/kernerr"
	"ufork.dev/ufork/pkg/metric"
	"ufork.dev/ufork/pkg/pgalloc"
)

var (
	envsCreated     = metric.MustCreateNewUint64Metric("/kernel/envs_created", "Number of environments created.")
	pagesAllocated  = metric.MustCreateNewUint64Metric("/kernel/pages_allocated", "Number of pages allocated by sys_page_alloc.")
	syscalls        = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of system calls made.")
	faultsDelivered = metric.MustCreateNewUint64Metric("/kernel/faults_delivered", "Number of page faults delivered to user upcalls.")
)

// Kernel is one instance of the exokernel with its own physical memory and
// environment table.
type Kernel struct {
	mf      *pgalloc.MemoryFile
	console io.Writer

	mu sync.Mutex

	// envs is the environment table. Free slots have status EnvFree.
	envs [NEnv]Env

	// freeEnvs is a stack of free slot indices. The next slot handed out is
	// at the end.
	freeEnvs []int

	// cur is the running environment, or nil.
	cur *Env

	// last is the slot index most recently switched to. Round robin
	// scheduling starts after it.
	last int
}

// New returns a kernel that allocates from mf and writes console output to
// console.
func New(mf *pgalloc.MemoryFile, console io.Writer) *Kernel {
	k := &Kernel{
		mf:       mf,
		console:  console,
		freeEnvs: make([]int, 0, NEnv),
		last:     NEnv - 1,
	}
	for i := NEnv - 1; i >= 0; i-- {
		k.freeEnvs = append(k.freeEnvs, i)
	}
	return k
}

// MemoryFile returns the kernel's physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// Current returns the id of the running environment, or zero.
func (k *Kernel) Current() EnvID {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cur == nil {
		return 0
	}
	return k.cur.id
}

// Preconditions: k.mu is locked.
func (k *Kernel) currentLocked() (*Env, error) {
	if k.cur == nil {
		return nil, kernerr.EBadEnv
	}
	return k.cur, nil
}

// FaultError is returned by PageFault when the kernel destroyed the faulting
// environment instead of delivering the fault.
type FaultError struct {
	Env    EnvID
	Fault  arch.PageFault
	PC     arch.Addr
	Reason string
}

// Error implements error.Error.
func (e *FaultError) Error() string {
	return fmt.Sprintf("[%v] user fault va %v ip %v: %s", e.Env, e.Fault.Addr, e.PC, e.Reason)
}
