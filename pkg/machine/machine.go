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

// Package machine assembles a complete simulated computer: physical memory,
// the kernel, a CPU and the user library runtime of every environment.
package machine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ufork.dev/ufork/pkg/cpu"
	"ufork.dev/ufork/pkg/image"
	"ufork.dev/ufork/pkg/kernel"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/pgalloc"
	"ufork.dev/ufork/pkg/ulib"
)

// ErrStepLimit is returned by Run when the step limit is reached with
// environments still runnable.
var ErrStepLimit = errors.New("step limit reached")

// Config configures a Machine.
type Config struct {
	// Frames is the number of physical page frames.
	Frames int

	// Quantum is the number of instructions an environment runs before it
	// is preempted.
	Quantum int

	// StepLimit bounds the total number of instructions Run executes. Zero
	// means no limit.
	StepLimit int

	// FaultLogInterval rate limits copy-on-write fault logging. Zero logs
	// every fault.
	FaultLogInterval time.Duration
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{
		Frames:  1024,
		Quantum: 1000,
	}
}

// ExitStatus tells how an environment ended.
type ExitStatus int

const (
	// Exited means the environment ran exit.
	Exited ExitStatus = iota

	// Aborted means the environment was destroyed after a fatal error.
	Aborted
)

// String implements fmt.Stringer.String.
func (s ExitStatus) String() string {
	switch s {
	case Exited:
		return "exited"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("ExitStatus(%d)", int(s))
	}
}

// Exit records the end of an environment.
type Exit struct {
	Env    kernel.EnvID
	Status ExitStatus

	// Err is the fatal error for Aborted environments.
	Err error
}

// String implements fmt.Stringer.String.
func (e Exit) String() string {
	if e.Err != nil {
		return fmt.Sprintf("[%v] %v: %v", e.Env, e.Status, e.Err)
	}
	return fmt.Sprintf("[%v] %v", e.Env, e.Status)
}

// Machine is a simulated computer.
type Machine struct {
	conf     Config
	mf       *pgalloc.MemoryFile
	k        *kernel.Kernel
	syms     *ulib.Symbols
	faultLog log.Logger
	console  bytes.Buffer

	// procs holds the runtime of every environment that has run.
	procs map[kernel.EnvID]*ulib.Process

	// fresh holds loaded environments that still need Libmain.
	fresh map[kernel.EnvID]bool

	exits []Exit
	steps int
}

// New creates a machine. Console output is kept and also copied to console
// if it is not nil.
func New(conf Config, console io.Writer) (*Machine, error) {
	if conf.Quantum <= 0 {
		return nil, fmt.Errorf("invalid quantum %d", conf.Quantum)
	}
	if conf.StepLimit < 0 {
		return nil, fmt.Errorf("invalid step limit %d", conf.StepLimit)
	}
	mf, err := pgalloc.NewMemoryFile(conf.Frames)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		conf:     conf,
		mf:       mf,
		syms:     ulib.NewLibrary(),
		faultLog: log.BasicRateLimitedLogger(conf.FaultLogInterval),
		procs:    make(map[kernel.EnvID]*ulib.Process),
		fresh:    make(map[kernel.EnvID]bool),
	}
	var out io.Writer = &m.console
	if console != nil {
		out = io.MultiWriter(&m.console, console)
	}
	m.k = kernel.New(mf, out)
	return m, nil
}

// Close releases the machine's physical memory.
func (m *Machine) Close() error {
	return m.mf.Close()
}

// Kernel returns the machine's kernel.
func (m *Machine) Kernel() *kernel.Kernel {
	return m.k
}

// Console returns everything written to the console so far.
func (m *Machine) Console() string {
	return m.console.String()
}

// Exits returns the environments that have ended, in order.
func (m *Machine) Exits() []Exit {
	return append([]Exit(nil), m.exits...)
}

// Steps returns the number of instructions executed.
func (m *Machine) Steps() int {
	return m.steps
}

// Spawn loads img into a new runnable environment.
func (m *Machine) Spawn(img *image.Image) (kernel.EnvID, error) {
	prog, err := image.Assemble(img)
	if err != nil {
		return 0, err
	}
	id, err := m.k.EnvCreate(prog)
	if err != nil {
		return 0, fmt.Errorf("creating environment for %q: %w", img.Name, err)
	}
	m.fresh[id] = true
	log.Infof("Spawned %q as env %v", img.Name, id)
	return id, nil
}

// process returns the runtime of the current environment id, creating it
// on first use.
func (m *Machine) process(id kernel.EnvID) (*ulib.Process, error) {
	if p, ok := m.procs[id]; ok {
		return p, nil
	}
	tf, err := m.k.Trapframe(id)
	if err != nil {
		return nil, err
	}
	p := ulib.NewProcess(m.k, tf, ulib.Options{Symbols: m.syms, FaultLog: m.faultLog})
	m.procs[id] = p
	if m.fresh[id] {
		delete(m.fresh, id)
		if err := ulib.Libmain(p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Run schedules environments round robin until none is left, ctx is done or
// the step limit is reached.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		budget := m.conf.Quantum
		if m.conf.StepLimit > 0 {
			left := m.conf.StepLimit - m.steps
			if left <= 0 {
				if _, ok := m.k.Schedule(); ok {
					return ErrStepLimit
				}
				return nil
			}
			budget = min(budget, left)
		}
		id, ok := m.k.Schedule()
		if !ok {
			return nil
		}

		p, err := m.process(id)
		if err != nil {
			m.abort(id, err)
			continue
		}
		stop, n, err := cpu.Run(p, budget)
		m.steps += n
		switch stop {
		case cpu.StopFatal:
			m.abort(id, err)
		case cpu.StopExit:
			log.Debugf("[%v] exiting gracefully", id)
			m.exits = append(m.exits, Exit{Env: id, Status: Exited})
			delete(m.procs, id)
		case cpu.StopBudget:
			m.k.Yield()
		}
	}
}

// abort destroys id after a fatal error, unless the kernel already did.
func (m *Machine) abort(id kernel.EnvID, err error) {
	if _, ok := m.k.Env(id); ok {
		if derr := m.k.EnvDestroy(id); derr != nil {
			log.Warningf("Destroying aborted env %v: %v", id, derr)
		}
	}
	m.exits = append(m.exits, Exit{Env: id, Status: Aborted, Err: err})
	delete(m.procs, id)
	delete(m.fresh, id)
}
