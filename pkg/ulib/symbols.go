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
	"sort"

	"ufork.dev/ufork/pkg/arch"
)

// Names of the entry points every library provides.
const (
	SymPgfaultUpcall = "_pgfault_upcall"
	SymPgfault       = "pgfault"
	SymForkResume    = "fork_resume"
)

// LibText is where library entry points are placed. Entry points are
// addresses only: they are never mapped, and the CPU dispatches to them by
// symbol lookup.
const LibText arch.Addr = 0x00200000

const symAlign = 16

// Handler is a page fault handler. It runs on the exception stack with the
// fault described by utf. A non-nil error is fatal.
type Handler func(p *Process, utf *arch.UTrapframe) error

// Continuation completes an interrupted library call. It returns the value
// the call produces in the environment that resumes it.
type Continuation func(p *Process) (uint32, error)

type symbol struct {
	name    string
	upcall  func(*Process) error
	handler Handler
	cont    Continuation
}

// Symbols is the library's symbol table: it assigns addresses to library
// entry points and resolves them back.
type Symbols struct {
	byAddr map[arch.Addr]*symbol
	byName map[string]arch.Addr
	next   arch.Addr
}

// NewLibrary returns the symbol table of the standard library: the page
// fault upcall, the copy-on-write fault handler and the fork continuation.
func NewLibrary() *Symbols {
	s := &Symbols{
		byAddr: make(map[arch.Addr]*symbol),
		byName: make(map[string]arch.Addr),
		next:   LibText,
	}
	s.define(&symbol{name: SymPgfaultUpcall, upcall: pgfaultUpcall})
	s.define(&symbol{name: SymPgfault, handler: CowHandler})
	s.define(&symbol{name: SymForkResume, cont: forkResume})
	return s
}

func (s *Symbols) define(sym *symbol) arch.Addr {
	if _, ok := s.byName[sym.name]; ok {
		panic(fmt.Sprintf("duplicate library symbol %q", sym.name))
	}
	addr := s.next
	s.next += symAlign
	s.byAddr[addr] = sym
	s.byName[sym.name] = addr
	return addr
}

// DefineHandler adds a page fault handler and returns its address.
func (s *Symbols) DefineHandler(name string, h Handler) arch.Addr {
	return s.define(&symbol{name: name, handler: h})
}

// DefineContinuation adds a continuation and returns its address.
func (s *Symbols) DefineContinuation(name string, c Continuation) arch.Addr {
	return s.define(&symbol{name: name, cont: c})
}

// Lookup returns the address of name.
func (s *Symbols) Lookup(name string) (arch.Addr, bool) {
	addr, ok := s.byName[name]
	return addr, ok
}

// MustLookup is Lookup for symbols that are always defined.
func (s *Symbols) MustLookup(name string) arch.Addr {
	addr, ok := s.byName[name]
	if !ok {
		panic(fmt.Sprintf("undefined library symbol %q", name))
	}
	return addr
}

// Name returns the name of the symbol at addr.
func (s *Symbols) Name(addr arch.Addr) (string, bool) {
	sym, ok := s.byAddr[addr]
	if !ok {
		return "", false
	}
	return sym.name, true
}

// Names returns all symbol names in address order.
func (s *Symbols) Names() []string {
	addrs := make([]arch.Addr, 0, len(s.byAddr))
	for addr := range s.byAddr {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	names := make([]string, len(addrs))
	for i, addr := range addrs {
		names[i] = s.byAddr[addr].name
	}
	return names
}

func (s *Symbols) upcall(addr arch.Addr) (func(*Process) error, bool) {
	sym, ok := s.byAddr[addr]
	if !ok || sym.upcall == nil {
		return nil, false
	}
	return sym.upcall, true
}

func (s *Symbols) handler(addr arch.Addr) (Handler, bool) {
	sym, ok := s.byAddr[addr]
	if !ok || sym.handler == nil {
		return nil, false
	}
	return sym.handler, true
}

func (s *Symbols) continuation(addr arch.Addr) (Continuation, bool) {
	sym, ok := s.byAddr[addr]
	if !ok || sym.cont == nil {
		return nil, false
	}
	return sym.cont, true
}
