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
	"errors"
	"fmt"

	"ufork.dev/ufork/pkg/kernel"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/metric"
)

var fatalAborts = metric.MustCreateNewUint64Metric("/ulib/fatal_aborts", "Number of environments aborted by a fatal library error.")

// FatalError is the terminal state of a Process. It carries the diagnostic
// and, when a system call failed, the underlying error.
type FatalError struct {
	Env kernel.EnvID
	Msg string
	Err error
}

// Error implements error.Error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("[%v] fatal: %s", e.Env, e.Msg)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatalf moves p to the Aborted state and returns the resulting
// *FatalError. Once aborted, the first diagnostic is kept and every later
// call returns it.
func (p *Process) Fatalf(format string, v ...any) error {
	return p.abort(nil, format, v...)
}

func (p *Process) abort(err error, format string, v ...any) error {
	if p.fatal != nil {
		return p.fatal
	}
	env := p.k.Getenvid()
	var ferr *kernel.FaultError
	if errors.As(err, &ferr) {
		env = ferr.Env
	}
	p.state = Aborted
	p.fatal = &FatalError{
		Env: env,
		Msg: fmt.Sprintf(format, v...),
		Err: err,
	}
	fatalAborts.Increment()
	log.Warningf("%v", p.fatal)
	return p.fatal
}
