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

// Package kernerr contains the kernel's system call error codes exported as
// error interface pointers. This allows for fast comparison and return
// operations comparable to unix.Errno constants.
package kernerr

import (
	"fmt"

	"golang.org/x/sys/unix"
	"ufork.dev/ufork/pkg/errors"
)

// Kernel error codes.
const (
	CodeUnspecified errors.Code = iota + 1
	CodeBadEnv
	CodeInval
	CodeNoMem
	CodeNoFreeEnv
	CodeFault
)

// The following errors are the only values system calls return. Compare
// them with ==.
var (
	noError     *errors.Error = nil
	EUnspecified              = errors.New(CodeUnspecified, "unspecified or unknown problem")
	EBadEnv                   = errors.New(CodeBadEnv, "bad environment")
	EInval                    = errors.New(CodeInval, "invalid parameter")
	ENoMem                    = errors.New(CodeNoMem, "out of memory")
	ENoFreeEnv                = errors.New(CodeNoFreeEnv, "out of environments")
	EFault                    = errors.New(CodeFault, "segmentation fault")
)

var errorSlice = []*errors.Error{
	0:               noError,
	CodeUnspecified: EUnspecified,
	CodeBadEnv:      EBadEnv,
	CodeInval:       EInval,
	CodeNoMem:       ENoMem,
	CodeNoFreeEnv:   ENoFreeEnv,
	CodeFault:       EFault,
}

// FromCode returns the error for code, or EUnspecified if code is unknown.
// A zero code returns nil.
func FromCode(code errors.Code) error {
	if code < 0 {
		code = -code
	}
	if int(code) >= len(errorSlice) {
		return EUnspecified
	}
	if code == 0 {
		return nil
	}
	return errorSlice[code]
}

// ToCode returns the code carried by err, or CodeUnspecified if err is not a
// kernel error. A nil error returns 0.
func ToCode(err error) errors.Code {
	if err == nil {
		return 0
	}
	if e, ok := err.(*errors.Error); ok {
		return e.Code()
	}
	return CodeUnspecified
}

// ToErrno maps a kernel error onto the closest host errno, for diagnostics
// reported to host tooling.
func ToErrno(err error) unix.Errno {
	switch ToCode(err) {
	case 0:
		return 0
	case CodeBadEnv:
		return unix.ESRCH
	case CodeInval:
		return unix.EINVAL
	case CodeNoMem:
		return unix.ENOMEM
	case CodeNoFreeEnv:
		return unix.EAGAIN
	case CodeFault:
		return unix.EFAULT
	default:
		return unix.EIO
	}
}

// Describe formats err the way the kernel console prints system call
// failures: "error 4: out of memory".
func Describe(err error) string {
	if err == nil {
		return "success"
	}
	return fmt.Sprintf("error %d: %v", ToCode(err), err)
}
