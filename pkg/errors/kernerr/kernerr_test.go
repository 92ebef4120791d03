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

package kernerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"ufork.dev/ufork/pkg/errors"
)

func TestCodes(t *testing.T) {
	for _, tc := range []struct {
		err   *errors.Error
		code  errors.Code
		errno unix.Errno
	}{
		{EBadEnv, CodeBadEnv, unix.ESRCH},
		{EInval, CodeInval, unix.EINVAL},
		{ENoMem, CodeNoMem, unix.ENOMEM},
		{ENoFreeEnv, CodeNoFreeEnv, unix.EAGAIN},
		{EFault, CodeFault, unix.EFAULT},
	} {
		if got := ToCode(tc.err); got != tc.code {
			t.Errorf("ToCode(%v) got %d want %d", tc.err, got, tc.code)
		}
		if got := FromCode(tc.code); got != tc.err {
			t.Errorf("FromCode(%d) got %v want %v", tc.code, got, tc.err)
		}
		if got := FromCode(-tc.code); got != tc.err {
			t.Errorf("FromCode(%d) got %v want %v", -tc.code, got, tc.err)
		}
		if got := ToErrno(tc.err); got != tc.errno {
			t.Errorf("ToErrno(%v) got %v want %v", tc.err, got, tc.errno)
		}
	}
}

func TestUnknown(t *testing.T) {
	if got := FromCode(0); got != nil {
		t.Errorf("FromCode(0) got %v want nil", got)
	}
	if got := FromCode(1000); got != EUnspecified {
		t.Errorf("FromCode(1000) got %v want %v", got, EUnspecified)
	}
	if got := ToCode(fmt.Errorf("host failure")); got != CodeUnspecified {
		t.Errorf("ToCode(non-kernel error) got %d want %d", got, CodeUnspecified)
	}
	if got, want := Describe(ENoMem), "error 4: out of memory"; got != want {
		t.Errorf("Describe(ENoMem) got %q want %q", got, want)
	}
}
