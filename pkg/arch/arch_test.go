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

package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddrGeometry(t *testing.T) {
	for _, tc := range []struct {
		addr      Addr
		pn        uint32
		pdx, ptx  uint32
		roundDown Addr
	}{
		{addr: UTEXT, pn: 0x800, pdx: 2, ptx: 0, roundDown: UTEXT},
		{addr: PFTEMP + 0x10, pn: 0x7ff, pdx: 1, ptx: 0x3ff, roundDown: PFTEMP},
		{addr: UXSTACKTOP - 1, pn: 0xeebff, pdx: 0x3ba, ptx: 0x3ff, roundDown: UXStackBottom()},
	} {
		if got := tc.addr.PageNumber(); got != tc.pn {
			t.Errorf("%v.PageNumber() got %#x want %#x", tc.addr, got, tc.pn)
		}
		if got := tc.addr.PDX(); got != tc.pdx {
			t.Errorf("%v.PDX() got %#x want %#x", tc.addr, got, tc.pdx)
		}
		if got := tc.addr.PTX(); got != tc.ptx {
			t.Errorf("%v.PTX() got %#x want %#x", tc.addr, got, tc.ptx)
		}
		if got := tc.addr.RoundDown(); got != tc.roundDown {
			t.Errorf("%v.RoundDown() got %v want %v", tc.addr, got, tc.roundDown)
		}
	}
}

func TestLayout(t *testing.T) {
	if UVPD != 0xef7bd000 {
		t.Errorf("UVPD got %v want 0xef7bd000", UVPD)
	}
	if PFTEMP >= UTEXT {
		t.Errorf("PFTEMP %v must lie below UTEXT %v", PFTEMP, UTEXT)
	}
	if UXStackBottom()-USTACKTOP != PageSize {
		t.Errorf("expected one guard page between the user stack and the exception stack")
	}
}

func TestUTrapframeEncoding(t *testing.T) {
	want := UTrapframe{
		FaultVA: 0x00801234,
		Err:     FEC_WR | FEC_PR | FEC_U,
		Regs:    [NumRegs]uint32{1, 2, 3, 4, 5, 6, 7, 8},
		PC:      UTEXT + 0x40,
		SP:      USTACKTOP - 8,
	}
	buf := make([]byte, UTrapframeSize)
	want.MarshalBytes(buf)
	var got UTrapframe
	got.UnmarshalBytes(buf)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UTrapframe round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.IsWrite() {
		t.Errorf("IsWrite() got false for error %#x", got.Err)
	}
}
