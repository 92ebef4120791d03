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

package bits

import "testing"

func TestIsOn(t *testing.T) {
	for _, tc := range []struct {
		mask, bits uint32
		on, anyOn  bool
	}{
		{mask: 0x7, bits: 0x5, on: true, anyOn: true},
		{mask: 0x5, bits: 0x7, on: false, anyOn: true},
		{mask: 0x805, bits: 0x802, on: false, anyOn: true},
		{mask: 0x1, bits: 0x800, on: false, anyOn: false},
	} {
		if got := IsOn(tc.mask, tc.bits); got != tc.on {
			t.Errorf("IsOn(%#x, %#x): got %v, wanted %v", tc.mask, tc.bits, got, tc.on)
		}
		if got := IsAnyOn(tc.mask, tc.bits); got != tc.anyOn {
			t.Errorf("IsAnyOn(%#x, %#x): got %v, wanted %v", tc.mask, tc.bits, got, tc.anyOn)
		}
	}
}

func TestMask(t *testing.T) {
	if got, want := Mask[uint32](0, 1, 11), uint32(0x803); got != want {
		t.Errorf("Mask(0, 1, 11): got %#x, wanted %#x", got, want)
	}
	if got, want := MaskOf[uint64](63), uint64(1)<<63; got != want {
		t.Errorf("MaskOf(63): got %#x, wanted %#x", got, want)
	}
}

func TestAlign(t *testing.T) {
	const page = uint32(4096)
	for _, tc := range []struct {
		x, down, up uint32
		ok          bool
	}{
		{x: 0, down: 0, up: 0, ok: true},
		{x: 1, down: 0, up: page, ok: true},
		{x: page, down: page, up: page, ok: true},
		{x: 0x00800123, down: 0x00800000, up: 0x00801000, ok: true},
		{x: 0xfffff001, down: 0xfffff000, up: 0, ok: false},
	} {
		if got := AlignDown(tc.x, page); got != tc.down {
			t.Errorf("AlignDown(%#x): got %#x, wanted %#x", tc.x, got, tc.down)
		}
		got, ok := AlignUp(tc.x, page)
		if ok != tc.ok || (ok && got != tc.up) {
			t.Errorf("AlignUp(%#x): got (%#x, %v), wanted (%#x, %v)", tc.x, got, ok, tc.up, tc.ok)
		}
		if got, want := IsAligned(tc.x, page), tc.x == tc.down; got != want {
			t.Errorf("IsAligned(%#x): got %v, wanted %v", tc.x, got, want)
		}
	}
}
