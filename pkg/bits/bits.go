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

// Package bits includes non-atomic bit and alignment helpers shared by the
// page-table and allocator code.
package bits

import "golang.org/x/exp/constraints"

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T constraints.Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T constraints.Unsigned](i int) T {
	return T(1) << T(i)
}

// AlignDown rounds x down to a multiple of align, which must be a power of 2.
func AlignDown[T constraints.Unsigned](x, align T) T {
	return x &^ (align - 1)
}

// AlignUp rounds x up to a multiple of align, which must be a power of 2. ok
// is false if rounding wrapped around.
func AlignUp[T constraints.Unsigned](x, align T) (v T, ok bool) {
	v = AlignDown(x+align-1, align)
	return v, v >= x
}

// IsAligned returns true if x is a multiple of align, which must be a power
// of 2.
func IsAligned[T constraints.Unsigned](x, align T) bool {
	return x&(align-1) == 0
}
