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

// User virtual memory layout.
//
//	ULIM        +------------------------------+ 0xef800000
//	            |  read-only page tables (UVPT)|
//	UVPT        +------------------------------+ 0xef400000
//	            |            unused            |
//	UTOP,       +------------------------------+ 0xeec00000
//	UXSTACKTOP  |   user exception stack       |
//	            +------------------------------+ 0xeebff000
//	            |        empty guard page      |
//	USTACKTOP   +------------------------------+ 0xeebfe000
//	            |      normal user stack       |
//	            +------------------------------+
//	            |  program data, heap, libdata |
//	UTEXT       +------------------------------+ 0x00800000
//	PFTEMP      |  scratch page for COW copies | 0x007ff000
//	UTEMP       +------------------------------+ 0x00400000
//	            |        unmapped (NULL)       |
//	0           +------------------------------+
const (
	// ULIM is the top of the user-visible address space.
	ULIM Addr = 0xef800000

	// UVPT is where the page tables of the current environment are
	// mapped read-only.
	UVPT Addr = ULIM - PTSize

	// UTOP is the top of user-writable memory.
	UTOP Addr = 0xeec00000

	// UXSTACKTOP is the top of the one-page user exception stack.
	UXSTACKTOP Addr = UTOP

	// USTACKTOP is the top of the normal user stack. One guard page separates
	// it from the exception stack.
	USTACKTOP Addr = UTOP - 2*PageSize

	// UTEXT is where programs are linked, and the first address fork
	// duplicates.
	UTEXT Addr = 2 * PTSize

	// UTEMP is a temporary user mapping area used by the loader.
	UTEMP Addr = PTSize

	// PFTEMP is the scratch page the COW fault handler maps its copy at. It
	// lies below UTEXT so fork never duplicates it.
	PFTEMP Addr = UTEMP + PTSize - PageSize

	// ULIBDATA is the page holding the user library's global variables.
	ULIBDATA Addr = 0x10000000
)

// UVPD is where the page directory of the current environment is mapped
// read-only, a consequence of the self-map at UVPT.
var UVPD = UVPT + Addr(UVPT.PageNumber()<<2)

// UXStackBottom returns the lowest address of the exception stack page.
func UXStackBottom() Addr {
	return UXSTACKTOP - PageSize
}
