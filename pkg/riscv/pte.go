// Copyright 2025 The gVisor Authors.
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

package riscv

import (
	"strings"

	"rvcore.dev/rvcore/pkg/bits"
)

// PTEFlags are the low eight bits of a page table entry.
type PTEFlags uint8

// Page table entry flags.
const (
	PTEValid    PTEFlags = 1 << 0
	PTERead     PTEFlags = 1 << 1
	PTEWrite    PTEFlags = 1 << 2
	PTEExecute  PTEFlags = 1 << 3
	PTEUser     PTEFlags = 1 << 4
	PTEGlobal   PTEFlags = 1 << 5
	PTEAccessed PTEFlags = 1 << 6
	PTEDirty    PTEFlags = 1 << 7
)

// Contains returns true if all of o is set in f.
func (f PTEFlags) Contains(o PTEFlags) bool {
	return f&o == o
}

// String implements fmt.Stringer, in the "VRWXUGAD" order.
func (f PTEFlags) String() string {
	var b strings.Builder
	for i, c := range "VRWXUGAD" {
		if f&(1<<i) != 0 {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

const pteFlagBits = 10

// PTE is an Sv39 page table entry: (ppn << 10) | flags.
type PTE uint64

// NewPTE returns an entry pointing at ppn with the given flags.
func NewPTE(ppn PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<pteFlagBits | uint64(flags))
}

// PPN returns the physical page number the entry points at.
func (e PTE) PPN() PhysPageNum {
	return PhysPageNum(bits.Field(uint64(e), pteFlagBits, PPNWidth))
}

// Flags returns the flag bits of the entry.
func (e PTE) Flags() PTEFlags {
	return PTEFlags(e)
}

// Valid returns true if V is set. An entry without V is absent regardless of
// its other bits.
func (e PTE) Valid() bool {
	return e.Flags().Contains(PTEValid)
}

// Readable returns true if R is set.
func (e PTE) Readable() bool {
	return e.Flags().Contains(PTERead)
}

// Writable returns true if W is set.
func (e PTE) Writable() bool {
	return e.Flags().Contains(PTEWrite)
}

// Executable returns true if X is set.
func (e PTE) Executable() bool {
	return e.Flags().Contains(PTEExecute)
}

// User returns true if U is set.
func (e PTE) User() bool {
	return e.Flags().Contains(PTEUser)
}

// Leaf returns true if the entry maps a page rather than a directory.
func (e PTE) Leaf() bool {
	return e.Flags()&(PTERead|PTEWrite|PTEExecute) != 0
}
