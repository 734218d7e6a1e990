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

// Package riscv describes the RV64 privileged architecture as used by the
// kernel: Sv39 address types, page table entries, satp, trap causes, the
// integer register file and instruction encodings.
package riscv

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/bits"
)

// Sv39 geometry.
const (
	// PageShift is the log2 of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// PAWidth is the number of physical address bits.
	PAWidth = 56

	// VAWidth is the number of virtual address bits under Sv39.
	VAWidth = 39

	// PPNWidth is the number of physical page number bits.
	PPNWidth = PAWidth - PageShift

	// VPNWidth is the number of virtual page number bits.
	VPNWidth = VAWidth - PageShift

	// LevelBits is the number of VPN bits consumed per page table level.
	LevelBits = 9

	// Levels is the depth of an Sv39 page table walk.
	Levels = 3

	// EntriesPerTable is the number of entries in one page table page.
	EntriesPerTable = 1 << LevelBits
)

// PhysAddr is a physical address.
type PhysAddr uint64

// VirtAddr is a virtual address truncated to VAWidth bits.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PA truncates v to a physical address.
func PA(v uint64) PhysAddr {
	return PhysAddr(v & (bits.MaskOf64(PAWidth) - 1))
}

// VA truncates v to a virtual address.
func VA(v uint64) VirtAddr {
	return VirtAddr(v & (bits.MaskOf64(VAWidth) - 1))
}

// Floor returns the page containing a.
func (a PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(a >> PageShift)
}

// Ceil returns the first page at or above a.
func (a PhysAddr) Ceil() PhysPageNum {
	return PhysPageNum((a + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of a within its page.
func (a PhysAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page aligned.
func (a PhysAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// String implements fmt.Stringer.
func (a PhysAddr) String() string {
	return fmt.Sprintf("PA:%#x", uint64(a))
}

// Floor returns the page containing a.
func (a VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(a >> PageShift)
}

// Ceil returns the first page at or above a.
func (a VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((a + PageSize - 1) >> PageShift)
}

// PageOffset returns the offset of a within its page.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page aligned.
func (a VirtAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// Canonical returns a as a 64-bit address, sign-extending bit VAWidth-1 as
// Sv39 requires.
func (a VirtAddr) Canonical() uint64 {
	return bits.SignExtend64(uint64(a), VAWidth)
}

// String implements fmt.Stringer.
func (a VirtAddr) String() string {
	return fmt.Sprintf("VA:%#x", a.Canonical())
}

// Addr returns the address of the first byte of page p.
func (p PhysPageNum) Addr() PhysAddr {
	return PhysAddr(p << PageShift)
}

// String implements fmt.Stringer.
func (p PhysPageNum) String() string {
	return fmt.Sprintf("PPN:%#x", uint64(p))
}

// Addr returns the address of the first byte of page p.
func (p VirtPageNum) Addr() VirtAddr {
	return VirtAddr(p << PageShift)
}

// Indexes returns the three 9-bit page table indexes of p, root level first.
func (p VirtPageNum) Indexes() [Levels]int {
	var idx [Levels]int
	v := uint64(p)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = int(v & (EntriesPerTable - 1))
		v >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.
func (p VirtPageNum) String() string {
	return fmt.Sprintf("VPN:%#x", uint64(p))
}

// IsCanonical returns true if v is a valid Sv39 virtual address: bits 63
// through VAWidth-1 must all equal.
func IsCanonical(v uint64) bool {
	return bits.SignExtend64(v, VAWidth) == v
}

// VPNRange is the half-open range of virtual pages [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the range [start, end).
//
// Preconditions: start <= end.
func NewVPNRange(start, end VirtPageNum) VPNRange {
	if start > end {
		panic(fmt.Sprintf("invalid page range [%v, %v)", start, end))
	}
	return VPNRange{Start: start, End: end}
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true if p lies within r.
func (r VPNRange) Contains(p VirtPageNum) bool {
	return r.Start <= p && p < r.End
}

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// ForEach calls fn for every page in r in ascending order.
func (r VPNRange) ForEach(fn func(p VirtPageNum)) {
	for p := r.Start; p < r.End; p++ {
		fn(p)
	}
}

// String implements fmt.Stringer.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
