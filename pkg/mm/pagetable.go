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

package mm

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/riscv"
)

// PageTable is a three level Sv39 page table held in physical frames.
//
// A table built by NewPageTable owns its root and every directory frame it
// allocates. A table built by FromToken is a borrowed view: it may be walked
// but never grows and Release is a no-op.
type PageTable struct {
	mem    *hart.PhysMem
	alloc  *FrameAllocator
	root   riscv.PhysPageNum
	frames []*Frame
	owned  bool
}

// NewPageTable allocates an empty root table.
func NewPageTable(alloc *FrameAllocator) (*PageTable, error) {
	f, ok := alloc.Alloc()
	if !ok {
		return nil, ErrOutOfMemory
	}
	return &PageTable{
		mem:    alloc.Mem(),
		alloc:  alloc,
		root:   f.PPN,
		frames: []*Frame{f},
		owned:  true,
	}, nil
}

// FromToken returns a view of the table selected by the satp value token.
func FromToken(mem *hart.PhysMem, token uint64) *PageTable {
	return &PageTable{
		mem:  mem,
		root: riscv.SatpRoot(token),
	}
}

// Root returns the physical page of the root table.
func (pt *PageTable) Root() riscv.PhysPageNum {
	return pt.root
}

// Token returns the satp value that selects this table in Sv39 mode.
func (pt *PageTable) Token() uint64 {
	return riscv.MakeSatp(pt.root)
}

// walk returns the table page and index of the leaf entry for vpn. If create
// is set, missing directories are allocated; otherwise ok is false when the
// walk hits an invalid entry.
func (pt *PageTable) walk(vpn riscv.VirtPageNum, create bool) (table hart.PTETable, idx int, ok bool, err error) {
	indexes := vpn.Indexes()
	ppn := pt.root
	for level, i := range indexes {
		table = pt.mem.PTEs(ppn)
		if level == riscv.Levels-1 {
			return table, i, true, nil
		}
		e := table.Get(i)
		if !e.Valid() {
			if !create {
				return table, i, false, nil
			}
			if !pt.owned {
				panic(fmt.Sprintf("page table %v: borrowed table cannot grow", pt.root))
			}
			f, ok := pt.alloc.Alloc()
			if !ok {
				return table, i, false, ErrOutOfMemory
			}
			pt.frames = append(pt.frames, f)
			e = riscv.NewPTE(f.PPN, riscv.PTEValid)
			table.Set(i, e)
		} else if e.Leaf() {
			panic(fmt.Sprintf("page table %v: superpage on the path to %v", pt.root, vpn))
		}
		ppn = e.PPN()
	}
	panic("unreachable")
}

// Map installs a leaf mapping vpn to ppn. The valid bit is added to flags.
//
// Preconditions: vpn is not mapped.
func (pt *PageTable) Map(vpn riscv.VirtPageNum, ppn riscv.PhysPageNum, flags riscv.PTEFlags) error {
	table, i, _, err := pt.walk(vpn, true)
	if err != nil {
		return fmt.Errorf("mapping %v: %w", vpn, err)
	}
	if table.Get(i).Valid() {
		panic(fmt.Sprintf("%v is mapped before mapping", vpn))
	}
	table.Set(i, riscv.NewPTE(ppn, flags|riscv.PTEValid))
	return nil
}

// Unmap clears the leaf mapping for vpn.
//
// Preconditions: vpn is mapped.
func (pt *PageTable) Unmap(vpn riscv.VirtPageNum) {
	table, i, ok, _ := pt.walk(vpn, false)
	if !ok || !table.Get(i).Valid() {
		panic(fmt.Sprintf("%v is invalid before unmapping", vpn))
	}
	table.Set(i, 0)
}

// Translate returns the leaf entry for vpn, or false if there is none.
func (pt *PageTable) Translate(vpn riscv.VirtPageNum) (riscv.PTE, bool) {
	table, i, ok, _ := pt.walk(vpn, false)
	if !ok {
		return 0, false
	}
	e := table.Get(i)
	return e, e.Valid()
}

// TranslateVA translates a virtual address to a physical address.
func (pt *PageTable) TranslateVA(va riscv.VirtAddr) (riscv.PhysAddr, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return e.PPN().Addr() + riscv.PhysAddr(va.PageOffset()), true
}

// Release frees the root and every directory frame. Leaf frames belong to
// the caller.
func (pt *PageTable) Release() {
	for _, f := range pt.frames {
		f.Release()
	}
	pt.frames = nil
}

// FrameCount returns the number of frames the table itself occupies.
func (pt *PageTable) FrameCount() int {
	return len(pt.frames)
}
