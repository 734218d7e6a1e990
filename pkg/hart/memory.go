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

package hart

import (
	"encoding/binary"
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// PhysMem is the machine's RAM: a contiguous range of physical addresses
// starting at Base.
//
// All accessors are bounds checked. Views returned by Slice, Page and PTEs
// alias RAM directly and must not be retained past the access they were
// created for.
type PhysMem struct {
	base riscv.PhysAddr
	data []byte
}

// NewPhysMem returns zeroed RAM of size bytes at base. Both must be page
// aligned.
func NewPhysMem(base riscv.PhysAddr, size uint64) *PhysMem {
	if !base.Aligned() || size%riscv.PageSize != 0 || size == 0 {
		panic(fmt.Sprintf("unaligned RAM [%v, +%#x)", base, size))
	}
	return &PhysMem{base: base, data: make([]byte, size)}
}

// Base returns the first physical address of RAM.
func (m *PhysMem) Base() riscv.PhysAddr {
	return m.base
}

// End returns the first physical address past RAM.
func (m *PhysMem) End() riscv.PhysAddr {
	return m.base + riscv.PhysAddr(len(m.data))
}

// Size returns the size of RAM in bytes.
func (m *PhysMem) Size() uint64 {
	return uint64(len(m.data))
}

// Contains returns true if [pa, pa+n) lies entirely within RAM.
func (m *PhysMem) Contains(pa riscv.PhysAddr, n uint64) bool {
	return pa >= m.base && n <= m.Size() && uint64(pa-m.base) <= m.Size()-n
}

// Slice returns a view of [pa, pa+n).
func (m *PhysMem) Slice(pa riscv.PhysAddr, n uint64) ([]byte, error) {
	if !m.Contains(pa, n) {
		return nil, fmt.Errorf("physical range [%v, +%#x) outside RAM [%v, %v)", pa, n, m.base, m.End())
	}
	off := uint64(pa - m.base)
	return m.data[off : off+n : off+n], nil
}

// Page returns a view of the page ppn.
//
// Precondition: ppn is a page of RAM. A page outside RAM is a kernel bug.
func (m *PhysMem) Page(ppn riscv.PhysPageNum) []byte {
	b, err := m.Slice(ppn.Addr(), riscv.PageSize)
	if err != nil {
		panic(fmt.Sprintf("page %v: %v", ppn, err))
	}
	return b
}

// PTEs returns a typed view of the page ppn as a page table.
func (m *PhysMem) PTEs(ppn riscv.PhysPageNum) PTETable {
	return PTETable{b: m.Page(ppn)}
}

// Read64 reads a little-endian doubleword.
func (m *PhysMem) Read64(pa riscv.PhysAddr) (uint64, error) {
	b, err := m.Slice(pa, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write64 writes a little-endian doubleword.
func (m *PhysMem) Write64(pa riscv.PhysAddr, v uint64) error {
	b, err := m.Slice(pa, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// PTETable is a typed view over one page table page.
type PTETable struct {
	b []byte
}

// Get returns entry i.
func (t PTETable) Get(i int) riscv.PTE {
	return riscv.PTE(binary.LittleEndian.Uint64(t.b[i*8:]))
}

// Set stores entry i.
func (t PTETable) Set(i int, e riscv.PTE) {
	binary.LittleEndian.PutUint64(t.b[i*8:], uint64(e))
}
