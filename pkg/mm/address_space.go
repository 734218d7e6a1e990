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
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/riscv"
)

// AddressSpace is a page table plus the areas mapped through it.
//
// Every address space maps the trampoline page at Trampoline. Areas never
// overlap each other or the trampoline.
type AddressSpace struct {
	alloc  *FrameAllocator
	layout *Layout
	pt     *PageTable
	areas  []*Area
}

// NewBare returns an address space with nothing mapped, not even the
// trampoline.
func NewBare(alloc *FrameAllocator, layout *Layout) (*AddressSpace, error) {
	pt, err := NewPageTable(alloc)
	if err != nil {
		return nil, err
	}
	return &AddressSpace{alloc: alloc, layout: layout, pt: pt}, nil
}

// newWithTrampoline returns an address space with only the trampoline mapped.
func newWithTrampoline(alloc *FrameAllocator, layout *Layout) (*AddressSpace, error) {
	as, err := NewBare(alloc, layout)
	if err != nil {
		return nil, err
	}
	if err := as.mapTrampoline(); err != nil {
		as.Release()
		return nil, err
	}
	return as, nil
}

// mapTrampoline maps the trampoline page. It is not an area: it is shared by
// every address space and owned by none.
func (as *AddressSpace) mapTrampoline() error {
	return as.pt.Map(riscv.VA(Trampoline).Floor(), as.layout.Strampoline.Floor(), riscv.PTERead|riscv.PTEExecute)
}

// Token returns the satp value selecting this address space.
func (as *AddressSpace) Token() uint64 {
	return as.pt.Token()
}

// PageTable returns the address space's page table.
func (as *AddressSpace) PageTable() *PageTable {
	return as.pt
}

// Layout returns the kernel layout the address space was built against.
func (as *AddressSpace) Layout() *Layout {
	return as.layout
}

// push maps area and, for framed areas, copies data into it starting offset
// bytes into its first page.
func (as *AddressSpace) push(area *Area, data []byte, offset uint64) error {
	trampoline := riscv.VA(Trampoline).Floor()
	if area.Range.Contains(trampoline) {
		return fmt.Errorf("area %v covers the trampoline", area.Range)
	}
	for _, a := range as.areas {
		if a.Range.Overlaps(area.Range) {
			return fmt.Errorf("area %v overlaps %v", area.Range, a.Range)
		}
	}
	if err := area.mapAll(as.pt, as.alloc); err != nil {
		return err
	}
	if data != nil {
		area.copyData(data, offset)
	}
	as.areas = append(as.areas, area)
	return nil
}

// InsertFramedArea maps the pages covering [start, end) to fresh zeroed
// frames.
func (as *AddressSpace) InsertFramedArea(start, end uint64, perm MapPermission) error {
	return as.push(NewArea(start, end, Framed, perm), nil, 0)
}

// RemoveAreaWithStartVPN unmaps the area starting at vpn and releases its
// frames. It returns false if there is no such area.
func (as *AddressSpace) RemoveAreaWithStartVPN(vpn riscv.VirtPageNum) bool {
	for i, a := range as.areas {
		if a.Range.Start == vpn {
			a.unmapAll(as.pt)
			as.areas = append(as.areas[:i], as.areas[i+1:]...)
			return true
		}
	}
	return false
}

// Translate returns the leaf entry for vpn.
func (as *AddressSpace) Translate(vpn riscv.VirtPageNum) (riscv.PTE, bool) {
	return as.pt.Translate(vpn)
}

// Activate installs the address space on the hart.
func (as *AddressSpace) Activate(cpu *hart.CPU) {
	cpu.WriteSatp(as.Token())
	cpu.SfenceVMA()
}

// RecycleDataPages unmaps every area and releases their frames. The page
// table itself survives until Release.
func (as *AddressSpace) RecycleDataPages() {
	for _, a := range as.areas {
		a.unmapAll(as.pt)
	}
	as.areas = nil
}

// Release tears the address space down completely.
func (as *AddressSpace) Release() {
	as.RecycleDataPages()
	as.pt.Release()
}

// AreaInfo describes one area.
type AreaInfo struct {
	Start  uint64 `json:"start" yaml:"start"`
	End    uint64 `json:"end" yaml:"end"`
	Type   string `json:"type" yaml:"type"`
	Perm   string `json:"perm" yaml:"perm"`
	Frames int    `json:"frames" yaml:"frames"`
}

// Areas describes the mapped areas in insertion order.
func (as *AddressSpace) Areas() []AreaInfo {
	infos := make([]AreaInfo, 0, len(as.areas))
	for _, a := range as.areas {
		infos = append(infos, AreaInfo{
			Start:  a.Range.Start.Addr().Canonical(),
			End:    a.Range.End.Addr().Canonical(),
			Type:   a.Type.String(),
			Perm:   a.Perm.String(),
			Frames: a.FrameCount(),
		})
	}
	return infos
}

// Fork returns a copy of user space parent. Every framed area is duplicated
// into fresh frames.
func Fork(parent *AddressSpace) (*AddressSpace, error) {
	as, err := newWithTrampoline(parent.alloc, parent.layout)
	if err != nil {
		return nil, err
	}
	for _, a := range parent.areas {
		na := a.cloneShape()
		if err := as.push(na, nil, 0); err != nil {
			as.Release()
			return nil, fmt.Errorf("forking area %v: %w", a.Range, err)
		}
		if a.Type != Framed {
			continue
		}
		for vpn, f := range a.frames {
			copy(na.frames[vpn].Bytes(), f.Bytes())
		}
	}
	return as, nil
}

// NewKernelSpace builds the kernel address space: the kernel image sections
// and the rest of RAM identity mapped, plus the trampoline.
func NewKernelSpace(alloc *FrameAllocator, layout *Layout) (*AddressSpace, error) {
	as, err := newWithTrampoline(alloc, layout)
	if err != nil {
		return nil, err
	}
	sections := []struct {
		name       string
		start, end riscv.PhysAddr
		perm       MapPermission
	}{
		{".text", layout.Stext, layout.Etext, PermR | PermX},
		{".rodata", layout.Srodata, layout.Erodata, PermR},
		{".data", layout.Sdata, layout.Edata, PermR | PermW},
		{".bss", layout.Sbss, layout.Ebss, PermR | PermW},
		{"physical memory", layout.Ekernel, layout.MemoryEnd, PermR | PermW},
	}
	for _, s := range sections {
		log.Infof("[kernel] mapping %s [%v, %v)", s.name, s.start, s.end)
		if err := as.push(NewArea(uint64(s.start), uint64(s.end), Identical, s.perm), nil, 0); err != nil {
			as.Release()
			return nil, fmt.Errorf("mapping %s: %w", s.name, err)
		}
	}
	return as, nil
}
