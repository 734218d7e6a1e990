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
	"strings"

	"rvcore.dev/rvcore/pkg/riscv"
)

// MapType is how an area's pages are backed.
type MapType int

const (
	// Identical maps each virtual page to the physical page of the same
	// number.
	Identical MapType = iota

	// Framed backs each virtual page with a freshly allocated frame owned by
	// the area.
	Framed
)

// String implements fmt.Stringer.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "identical"
	case Framed:
		return "framed"
	default:
		return fmt.Sprintf("MapType(%d)", int(t))
	}
}

// MapPermission is the subset of PTE flags an area may request.
type MapPermission uint8

// Permissions. The bit positions match the PTE flags.
const (
	PermR MapPermission = MapPermission(riscv.PTERead)
	PermW MapPermission = MapPermission(riscv.PTEWrite)
	PermX MapPermission = MapPermission(riscv.PTEExecute)
	PermU MapPermission = MapPermission(riscv.PTEUser)
)

// PTEFlags returns p as page table entry flags.
func (p MapPermission) PTEFlags() riscv.PTEFlags {
	return riscv.PTEFlags(p)
}

// String implements fmt.Stringer, e.g. "rw-u".
func (p MapPermission) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit MapPermission
		c   byte
	}{{PermR, 'r'}, {PermW, 'w'}, {PermX, 'x'}, {PermU, 'u'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Area is a contiguous range of virtual pages mapped with one discipline and
// one permission set.
type Area struct {
	Range riscv.VPNRange
	Type  MapType
	Perm  MapPermission

	// frames holds the frames backing a Framed area, by page.
	frames map[riscv.VirtPageNum]*Frame
}

// NewArea returns an unmapped area covering the pages that intersect
// [start, end).
func NewArea(start, end uint64, t MapType, perm MapPermission) *Area {
	return &Area{
		Range:  riscv.NewVPNRange(riscv.VA(start).Floor(), riscv.VA(end).Ceil()),
		Type:   t,
		Perm:   perm,
		frames: make(map[riscv.VirtPageNum]*Frame),
	}
}

// cloneShape returns an unmapped area with the same range, type and
// permissions as a.
func (a *Area) cloneShape() *Area {
	return &Area{
		Range:  a.Range,
		Type:   a.Type,
		Perm:   a.Perm,
		frames: make(map[riscv.VirtPageNum]*Frame),
	}
}

func (a *Area) mapOne(pt *PageTable, alloc *FrameAllocator, vpn riscv.VirtPageNum) error {
	var ppn riscv.PhysPageNum
	switch a.Type {
	case Identical:
		ppn = riscv.PhysPageNum(vpn)
	case Framed:
		f, ok := alloc.Alloc()
		if !ok {
			return fmt.Errorf("backing %v: %w", vpn, ErrOutOfMemory)
		}
		ppn = f.PPN
		a.frames[vpn] = f
	}
	if err := pt.Map(vpn, ppn, a.Perm.PTEFlags()); err != nil {
		if f, ok := a.frames[vpn]; ok {
			f.Release()
			delete(a.frames, vpn)
		}
		return err
	}
	return nil
}

func (a *Area) unmapOne(pt *PageTable, vpn riscv.VirtPageNum) {
	if a.Type == Framed {
		if f, ok := a.frames[vpn]; ok {
			f.Release()
			delete(a.frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// mapAll maps every page of a. On failure the pages already mapped are
// unmapped again.
func (a *Area) mapAll(pt *PageTable, alloc *FrameAllocator) error {
	for vpn := a.Range.Start; vpn < a.Range.End; vpn++ {
		if err := a.mapOne(pt, alloc, vpn); err != nil {
			for p := a.Range.Start; p < vpn; p++ {
				a.unmapOne(pt, p)
			}
			return err
		}
	}
	return nil
}

func (a *Area) unmapAll(pt *PageTable) {
	a.Range.ForEach(func(vpn riscv.VirtPageNum) {
		a.unmapOne(pt, vpn)
	})
}

// copyData copies data into a Framed area, starting offset bytes into its
// first page.
func (a *Area) copyData(data []byte, offset uint64) {
	if a.Type != Framed {
		panic(fmt.Sprintf("copying data into %v area %v", a.Type, a.Range))
	}
	if offset >= riscv.PageSize || offset+uint64(len(data)) > a.Range.Len()*riscv.PageSize {
		panic(fmt.Sprintf("%d bytes at offset %#x do not fit area %v", len(data), offset, a.Range))
	}
	for vpn := a.Range.Start; len(data) > 0; vpn++ {
		n := copy(a.frames[vpn].Bytes()[offset:], data)
		data = data[n:]
		offset = 0
	}
}

// FrameCount returns the number of frames backing a.
func (a *Area) FrameCount() int {
	return len(a.frames)
}
