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
	"rvcore.dev/rvcore/pkg/sync"
)

// frameState is the stack allocator: pages below current have been handed
// out at least once; recycled holds the ones given back.
type frameState struct {
	start    riscv.PhysPageNum
	current  riscv.PhysPageNum
	end      riscv.PhysPageNum
	recycled []riscv.PhysPageNum
	free     map[riscv.PhysPageNum]struct{}
}

// FrameAllocator hands out physical page frames from [start, end).
type FrameAllocator struct {
	mem   *hart.PhysMem
	state sync.Cell[frameState]
}

// NewFrameAllocator returns an allocator managing the pages [start, end) of
// mem.
func NewFrameAllocator(mem *hart.PhysMem, start, end riscv.PhysPageNum) *FrameAllocator {
	if start > end || !mem.Contains(start.Addr(), uint64(end-start)*riscv.PageSize) {
		panic(fmt.Sprintf("frame range [%v, %v) outside RAM", start, end))
	}
	a := &FrameAllocator{mem: mem}
	a.state.Init("frame allocator", frameState{
		start:   start,
		current: start,
		end:     end,
		free:    make(map[riscv.PhysPageNum]struct{}),
	})
	return a
}

// Frame is an owned physical page. It returns to its allocator on Release.
type Frame struct {
	PPN   riscv.PhysPageNum
	alloc *FrameAllocator
}

// Alloc returns a zero-filled frame, or false if every page is in use.
func (a *FrameAllocator) Alloc() (*Frame, bool) {
	s := a.state.Borrow()
	var ppn riscv.PhysPageNum
	switch {
	case len(s.recycled) > 0:
		ppn = s.recycled[len(s.recycled)-1]
		s.recycled = s.recycled[:len(s.recycled)-1]
		delete(s.free, ppn)
	case s.current < s.end:
		ppn = s.current
		s.current++
	default:
		a.state.Release()
		return nil, false
	}
	a.state.Release()

	clear(a.mem.Page(ppn))
	return &Frame{PPN: ppn, alloc: a}, true
}

// dealloc returns ppn to the pool.
//
// Returning a page that was never handed out, or one that is already in the
// pool, is a kernel bug.
func (a *FrameAllocator) dealloc(ppn riscv.PhysPageNum) {
	a.state.With(func(s *frameState) {
		if ppn < s.start || ppn >= s.current {
			panic(fmt.Sprintf("frame %v has not been allocated", ppn))
		}
		if _, ok := s.free[ppn]; ok {
			panic(fmt.Sprintf("frame %v freed twice", ppn))
		}
		s.free[ppn] = struct{}{}
		s.recycled = append(s.recycled, ppn)
	})
}

// Available returns the number of frames that can still be allocated.
func (a *FrameAllocator) Available() uint64 {
	return sync.Get(&a.state, func(s *frameState) uint64 {
		return uint64(s.end-s.current) + uint64(len(s.recycled))
	})
}

// Total returns the number of frames managed.
func (a *FrameAllocator) Total() uint64 {
	return sync.Get(&a.state, func(s *frameState) uint64 {
		return uint64(s.end - s.start)
	})
}

// Mem returns the RAM the allocator carves frames from.
func (a *FrameAllocator) Mem() *hart.PhysMem {
	return a.mem
}

// Release returns f to its allocator.
func (f *Frame) Release() {
	f.alloc.dealloc(f.PPN)
}

// Bytes returns a view of the frame's contents.
func (f *Frame) Bytes() []byte {
	return f.alloc.mem.Page(f.PPN)
}
