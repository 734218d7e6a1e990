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
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// ELFInfo is what a loaded image tells the kernel about its entry.
type ELFInfo struct {
	// Entry is the initial program counter.
	Entry uint64

	// UserStackBase is the lowest address of the user stack region, one
	// guard page past the highest loaded page.
	UserStackBase uint64
}

// parseELF validates the image headers.
func parseELF(image []byte) (*elf.File, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadELF, err)
	}
	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, fmt.Errorf("%w: unsupported class %v", ErrBadELF, f.Class)
	case f.Data != elf.ELFDATA2LSB:
		return nil, fmt.Errorf("%w: unsupported byte order %v", ErrBadELF, f.Data)
	case f.Machine != elf.EM_RISCV:
		return nil, fmt.Errorf("%w: unsupported machine %v", ErrBadELF, f.Machine)
	case f.Type != elf.ET_EXEC:
		return nil, fmt.Errorf("%w: unsupported type %v", ErrBadELF, f.Type)
	}
	return f, nil
}

// LoadELF builds a user address space from an executable image. Each
// PT_LOAD segment becomes a framed user area with the segment's permissions.
// Thread stacks and trap context pages are not mapped.
func LoadELF(alloc *FrameAllocator, layout *Layout, image []byte) (*AddressSpace, ELFInfo, error) {
	f, err := parseELF(image)
	if err != nil {
		return nil, ELFInfo{}, err
	}
	defer f.Close()

	as, err := newWithTrampoline(alloc, layout)
	if err != nil {
		return nil, ELFInfo{}, err
	}
	var maxEnd riscv.VirtPageNum
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		end := p.Vaddr + p.Memsz
		if p.Filesz > p.Memsz || end < p.Vaddr || end > userSpaceLimit {
			as.Release()
			return nil, ELFInfo{}, fmt.Errorf("%w: segment %d [%#x, %#x) is invalid", ErrBadELF, i, p.Vaddr, end)
		}
		perm := PermU
		if p.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil && p.Filesz > 0 {
			as.Release()
			return nil, ELFInfo{}, fmt.Errorf("%w: segment %d: %v", ErrBadELF, i, err)
		}
		area := NewArea(p.Vaddr, end, Framed, perm)
		if err := as.push(area, data, riscv.VA(p.Vaddr).PageOffset()); err != nil {
			as.Release()
			if errors.Is(err, ErrOutOfMemory) {
				return nil, ELFInfo{}, fmt.Errorf("segment %d: %w", i, err)
			}
			return nil, ELFInfo{}, fmt.Errorf("%w: segment %d: %v", ErrBadELF, i, err)
		}
		maxEnd = max(maxEnd, area.Range.End)
	}
	if len(as.areas) == 0 {
		as.Release()
		return nil, ELFInfo{}, fmt.Errorf("%w: no loadable segments", ErrBadELF)
	}
	return as, ELFInfo{
		Entry:         f.Entry,
		UserStackBase: uint64(maxEnd.Addr()) + riscv.PageSize,
	}, nil
}
