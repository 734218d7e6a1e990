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

	"rvcore.dev/rvcore/pkg/riscv"
)

const (
	// Trampoline is the virtual address of the trampoline page, the highest
	// page of every address space.
	Trampoline uint64 = 0xffff_ffff_ffff_f000

	// TrapContextBase is the virtual address of thread 0's trap context. The
	// trap context of thread n lies n pages below it.
	TrapContextBase = Trampoline - riscv.PageSize

	// DefaultUserStackSize is the default size of a user thread stack.
	DefaultUserStackSize = 8192

	// DefaultKernelStackSize is the default size of a kernel stack.
	DefaultKernelStackSize = 8192

	// DefaultImageSize is the default size of the kernel image.
	DefaultImageSize = 256 << 10

	// userSpaceLimit bounds the lower half of the Sv39 address space.
	userSpaceLimit = uint64(1) << (riscv.VAWidth - 1)
)

// Layout is the kernel's link-time symbol table and stack geometry.
//
// The kernel image occupies the start of RAM: text (which contains the
// trampoline page and the trap entry points), read-only data, data, and bss
// including the boot stack. All section boundaries are page aligned. RAM past
// Ekernel up to MemoryEnd is handed to the frame allocator.
type Layout struct {
	Stext       riscv.PhysAddr
	Strampoline riscv.PhysAddr
	TrapHandler riscv.PhysAddr
	TrapReturn  riscv.PhysAddr
	Etext       riscv.PhysAddr
	Srodata     riscv.PhysAddr
	Erodata     riscv.PhysAddr
	Sdata       riscv.PhysAddr
	Edata       riscv.PhysAddr
	Sbss        riscv.PhysAddr
	Ebss        riscv.PhysAddr
	Ekernel     riscv.PhysAddr
	MemoryEnd   riscv.PhysAddr

	UserStackSize   uint64
	KernelStackSize uint64
}

// NewLayout lays out a kernel image of imageSize bytes at the start of the
// memSize bytes of RAM at base.
//
// Text takes half the image, read-only data and data an eighth each, and
// bss the rest.
func NewLayout(base riscv.PhysAddr, memSize, imageSize uint64) (Layout, error) {
	const minImage = 8 * riscv.PageSize
	if !base.Aligned() {
		return Layout{}, fmt.Errorf("RAM base %v is not page aligned", base)
	}
	if imageSize < minImage || imageSize%minImage != 0 {
		return Layout{}, fmt.Errorf("kernel image size %#x must be a positive multiple of %#x", imageSize, minImage)
	}
	if memSize <= imageSize || memSize%riscv.PageSize != 0 {
		return Layout{}, fmt.Errorf("RAM size %#x cannot hold a %#x byte kernel image", memSize, imageSize)
	}
	l := Layout{
		Stext:           base,
		UserStackSize:   DefaultUserStackSize,
		KernelStackSize: DefaultKernelStackSize,
	}
	l.Strampoline = l.Stext + riscv.PageSize
	l.TrapHandler = l.Strampoline + riscv.PageSize
	l.TrapReturn = l.TrapHandler + 0x100
	l.Etext = l.Stext + riscv.PhysAddr(imageSize/2)
	l.Srodata = l.Etext
	l.Erodata = l.Srodata + riscv.PhysAddr(imageSize/8)
	l.Sdata = l.Erodata
	l.Edata = l.Sdata + riscv.PhysAddr(imageSize/8)
	l.Sbss = l.Edata
	l.Ebss = l.Stext + riscv.PhysAddr(imageSize)
	l.Ekernel = l.Ebss
	l.MemoryEnd = base + riscv.PhysAddr(memSize)
	return l, nil
}

// SetStackSizes overrides the user and kernel stack sizes.
func (l *Layout) SetStackSizes(user, kernel uint64) error {
	if user == 0 || user%riscv.PageSize != 0 {
		return fmt.Errorf("user stack size %#x is not a positive page multiple", user)
	}
	if kernel == 0 || kernel%riscv.PageSize != 0 {
		return fmt.Errorf("kernel stack size %#x is not a positive page multiple", kernel)
	}
	l.UserStackSize = user
	l.KernelStackSize = kernel
	return nil
}

// FramePages returns the page range handed to the frame allocator.
func (l *Layout) FramePages() (start, end riscv.PhysPageNum) {
	return l.Ekernel.Ceil(), l.MemoryEnd.Floor()
}

// TrapContextAddr returns the virtual address of thread tid's trap context.
func TrapContextAddr(tid int) uint64 {
	return TrapContextBase - uint64(tid)*riscv.PageSize
}

// UserStackBottom returns the lowest address of thread tid's user stack in an
// address space whose stacks start at base. Each stack is followed by a guard
// page.
func (l *Layout) UserStackBottom(base uint64, tid int) uint64 {
	return base + uint64(tid)*(l.UserStackSize+riscv.PageSize)
}

// UserStackTop returns the initial stack pointer of thread tid.
func (l *Layout) UserStackTop(base uint64, tid int) uint64 {
	return l.UserStackBottom(base, tid) + l.UserStackSize
}

// KernelStackPosition returns the range [bottom, top) of kernel stack id.
// Stacks grow down from the trampoline with a guard page between them.
func (l *Layout) KernelStackPosition(id int) (bottom, top uint64) {
	top = Trampoline - uint64(id)*(l.KernelStackSize+riscv.PageSize)
	return top - l.KernelStackSize, top
}
