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

// Package ring0 is the boundary between the kernel and the hart: the trap
// context saved on every user trap, the task context of a suspended kernel
// execution point, the context switch, and the trampoline that moves the
// hart between user and supervisor mode.
package ring0

import (
	"encoding/binary"
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// TrapContextSize is the size of a marshalled TrapContext.
const TrapContextSize = 37 * 8

// TrapContext is the user state saved by the trampoline on a trap, followed
// by what the trampoline needs to enter the kernel. It lives in a page that
// is mapped (without the user bit) in the thread's address space at a fixed
// address, and is accessed by the kernel through its physical frame.
//
// The layout is fixed: x0 through x31, sstatus, sepc, kernel satp, kernel sp
// and the trap handler address, each a little-endian doubleword.
type TrapContext struct {
	// X is the general purpose register file.
	X [riscv.NumRegs]uint64

	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// NewAppContext returns the trap context of a thread about to enter user mode
// for the first time at entry with stack pointer sp.
func NewAppContext(entry, sp, kernelSatp, kernelSP, trapHandler uint64) TrapContext {
	tc := TrapContext{
		// sret drops to user mode: SPP is clear. SPIE is set so that
		// interrupts are enabled once back in the kernel.
		Sstatus:     riscv.SstatusSPIE,
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	tc.SetSP(sp)
	return tc
}

// SetSP sets the user stack pointer.
func (tc *TrapContext) SetSP(sp uint64) {
	tc.X[riscv.SP] = sp
}

// Reg returns register r.
func (tc *TrapContext) Reg(r riscv.Reg) uint64 {
	return tc.X[r]
}

// SetReg sets register r. x0 is hardwired to zero.
func (tc *TrapContext) SetReg(r riscv.Reg, v uint64) {
	if r != riscv.Zero {
		tc.X[r] = v
	}
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*TrapContext) SizeBytes() int {
	return TrapContextSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (tc *TrapContext) MarshalBytes(dst []byte) []byte {
	for _, x := range tc.X {
		binary.LittleEndian.PutUint64(dst, x)
		dst = dst[8:]
	}
	for _, v := range [...]uint64{tc.Sstatus, tc.Sepc, tc.KernelSatp, tc.KernelSP, tc.TrapHandler} {
		binary.LittleEndian.PutUint64(dst, v)
		dst = dst[8:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (tc *TrapContext) UnmarshalBytes(src []byte) []byte {
	for i := range tc.X {
		tc.X[i] = binary.LittleEndian.Uint64(src)
		src = src[8:]
	}
	for _, p := range [...]*uint64{&tc.Sstatus, &tc.Sepc, &tc.KernelSatp, &tc.KernelSP, &tc.TrapHandler} {
		*p = binary.LittleEndian.Uint64(src)
		src = src[8:]
	}
	return src
}

// TrapFrame is the trap context page of one thread, viewed through its
// physical frame.
type TrapFrame []byte

// Load returns the trap context stored in the frame.
func (f TrapFrame) Load() TrapContext {
	if len(f) < TrapContextSize {
		panic(fmt.Sprintf("trap frame of %d bytes", len(f)))
	}
	var tc TrapContext
	tc.UnmarshalBytes(f)
	return tc
}

// Store writes tc into the frame.
func (f TrapFrame) Store(tc *TrapContext) {
	if len(f) < TrapContextSize {
		panic(fmt.Sprintf("trap frame of %d bytes", len(f)))
	}
	tc.MarshalBytes(f)
}

// Update loads the context, applies fn, and stores the result.
func (f TrapFrame) Update(fn func(tc *TrapContext)) {
	tc := f.Load()
	fn(&tc)
	f.Store(&tc)
}
