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

package ring0

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
)

// Trampoline is the code in the trampoline page. It is the only code that
// runs with a user satp in supervisor mode, which is why it is mapped at the
// same address in every address space.
type Trampoline struct {
	cpu   *hart.CPU
	mem   *hart.PhysMem
	frame riscv.PhysPageNum
}

// NewTrampoline returns the trampoline of machine m, backed by the frame at
// layout.Strampoline.
func NewTrampoline(m *hart.Machine, layout *mm.Layout) *Trampoline {
	return &Trampoline{
		cpu:   m.CPU,
		mem:   m.Mem,
		frame: layout.Strampoline.Floor(),
	}
}

// Entry is the address the hart jumps to on a trap from user mode.
func (*Trampoline) Entry() uint64 {
	return mm.Trampoline
}

// check verifies that the trampoline page is mapped, executable, at the
// expected frame in the current address space.
func (t *Trampoline) check(where string) {
	pa, err := t.cpu.Translate(mm.Trampoline, riscv.AccessExecute)
	if err != nil {
		panic(fmt.Sprintf("%s: trampoline not executable under satp %#x: %v", where, t.cpu.CSR.Satp, err))
	}
	if pa.Floor() != t.frame {
		panic(fmt.Sprintf("%s: trampoline maps %v, wanted %v", where, pa.Floor(), t.frame))
	}
}

// trapContext returns the trap context page at va in the current address
// space.
func (t *Trampoline) trapContext(va uint64, access riscv.AccessType) TrapFrame {
	pa, err := t.cpu.Translate(va, access)
	if err != nil {
		panic(fmt.Sprintf("trap context %#x inaccessible: %v", va, err))
	}
	b, err := t.mem.Slice(pa, TrapContextSize)
	if err != nil {
		panic(fmt.Sprintf("trap context %#x: %v", va, err))
	}
	return TrapFrame(b)
}

// Restore returns to user mode: it switches to the user address space
// userSatp, reloads every register from the trap context at trapCxVA, and
// executes sret. sscratch keeps trapCxVA for the next trap.
func (t *Trampoline) Restore(trapCxVA, userSatp uint64) {
	if t.cpu.Priv != riscv.Supervisor {
		panic("trampoline restore outside supervisor mode")
	}
	t.cpu.WriteSatp(userSatp)
	t.cpu.SfenceVMA()
	t.check("restore")
	t.cpu.CSR.Sscratch = trapCxVA

	tc := t.trapContext(trapCxVA, riscv.AccessRead).Load()
	t.cpu.CSR.Sstatus = tc.Sstatus
	t.cpu.CSR.Sepc = tc.Sepc
	t.cpu.SetRegs(tc.X)
	t.cpu.Sret()
}

// AllTraps is entered at stvec after a trap from user mode. It saves the
// user registers, sstatus and sepc into the trap context named by sscratch,
// switches to the kernel address space recorded there, and returns the
// kernel stack pointer and trap handler to continue at.
func (t *Trampoline) AllTraps() (kernelSP, handler uint64) {
	if t.cpu.Priv != riscv.Supervisor || t.cpu.PC != mm.Trampoline {
		panic(fmt.Sprintf("trap entry in %v mode at %#x, wanted trampoline", t.cpu.Priv, t.cpu.PC))
	}
	t.check("alltraps")
	if t.cpu.CSR.Sstatus&riscv.SstatusSPP != 0 {
		panic(fmt.Sprintf("trap from supervisor mode: scause %v sepc %#x", riscv.Cause(t.cpu.CSR.Scause), t.cpu.CSR.Sepc))
	}

	f := t.trapContext(t.cpu.CSR.Sscratch, riscv.AccessWrite)
	tc := f.Load()
	tc.X = t.cpu.Regs()
	tc.Sstatus = t.cpu.CSR.Sstatus
	tc.Sepc = t.cpu.CSR.Sepc
	f.Store(&tc)

	t.cpu.WriteSatp(tc.KernelSatp)
	t.cpu.SfenceVMA()
	t.cpu.SetReg(riscv.SP, tc.KernelSP)
	t.cpu.PC = tc.TrapHandler
	return tc.KernelSP, tc.TrapHandler
}
