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
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// CSRs holds the supervisor control and status registers the kernel uses.
type CSRs struct {
	Satp     uint64
	Stvec    uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Sstatus  uint64
	Sscratch uint64
	Sie      uint64
}

// Stats are hart event counters.
type Stats struct {
	// Instret is the number of retired user instructions.
	Instret uint64

	// Traps is the number of traps taken from user mode.
	Traps uint64

	// Sfences is the number of sfence.vma operations.
	Sfences uint64
}

// CPU is the single hart.
//
// The hart only ever executes instructions in user mode. Supervisor software
// is the Go kernel, which manipulates the CSRs and register file directly.
type CPU struct {
	regs [riscv.NumRegs]uint64

	// PC is the program counter.
	PC uint64

	// Priv is the current privilege level.
	Priv riscv.Privilege

	// CSR holds the supervisor CSRs.
	CSR CSRs

	Stats Stats

	mem   *PhysMem
	timer *Timer
}

func newCPU(mem *PhysMem, timer *Timer) *CPU {
	return &CPU{
		Priv:  riscv.Supervisor,
		mem:   mem,
		timer: timer,
	}
}

// Reg returns register r.
func (c *CPU) Reg(r riscv.Reg) uint64 {
	return c.regs[r]
}

// SetReg sets register r. Writes to x0 are discarded.
func (c *CPU) SetReg(r riscv.Reg, v uint64) {
	if r != riscv.Zero {
		c.regs[r] = v
	}
}

// Regs returns a copy of the register file.
func (c *CPU) Regs() [riscv.NumRegs]uint64 {
	return c.regs
}

// SetRegs replaces the register file. x0 stays zero.
func (c *CPU) SetRegs(r [riscv.NumRegs]uint64) {
	c.regs = r
	c.regs[riscv.Zero] = 0
}

// WriteSatp sets satp. Translation changes take effect after SfenceVMA.
func (c *CPU) WriteSatp(satp uint64) {
	c.CSR.Satp = satp
}

// SfenceVMA orders page table updates before subsequent translations. The
// hart keeps no TLB, so this only counts.
func (c *CPU) SfenceVMA() {
	c.Stats.Sfences++
}

// EnableTimerInterrupt sets sie.STIE.
func (c *CPU) EnableTimerInterrupt() {
	c.CSR.Sie |= riscv.SieSTIE
}

// Translate translates va through the current satp at the current privilege.
func (c *CPU) Translate(va uint64, access riscv.AccessType) (riscv.PhysAddr, error) {
	return Translate(c.mem, c.CSR.Satp, va, access, c.Priv)
}

// Sret returns from a supervisor trap: the privilege becomes sstatus.SPP, SIE
// is restored from SPIE, and execution resumes at sepc.
func (c *CPU) Sret() {
	if c.Priv != riscv.Supervisor {
		panic("sret outside supervisor mode")
	}
	s := c.CSR.Sstatus
	if s&riscv.SstatusSPP != 0 {
		c.Priv = riscv.Supervisor
	} else {
		c.Priv = riscv.User
	}
	if s&riscv.SstatusSPIE != 0 {
		s |= riscv.SstatusSIE
	} else {
		s &^= riscv.SstatusSIE
	}
	s |= riscv.SstatusSPIE
	s &^= riscv.SstatusSPP
	c.CSR.Sstatus = s
	c.PC = c.CSR.Sepc
}

// trap takes a trap into supervisor mode and jumps to stvec.
func (c *CPU) trap(cause riscv.Cause, tval uint64) {
	c.CSR.Sepc = c.PC
	c.CSR.Scause = uint64(cause)
	c.CSR.Stval = tval
	s := c.CSR.Sstatus
	if c.Priv == riscv.Supervisor {
		s |= riscv.SstatusSPP
	} else {
		s &^= riscv.SstatusSPP
	}
	if s&riscv.SstatusSIE != 0 {
		s |= riscv.SstatusSPIE
	} else {
		s &^= riscv.SstatusSPIE
	}
	s &^= riscv.SstatusSIE
	c.CSR.Sstatus = s
	c.Priv = riscv.Supervisor
	c.PC = c.CSR.Stvec
	c.Stats.Traps++
}

// timerInterruptPending returns true if a supervisor timer interrupt should
// be taken now. In user mode supervisor interrupts are always globally
// enabled.
func (c *CPU) timerInterruptPending() bool {
	if c.CSR.Sie&riscv.SieSTIE == 0 || !c.timer.Pending() {
		return false
	}
	return c.Priv == riscv.User || c.CSR.Sstatus&riscv.SstatusSIE != 0
}

// RunUser executes user instructions until a trap is taken, and returns its
// cause. On return the hart is in supervisor mode at stvec with sepc, scause
// and stval describing the trap.
//
// If limit is non-zero and that many instructions retire without a trap,
// RunUser returns with ok false and the hart still in user mode.
func (c *CPU) RunUser(limit uint64) (cause riscv.Cause, ok bool) {
	if c.Priv != riscv.User {
		panic(fmt.Sprintf("RunUser in %v mode at pc %#x", c.Priv, c.PC))
	}
	for n := uint64(0); limit == 0 || n < limit; n++ {
		if c.timerInterruptPending() {
			c.trap(riscv.SupervisorTimer, 0)
			return riscv.SupervisorTimer, true
		}
		if f := c.step(); f != nil {
			c.trap(f.Cause, f.Addr)
			return f.Cause, true
		}
	}
	return 0, false
}
