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


package kernel

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
)

// Trap kinds, as counted by the /kernel/traps metric.
const (
	trapSyscall = "syscall"
	trapTimer   = "timer"
	trapFault   = "fault"
	trapIllegal = "illegal"
)

var trapKinds = []string{trapSyscall, trapTimer, trapFault, trapIllegal}

// run is the body of every thread's kernel execution point. A thread enters
// user mode through the trampoline, runs until it traps, and handles the trap
// on its own kernel stack, forever. It leaves only through exitCurrent.
func (t *Thread) run() {
	cpu := t.k.machine.CPU
	for {
		t.trapReturn()
		cause, _ := cpu.RunUser(0)
		t.k.tramp.AllTraps()
		t.handleTrap(cause, cpu.CSR.Stval)
	}
}

// trapReturn points stvec back at the trampoline and restores the user
// context of t from its trap context page.
func (t *Thread) trapReturn() {
	p := t.process()
	t.k.machine.CPU.CSR.Stvec = t.k.tramp.Entry()
	t.k.tramp.Restore(mm.TrapContextAddr(t.tid), p.token())
}

// handleTrap handles a trap from user mode, then delivers pending signals.
// If they are fatal the process exits here and handleTrap does not return.
func (t *Thread) handleTrap(cause riscv.Cause, stval uint64) {
	k := t.k
	switch cause {
	case riscv.UserEnvCall:
		k.metrics.traps.Increment(trapSyscall)
		f := t.trapFrame()
		tc := f.Load()
		tc.Sepc += 4
		f.Store(&tc)
		var args [6]uint64
		for i := range args {
			args[i] = tc.Reg(riscv.A0 + riscv.Reg(i))
		}
		ret := t.syscall(abi.Sysno(tc.Reg(riscv.A7)), args)
		// exec and sigreturn replace the trap context; write into whatever
		// is current now.
		t.trapFrame().Update(func(tc *ring0.TrapContext) {
			tc.SetReg(riscv.A0, uint64(ret))
		})

	case riscv.SupervisorTimer:
		k.metrics.traps.Increment(trapTimer)
		k.tick()
		k.sched.Yield()

	case riscv.InstructionMisaligned, riscv.InstructionFault, riscv.InstructionPageFault,
		riscv.LoadMisaligned, riscv.LoadFault, riscv.LoadPageFault,
		riscv.StoreMisaligned, riscv.StoreFault, riscv.StorePageFault:
		k.metrics.traps.Increment(trapFault)
		p := t.process()
		if log.IsLogging(log.Debug) {
			log.Debugf("[kernel] pid %d tid %d: %v at %#x, bad addr = %#x", p.pid, t.tid, cause, k.machine.CPU.CSR.Sepc, stval)
		}
		p.sendSignal(abi.SIGSEGV)

	case riscv.IllegalInstruction:
		k.metrics.traps.Increment(trapIllegal)
		p := t.process()
		log.Debugf("[kernel] pid %d tid %d: illegal instruction at %#x", p.pid, t.tid, k.machine.CPU.CSR.Sepc)
		p.sendSignal(abi.SIGILL)

	default:
		panic(fmt.Sprintf("unsupported trap %v, stval = %#x", cause, stval))
	}

	t.handleSignals()
	p := t.process()
	if code, msg, ok := p.fatalSignal(); ok {
		log.Infof("[kernel] %s", msg)
		t.exitProcess(code)
	}
}
