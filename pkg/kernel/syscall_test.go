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
	"math"
	"testing"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/rvasm"
)

// waitLoop emits a retry loop around sysno that yields while it returns
// TryAgain. The arguments must already be in callee-saved registers.
func waitLoop(b *rvasm.Builder, label string, sysno abi.Sysno, args ...riscv.Reg) {
	b.Label(label)
	for i, r := range args {
		b.Mv(riscv.A0+riscv.Reg(i), r)
	}
	b.Syscall(int64(sysno))
	b.Li(riscv.T0, abi.TryAgain)
	b.Bne(riscv.A0, riscv.T0, label+"_done")
	b.Syscall(int64(abi.SysYield))
	b.J(label)
	b.Label(label + "_done")
}

func TestThreadsRunInCreationOrder(t *testing.T) {
	tbl := customTable(t, "init", func(b *rvasm.Builder) {
		b.Bss("pos", 8)
		b.Bss("order", 8)
		tids := []riscv.Reg{riscv.S1, riscv.S2, riscv.S3}
		for i, c := range "ABC" {
			b.La(riscv.A0, "worker")
			b.Li(riscv.A1, int64(c))
			b.Syscall(int64(abi.SysThreadCreate))
			b.Mv(tids[i], riscv.A0)
		}
		for i, tid := range tids {
			waitLoop(b, "wait"+string(rune('a'+i)), abi.SysWaittid, tid)
		}
		b.La(riscv.T1, "order")
		for i, c := range "ABC" {
			b.Lbu(riscv.T2, riscv.T1, int64(i))
			b.Li(riscv.T3, int64(c))
			b.Bne(riscv.T2, riscv.T3, "fail")
		}
		b.Li(riscv.A0, 123)
		b.Syscall(int64(abi.SysExit))
		b.Label("fail")
		b.Li(riscv.A0, 1)
		b.Syscall(int64(abi.SysExit))

		// worker appends its argument to order.
		b.Label("worker")
		b.La(riscv.T0, "pos")
		b.Ld(riscv.T1, riscv.T0, 0)
		b.La(riscv.T2, "order")
		b.Add(riscv.T2, riscv.T2, riscv.T1)
		b.Sb(riscv.A0, riscv.T2, 0)
		b.Addi(riscv.T1, riscv.T1, 1)
		b.Sd(riscv.T1, riscv.T0, 0)
		b.Li(riscv.A0, 0)
		b.Syscall(int64(abi.SysExit))
	})
	k, _ := newTestKernel(t, tbl, "init")
	if code := runKernel(t, k); code != 123 {
		t.Errorf("init exited with %d, wanted 123 (threads ran A, B, C)", code)
	}
}

func TestWaitpidBadPointerKeepsZombie(t *testing.T) {
	tbl := customTable(t, "init", func(b *rvasm.Builder) {
		b.Bss("code", 8)
		b.Syscall(int64(abi.SysFork))
		b.Bnez(riscv.A0, "parent")
		b.Li(riscv.A0, 7)
		b.Syscall(int64(abi.SysExit))

		b.Label("parent")
		b.Mv(riscv.S1, riscv.A0)
		// Address 8 is never mapped.
		b.Li(riscv.S2, 8)
		waitLoop(b, "bad", abi.SysWaitpid, riscv.S1, riscv.S2)
		b.Li(riscv.T1, abi.Failure)
		b.Bne(riscv.A0, riscv.T1, "fail")

		b.La(riscv.S2, "code")
		waitLoop(b, "good", abi.SysWaitpid, riscv.S1, riscv.S2)
		b.Bne(riscv.A0, riscv.S1, "fail")
		b.La(riscv.T1, "code")
		b.Lw(riscv.A0, riscv.T1, 0)
		b.Syscall(int64(abi.SysExit))
		b.Label("fail")
		b.Li(riscv.A0, 1)
		b.Syscall(int64(abi.SysExit))
	})
	k, _ := newTestKernel(t, tbl, "init")
	if code := runKernel(t, k); code != 7 {
		t.Errorf("init exited with %d, wanted the child's code 7", code)
	}
}

func TestForkInsideHandler(t *testing.T) {
	tbl := customTable(t, "init", func(b *rvasm.Builder) {
		b.Bss("act", abi.SignalActionSize)
		b.Bss("old_act", abi.SignalActionSize)
		b.Bss("is_child", 8)
		b.Bss("code", 8)

		b.La(riscv.T0, "handler")
		b.La(riscv.A1, "act")
		b.Sd(riscv.T0, riscv.A1, 0)
		b.Sd(riscv.Zero, riscv.A1, 8)
		b.Li(riscv.A0, int64(abi.SIGUSR1))
		b.La(riscv.A2, "old_act")
		b.Syscall(int64(abi.SysSigaction))

		b.Syscall(int64(abi.SysGetpid))
		b.Li(riscv.A1, int64(abi.SIGUSR1))
		b.Syscall(int64(abi.SysKill))

		// Both processes resume here after sigreturn.
		b.La(riscv.T0, "is_child")
		b.Ld(riscv.T1, riscv.T0, 0)
		b.Beqz(riscv.T1, "parent")
		b.Li(riscv.A0, 42)
		b.Syscall(int64(abi.SysExit))
		b.Label("parent")
		b.La(riscv.T0, "code")
		b.Lw(riscv.A0, riscv.T0, 0)
		b.Syscall(int64(abi.SysExit))

		b.Label("handler")
		b.Syscall(int64(abi.SysFork))
		b.Bnez(riscv.A0, "handler_parent")
		b.La(riscv.T0, "is_child")
		b.Li(riscv.T1, 1)
		b.Sd(riscv.T1, riscv.T0, 0)
		b.Syscall(int64(abi.SysSigreturn))
		// sigreturn only returns on failure.
		b.Li(riscv.A0, 1)
		b.Syscall(int64(abi.SysExit))

		b.Label("handler_parent")
		b.Mv(riscv.S1, riscv.A0)
		b.La(riscv.S2, "code")
		waitLoop(b, "wait", abi.SysWaitpid, riscv.S1, riscv.S2)
		b.Syscall(int64(abi.SysSigreturn))
		b.Li(riscv.A0, 2)
		b.Syscall(int64(abi.SysExit))
	})
	k, _ := newTestKernel(t, tbl, "init")
	if code := runKernel(t, k); code != 42 {
		t.Errorf("init exited with %d, wanted 42 from a child that left the inherited handler", code)
	}
}

func TestSignalStateFork(t *testing.T) {
	parent := newSignalState()
	parent.mask = abi.MakeSignalSet(abi.SIGUSR2)
	parent.pending = abi.MakeSignalSet(abi.SIGINT)
	parent.actions[abi.SIGUSR1].Handler = 0x10040
	parent.handling = abi.SIGUSR1
	parent.backup = &ring0.TrapContext{Sepc: 0x10100, KernelSP: 0x1000}
	parent.backup.SetReg(riscv.A0, 3)

	child := parent.fork()
	if child.pending != 0 {
		t.Errorf("child pending = %v, wanted none", child.pending)
	}
	if child.mask != parent.mask || child.actions != parent.actions || child.handling != abi.SIGUSR1 {
		t.Errorf("child disposition = (%v, %v, %v), wanted the parent's", child.mask, child.actions[abi.SIGUSR1], child.handling)
	}
	if child.backup == parent.backup {
		t.Fatalf("child shares the parent's saved context")
	}
	if *child.backup != *parent.backup {
		t.Errorf("child saved context = %+v, wanted %+v", *child.backup, *parent.backup)
	}
	child.backup.KernelSP = 0x2000
	child.actions[abi.SIGUSR1].Handler = 0
	if parent.backup.KernelSP != 0x1000 || parent.actions[abi.SIGUSR1].Handler != 0x10040 {
		t.Errorf("changing the child changed the parent")
	}

	idle := newSignalState()
	if c := idle.fork(); c.backup != nil || c.handling != noSignal {
		t.Errorf("fork outside a handler = (%v, %v), wanted (nil, %v)", c.backup, c.handling, noSignal)
	}
}

func TestHugeSleepNeverFires(t *testing.T) {
	tbl := customTable(t, "init", func(b *rvasm.Builder) {
		b.Bss("woke", 8)
		b.La(riscv.A0, "sleeper")
		b.Li(riscv.A1, 0)
		b.Syscall(int64(abi.SysThreadCreate))
		for i := 0; i < 3; i++ {
			b.Li(riscv.A0, 20)
			b.Syscall(int64(abi.SysSleep))
		}
		b.La(riscv.T0, "woke")
		b.Ld(riscv.A0, riscv.T0, 0)
		b.Syscall(int64(abi.SysExit))

		b.Label("sleeper")
		b.Li(riscv.A0, -1)
		b.Syscall(int64(abi.SysSleep))
		b.La(riscv.T0, "woke")
		b.Li(riscv.T1, 1)
		b.Sd(riscv.T1, riscv.T0, 0)
		b.Li(riscv.A0, 0)
		b.Syscall(int64(abi.SysExit))
	})
	k, _ := newTestKernel(t, tbl, "init")
	if code := runKernel(t, k); code != 0 {
		t.Errorf("a sleep of 2^64-1 ms ended early")
	}
}

func TestSleepDeadline(t *testing.T) {
	for _, tc := range []struct {
		now, ms, want uint64
	}{
		{now: 0, ms: 10, want: 10},
		{now: 500, ms: 0, want: 500},
		{now: 500, ms: math.MaxUint64, want: math.MaxUint64},
		{now: math.MaxUint64 - 1, ms: 1, want: math.MaxUint64},
		{now: math.MaxUint64 - 1, ms: 2, want: math.MaxUint64},
	} {
		if got := sleepDeadline(tc.now, tc.ms); got != tc.want {
			t.Errorf("sleepDeadline(%d, %d) = %d, wanted %d", tc.now, tc.ms, got, tc.want)
		}
	}
}
