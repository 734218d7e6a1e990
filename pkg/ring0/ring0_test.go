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
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/rvasm"
)

func TestTrapContextLayout(t *testing.T) {
	tc := NewAppContext(0x10000, 0x7000, 0x8000_0000_0008_0123, 0xffff_ffff_ffff_d000, 0x8000_2000)
	tc.SetReg(riscv.A0, 42)
	tc.SetReg(riscv.Zero, 99)
	b := make([]byte, TrapContextSize)
	if rest := tc.MarshalBytes(b); len(rest) != 0 {
		t.Fatalf("MarshalBytes left %d bytes", len(rest))
	}
	for _, f := range []struct {
		name string
		off  int
		want uint64
	}{
		{"x0", 0, 0},
		{"sp", 8 * int(riscv.SP), 0x7000},
		{"a0", 8 * int(riscv.A0), 42},
		{"sstatus", 32 * 8, riscv.SstatusSPIE},
		{"sepc", 33 * 8, 0x10000},
		{"kernel satp", 34 * 8, 0x8000_0000_0008_0123},
		{"kernel sp", 35 * 8, 0xffff_ffff_ffff_d000},
		{"trap handler", 36 * 8, 0x8000_2000},
	} {
		if got := binary.LittleEndian.Uint64(b[f.off:]); got != f.want {
			t.Errorf("%s at offset %d = %#x, wanted %#x", f.name, f.off, got, f.want)
		}
	}
	got := TrapFrame(b).Load()
	if diff := cmp.Diff(tc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	TrapFrame(b).Update(func(tc *TrapContext) { tc.Sepc += 4 })
	if got := TrapFrame(b).Load().Sepc; got != 0x10004 {
		t.Errorf("Sepc after Update = %#x, wanted 0x10004", got)
	}
}

func TestSwitchOrder(t *testing.T) {
	idle := CurrentContext()
	var trace []string
	var a, b *TaskContext
	a = NewTaskContext(0, 0, func() {
		for i := 0; ; i++ {
			trace = append(trace, "a")
			if i == 1 {
				SwitchAndExit(a, idle)
			}
			Switch(a, b)
		}
	})
	b = NewTaskContext(0, 0, func() {
		for {
			trace = append(trace, "b")
			Switch(b, idle)
		}
	})

	Switch(idle, a) // a, b
	trace = append(trace, "idle")
	Switch(idle, a) // a exits
	trace = append(trace, "idle")
	b.Release()

	want := []string{"a", "b", "idle", "a", "idle"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestReleaseUnstarted(t *testing.T) {
	ran := false
	c := NewTaskContext(0, 0, func() { ran = true })
	c.Release()
	c.Release()
	if c.Started() || ran {
		t.Errorf("released context ran")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("switch to released context did not panic")
		}
	}()
	Switch(CurrentContext(), c)
}

// userEnv is a machine with a kernel space and one user space running a
// small program.
type userEnv struct {
	m      *hart.Machine
	layout mm.Layout
	ks     *mm.AddressSpace
	us     *mm.AddressSpace
	frame  TrapFrame
	entry  uint64
	stack  uint64
}

func newUserEnv(t *testing.T, b *rvasm.Builder) *userEnv {
	t.Helper()
	image, err := rvasm.Assemble(b)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	m := hart.New(hart.Config{MemSize: 4 << 20})
	layout, err := mm.NewLayout(m.Mem.Base(), m.Mem.Size(), mm.DefaultImageSize)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	start, end := layout.FramePages()
	alloc := mm.NewFrameAllocator(m.Mem, start, end)
	ks, err := mm.NewKernelSpace(alloc, &layout)
	if err != nil {
		t.Fatalf("NewKernelSpace: %v", err)
	}
	us, info, err := mm.LoadELF(alloc, &layout, image)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	stack := layout.UserStackTop(info.UserStackBase, 0)
	if err := us.InsertFramedArea(info.UserStackBase, stack, mm.PermR|mm.PermW|mm.PermU); err != nil {
		t.Fatalf("InsertFramedArea(stack): %v", err)
	}
	trapCx := mm.TrapContextAddr(0)
	if err := us.InsertFramedArea(trapCx, trapCx+riscv.PageSize, mm.PermR|mm.PermW); err != nil {
		t.Fatalf("InsertFramedArea(trap context): %v", err)
	}
	e, _ := us.Translate(riscv.VA(trapCx).Floor())
	ks.Activate(m.CPU)
	return &userEnv{
		m:      m,
		layout: layout,
		ks:     ks,
		us:     us,
		frame:  TrapFrame(m.Mem.Page(e.PPN())),
		entry:  info.Entry,
		stack:  stack,
	}
}

func TestTrampolineRoundTrip(t *testing.T) {
	b := rvasm.NewBuilder()
	b.Addi(riscv.A0, riscv.A0, 1)
	b.Li(riscv.S11, 0x1234)
	b.Mv(riscv.A1, riscv.SP)
	b.Syscall(64)
	env := newUserEnv(t, b)

	_, kstack := env.layout.KernelStackPosition(0)
	tc := NewAppContext(env.entry, env.stack, env.ks.Token(), kstack, uint64(env.layout.TrapHandler))
	tc.SetReg(riscv.A0, 41)
	env.frame.Store(&tc)

	tr := NewTrampoline(env.m, &env.layout)
	env.m.CPU.CSR.Stvec = tr.Entry()
	tr.Restore(mm.TrapContextAddr(0), env.us.Token())
	if env.m.CPU.Priv != riscv.User || env.m.CPU.PC != env.entry {
		t.Fatalf("after Restore: %v mode at %#x, wanted user mode at %#x", env.m.CPU.Priv, env.m.CPU.PC, env.entry)
	}
	cause, ok := env.m.CPU.RunUser(1000)
	if !ok || cause != riscv.UserEnvCall {
		t.Fatalf("RunUser = (%v, %t), wanted UserEnvCall", cause, ok)
	}
	sp, handler := tr.AllTraps()
	if sp != kstack || handler != uint64(env.layout.TrapHandler) {
		t.Errorf("AllTraps = (%#x, %#x), wanted (%#x, %#x)", sp, handler, kstack, env.layout.TrapHandler)
	}
	if env.m.CPU.CSR.Satp != env.ks.Token() {
		t.Errorf("satp after AllTraps = %#x, wanted kernel %#x", env.m.CPU.CSR.Satp, env.ks.Token())
	}

	saved := env.frame.Load()
	for _, r := range []struct {
		reg  riscv.Reg
		want uint64
	}{
		{riscv.A0, 42},
		{riscv.A1, env.stack},
		{riscv.S11, 0x1234},
		{riscv.A7, 64},
		{riscv.SP, env.stack},
	} {
		if got := saved.Reg(r.reg); got != r.want {
			t.Errorf("saved %v = %#x, wanted %#x", r.reg, got, r.want)
		}
	}
	// addi, lui+addiw, mv, li a7, ecall
	if want := env.entry + 5*4; saved.Sepc != want {
		t.Errorf("saved sepc = %#x, wanted %#x", saved.Sepc, want)
	}
	if saved.KernelSatp != env.ks.Token() {
		t.Errorf("kernel satp clobbered: %#x", saved.KernelSatp)
	}
}

func TestTrampolineMissingPanics(t *testing.T) {
	b := rvasm.NewBuilder()
	b.Ecall()
	env := newUserEnv(t, b)
	tr := NewTrampoline(env.m, &env.layout)

	// The first page of RAM is never handed out and so holds an empty
	// table that maps nothing, not even the trampoline.
	bare := riscv.MakeSatp(env.m.Mem.Base().Floor())
	defer func() {
		if recover() == nil {
			t.Errorf("Restore through a space without the trampoline did not panic")
		}
	}()
	tr.Restore(mm.TrapContextAddr(0), bare)
}

func TestSwitchHandsOffRunToken(t *testing.T) {
	idle := CurrentContext()
	running := make(chan string, 4)
	var worker *TaskContext
	worker = NewTaskContext(0, 0, func() {
		running <- "worker"
		time.Sleep(10 * time.Millisecond)
		running <- "worker done"
		Switch(worker, idle)
		for {
			Switch(worker, idle)
		}
	})
	Switch(idle, worker)
	running <- "idle"
	close(running)
	var got []string
	for s := range running {
		got = append(got, s)
	}
	if diff := cmp.Diff([]string{"worker", "worker done", "idle"}, got); diff != "" {
		t.Errorf("execution overlapped (-want +got):\n%s", diff)
	}
	worker.Release()
}
