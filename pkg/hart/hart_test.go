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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"rvcore.dev/rvcore/pkg/riscv"
)

const testMemSize = 1 << 20

func newTestMachine() *Machine {
	return New(Config{MemSize: testMemSize, ClockFreq: 1000})
}

// load writes insns at pa and points a user-mode hart at them with
// translation off.
func load(m *Machine, pa riscv.PhysAddr, insns ...uint32) {
	b, err := m.Mem.Slice(pa, uint64(4*len(insns)))
	if err != nil {
		panic(err)
	}
	for i, insn := range insns {
		binary.LittleEndian.PutUint32(b[4*i:], insn)
	}
	m.CPU.PC = uint64(pa)
	m.CPU.Priv = riscv.User
	m.CPU.CSR.Stvec = 0xdead000
}

func li12(rd riscv.Reg, v int64) uint32 {
	return riscv.EncodeI(riscv.OpImm, riscv.F3Add, rd, riscv.Zero, v)
}

func TestPhysMemBounds(t *testing.T) {
	m := newTestMachine()
	if _, err := m.Mem.Slice(DefaultMemBase-1, 2); err == nil {
		t.Errorf("Slice below RAM succeeded")
	}
	if _, err := m.Mem.Slice(m.Mem.End()-4, 8); err == nil {
		t.Errorf("Slice past end of RAM succeeded")
	}
	if err := m.Mem.Write64(m.Mem.End()-8, 42); err != nil {
		t.Fatalf("Write64 at last doubleword: %v", err)
	}
	if v, err := m.Mem.Read64(m.Mem.End() - 8); err != nil || v != 42 {
		t.Errorf("Read64: got (%d, %v), wanted (42, nil)", v, err)
	}
}

// buildTable maps va to leaf with the given flags using freshly carved
// directory pages starting at next.
func buildTable(m *Machine, root riscv.PhysPageNum, next *riscv.PhysPageNum, va uint64, leaf riscv.PhysPageNum, flags riscv.PTEFlags) {
	idx := riscv.VA(va).Floor().Indexes()
	table := root
	for level := 0; level < riscv.Levels-1; level++ {
		pte := m.Mem.PTEs(table).Get(idx[level])
		if !pte.Valid() {
			pte = riscv.NewPTE(*next, riscv.PTEValid)
			*next++
			m.Mem.PTEs(table).Set(idx[level], pte)
		}
		table = pte.PPN()
	}
	m.Mem.PTEs(table).Set(idx[riscv.Levels-1], riscv.NewPTE(leaf, flags|riscv.PTEValid))
}

func TestTranslate(t *testing.T) {
	m := newTestMachine()
	root := DefaultMemBase.Floor() + 1
	next := root + 1
	userPage := DefaultMemBase.Floor() + 100
	kernPage := DefaultMemBase.Floor() + 101
	buildTable(m, root, &next, 0x10000, userPage, riscv.PTERead|riscv.PTEUser)
	buildTable(m, root, &next, 0xffff_ffff_ffff_f000, kernPage, riscv.PTERead|riscv.PTEExecute)
	satp := riscv.MakeSatp(root)

	for _, tc := range []struct {
		name   string
		va     uint64
		access riscv.AccessType
		priv   riscv.Privilege
		want   riscv.PhysAddr
		fault  riscv.Cause
	}{
		{"user read", 0x10123, riscv.AccessRead, riscv.User, userPage.Addr() + 0x123, 0},
		{"user write to read-only", 0x10000, riscv.AccessWrite, riscv.User, 0, riscv.StorePageFault},
		{"user execute without X", 0x10000, riscv.AccessExecute, riscv.User, 0, riscv.InstructionPageFault},
		{"supervisor read of user page", 0x10000, riscv.AccessRead, riscv.Supervisor, 0, riscv.LoadPageFault},
		{"unmapped", 0x20000, riscv.AccessRead, riscv.User, 0, riscv.LoadPageFault},
		{"non-canonical", 0x40_0000_0000, riscv.AccessRead, riscv.User, 0, riscv.LoadPageFault},
		{"trampoline fetch", 0xffff_ffff_ffff_f004, riscv.AccessExecute, riscv.Supervisor, kernPage.Addr() + 4, 0},
		{"trampoline from user", 0xffff_ffff_ffff_f000, riscv.AccessExecute, riscv.User, 0, riscv.InstructionPageFault},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pa, err := Translate(m.Mem, satp, tc.va, tc.access, tc.priv)
			if tc.fault != 0 {
				var f *Fault
				if !errors.As(err, &f) || f.Cause != tc.fault || f.Addr != tc.va {
					t.Fatalf("Translate(%#x): got (%v, %v), wanted fault %v", tc.va, pa, err, tc.fault)
				}
				return
			}
			if err != nil || pa != tc.want {
				t.Fatalf("Translate(%#x): got (%v, %v), wanted %v", tc.va, pa, err, tc.want)
			}
		})
	}
}

func TestTranslateSuperpage(t *testing.T) {
	m := newTestMachine()
	root := DefaultMemBase.Floor() + 1
	// A 1 GiB identity leaf at the root level covering RAM.
	idx := riscv.VA(uint64(DefaultMemBase)).Floor().Indexes()
	m.Mem.PTEs(root).Set(idx[0], riscv.NewPTE(DefaultMemBase.Floor(), riscv.PTEValid|riscv.PTERead|riscv.PTEWrite))
	pa, err := Translate(m.Mem, riscv.MakeSatp(root), uint64(DefaultMemBase)+0x12345, riscv.AccessWrite, riscv.Supervisor)
	if err != nil || pa != DefaultMemBase+0x12345 {
		t.Fatalf("superpage translate: got (%v, %v), wanted %v", pa, err, DefaultMemBase+0x12345)
	}
}

func TestRunArithmetic(t *testing.T) {
	m := newTestMachine()
	load(m, DefaultMemBase+0x1000,
		li12(riscv.A0, 7),
		li12(riscv.A1, -3),
		riscv.EncodeR(riscv.OpReg, riscv.F3Mul, riscv.F7MulDiv, riscv.A2, riscv.A0, riscv.A1),  // a2 = -21
		riscv.EncodeR(riscv.OpReg, riscv.F3Div, riscv.F7MulDiv, riscv.A3, riscv.A0, riscv.A1),  // a3 = -2
		riscv.EncodeR(riscv.OpReg, riscv.F3Rem, riscv.F7MulDiv, riscv.A4, riscv.A0, riscv.A1),  // a4 = 1
		riscv.EncodeR(riscv.OpReg, riscv.F3Divu, riscv.F7MulDiv, riscv.A5, riscv.A0, riscv.Zero), // a5 = max
		riscv.EncodeR(riscv.OpReg, riscv.F3Add, riscv.F7Alt, riscv.A6, riscv.A0, riscv.A1),     // a6 = 10
		riscv.EncodeShift(riscv.OpImm, riscv.F3Srl, 0x10, riscv.A7, riscv.A1, 1),               // a7 = -2
		riscv.EncodeU(riscv.OpLui, riscv.T0, 0x12345),
		riscv.EncodeI(riscv.OpImm32, riscv.F3Add, riscv.T1, riscv.T0, 0x678),
		riscv.InsnEcall,
	)
	cause, ok := m.CPU.RunUser(100)
	if !ok || cause != riscv.UserEnvCall {
		t.Fatalf("RunUser: got (%v, %t), wanted UserEnvCall", cause, ok)
	}
	for _, want := range []struct {
		r riscv.Reg
		v uint64
	}{
		{riscv.A2, uint64(^uint64(20))},
		{riscv.A3, uint64(^uint64(1))},
		{riscv.A4, 1},
		{riscv.A5, math.MaxUint64},
		{riscv.A6, 10},
		{riscv.A7, uint64(^uint64(1))},
		{riscv.T0, 0x12345000},
		{riscv.T1, 0x12345678},
	} {
		if got := m.CPU.Reg(want.r); got != want.v {
			t.Errorf("%v: got %#x, wanted %#x", want.r, got, want.v)
		}
	}
	if got, want := m.CPU.CSR.Sepc, uint64(DefaultMemBase+0x1000+10*4); got != want {
		t.Errorf("sepc: got %#x, wanted %#x", got, want)
	}
	if m.CPU.Priv != riscv.Supervisor || m.CPU.PC != m.CPU.CSR.Stvec {
		t.Errorf("after trap: priv %v pc %#x, wanted S at stvec %#x", m.CPU.Priv, m.CPU.PC, m.CPU.CSR.Stvec)
	}
	if m.CPU.CSR.Sstatus&riscv.SstatusSPP != 0 {
		t.Errorf("sstatus.SPP set after a user trap")
	}
}

func TestRunLoadStoreAndBranches(t *testing.T) {
	m := newTestMachine()
	data := uint64(DefaultMemBase + 0x8000)
	m.CPU.SetReg(riscv.S0, data)
	load(m, DefaultMemBase+0x1000,
		li12(riscv.A0, 5),   // counter
		li12(riscv.A1, 0),   // sum
		riscv.EncodeR(riscv.OpReg, riscv.F3Add, riscv.F7Base, riscv.A1, riscv.A1, riscv.A0), // loop: sum += counter
		riscv.EncodeI(riscv.OpImm, riscv.F3Add, riscv.A0, riscv.A0, -1),
		riscv.EncodeB(riscv.OpBranch, riscv.F3Bne, riscv.A0, riscv.Zero, -8),
		riscv.EncodeS(riscv.OpStore, riscv.F3Sd, riscv.S0, riscv.A1, 8),
		li12(riscv.T0, -1),
		riscv.EncodeS(riscv.OpStore, riscv.F3Sb, riscv.S0, riscv.T0, 0),
		riscv.EncodeI(riscv.OpLoad, riscv.F3Lb, riscv.A2, riscv.S0, 0),
		riscv.EncodeI(riscv.OpLoad, riscv.F3Lbu, riscv.A3, riscv.S0, 0),
		riscv.EncodeI(riscv.OpLoad, riscv.F3Ld, riscv.A4, riscv.S0, 8),
		riscv.InsnEcall,
	)
	if cause, ok := m.CPU.RunUser(1000); !ok || cause != riscv.UserEnvCall {
		t.Fatalf("RunUser: got (%v, %t), wanted UserEnvCall", cause, ok)
	}
	if got := m.CPU.Reg(riscv.A4); got != 15 {
		t.Errorf("sum: got %d, wanted 15", got)
	}
	if got := m.CPU.Reg(riscv.A2); got != math.MaxUint64 {
		t.Errorf("lb: got %#x, wanted sign extended -1", got)
	}
	if got := m.CPU.Reg(riscv.A3); got != 0xff {
		t.Errorf("lbu: got %#x, wanted 0xff", got)
	}
}

func TestRunFaults(t *testing.T) {
	for _, tc := range []struct {
		name  string
		insns []uint32
		cause riscv.Cause
		tval  uint64
	}{
		{
			name:  "illegal",
			insns: []uint32{0xffffffff},
			cause: riscv.IllegalInstruction,
			tval:  0xffffffff,
		},
		{
			name:  "sret from user",
			insns: []uint32{riscv.InsnSret},
			cause: riscv.IllegalInstruction,
			tval:  uint64(riscv.InsnSret),
		},
		{
			name:  "store outside RAM",
			insns: []uint32{riscv.EncodeS(riscv.OpStore, riscv.F3Sd, riscv.Zero, riscv.Zero, 16)},
			cause: riscv.StoreFault,
			tval:  16,
		},
		{
			name:  "breakpoint",
			insns: []uint32{riscv.InsnEbreak},
			cause: riscv.Breakpoint,
			tval:  uint64(DefaultMemBase + 0x1000),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine()
			load(m, DefaultMemBase+0x1000, tc.insns...)
			cause, ok := m.CPU.RunUser(10)
			if !ok || cause != tc.cause {
				t.Fatalf("RunUser: got (%v, %t), wanted %v", cause, ok, tc.cause)
			}
			if got := m.CPU.CSR.Stval; got != tc.tval {
				t.Errorf("stval: got %#x, wanted %#x", got, tc.tval)
			}
			if got := m.CPU.CSR.Scause; got != uint64(tc.cause) {
				t.Errorf("scause: got %#x, wanted %#x", got, uint64(tc.cause))
			}
		})
	}
}

func TestTimerInterrupt(t *testing.T) {
	m := newTestMachine()
	// An infinite loop: j .
	load(m, DefaultMemBase+0x1000, riscv.EncodeJ(riscv.OpJal, riscv.Zero, 0))
	m.CPU.EnableTimerInterrupt()
	m.SetTimer(50)
	cause, ok := m.CPU.RunUser(0)
	if !ok || cause != riscv.SupervisorTimer {
		t.Fatalf("RunUser: got (%v, %t), wanted SupervisorTimer", cause, ok)
	}
	if got := m.Timer.Now(); got != 50 {
		t.Errorf("mtime at interrupt: got %d, wanted 50", got)
	}
	if got, want := m.CPU.CSR.Sepc, uint64(DefaultMemBase+0x1000); got != want {
		t.Errorf("sepc: got %#x, wanted %#x", got, want)
	}

	// Without an interrupt programmed the hart would never wake.
	m.SetTimer(math.MaxUint64)
	if m.WaitForInterrupt() {
		t.Errorf("WaitForInterrupt with no timer programmed returned true")
	}
	m.SetTimer(2000)
	if !m.WaitForInterrupt() || m.Timer.Milliseconds() != 2000 {
		t.Errorf("WaitForInterrupt: mtime %d, wanted 2000 ticks (2000ms at 1kHz)", m.Timer.Now())
	}
}

func TestSret(t *testing.T) {
	m := newTestMachine()
	m.CPU.CSR.Sepc = 0x1234
	m.CPU.CSR.Sstatus = riscv.SstatusSPIE
	m.CPU.Sret()
	if m.CPU.Priv != riscv.User || m.CPU.PC != 0x1234 {
		t.Errorf("after sret: priv %v pc %#x", m.CPU.Priv, m.CPU.PC)
	}
	if m.CPU.CSR.Sstatus&riscv.SstatusSIE == 0 {
		t.Errorf("sret did not restore SIE from SPIE")
	}
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{MemSize: testMemSize, Console: &out})
	m.ConsolePutchar('o')
	m.ConsolePutchar('k')
	if got := out.String(); got != "ok" {
		t.Errorf("console output: got %q, wanted %q", got, "ok")
	}

	if c, eof := m.ConsoleGetchar(); c != -1 || eof {
		t.Errorf("empty console: got (%d, %t), wanted (-1, false)", c, eof)
	}
	if err := m.Console.Pump(bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if c, _ := m.ConsoleGetchar(); c != 'x' {
		t.Errorf("Getchar: got %d, wanted %d", c, 'x')
	}
	if c, eof := m.ConsoleGetchar(); c != -1 || !eof {
		t.Errorf("drained console: got (%d, %t), wanted (-1, true)", c, eof)
	}
}
