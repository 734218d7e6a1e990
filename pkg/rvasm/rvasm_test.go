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

package rvasm

import (
	"bytes"
	"debug/elf"
	"math"
	"testing"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
)

// run loads the program built by b on a fresh machine and executes it until
// the first trap. It returns the hart.
func run(t *testing.T, b *Builder) *hart.CPU {
	t.Helper()
	image, err := Assemble(b)
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
	as, info, err := mm.LoadELF(alloc, &layout, image)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	stackTop := layout.UserStackTop(info.UserStackBase, 0)
	if err := as.InsertFramedArea(info.UserStackBase, stackTop, mm.PermR|mm.PermW|mm.PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	as.Activate(m.CPU)
	m.CPU.PC = info.Entry
	m.CPU.Priv = riscv.User
	m.CPU.SetReg(riscv.SP, stackTop)
	cause, ok := m.CPU.RunUser(100000)
	if !ok {
		t.Fatalf("program did not trap")
	}
	if cause != riscv.UserEnvCall {
		t.Fatalf("program trapped with %v at %#x, wanted UserEnvCall", cause, m.CPU.CSR.Sepc)
	}
	return m.CPU
}

func TestLi(t *testing.T) {
	for _, v := range []int64{
		0, 1, -1, 2047, -2048, 2048, 0x12345, -0x12345,
		math.MaxInt32, math.MinInt32, 0x7ffff800, 0x7ffff7ff,
		math.MaxInt32 + 1, 0x1_0000_0000, 0x1234_5678_9abc_def0,
		-0x1234_5678_9abc_def0, math.MaxInt64, math.MinInt64,
		0x7fff_ffff_ffff_f800, 0x0000_7fff_ffff_ffff,
	} {
		b := NewBuilder()
		b.Li(riscv.A0, v)
		b.Ecall()
		cpu := run(t, b)
		if got := int64(cpu.Reg(riscv.A0)); got != v {
			t.Errorf("Li(%#x) loaded %#x", v, got)
		}
		if n := len(liSequence(riscv.A0, v)); n > 8 {
			t.Errorf("Li(%#x) takes %d instructions", v, n)
		}
	}
}

func TestLabelsAndData(t *testing.T) {
	b := NewBuilder()
	b.Asciz("greeting", "hi!")
	b.Dwords("table", 10, 20, 30)
	b.Bss("scratch", 64)

	b.Label(EntryLabel)
	// Sum the table with a backward loop.
	b.La(riscv.T0, "table")
	b.Li(riscv.T1, 3)
	b.Li(riscv.A0, 0)
	b.Label("loop")
	b.Ld(riscv.T2, riscv.T0, 0)
	b.Add(riscv.A0, riscv.A0, riscv.T2)
	b.Addi(riscv.T0, riscv.T0, 8)
	b.Addi(riscv.T1, riscv.T1, -1)
	b.Bnez(riscv.T1, "loop")
	// Store through bss and read it back.
	b.La(riscv.T3, "scratch")
	b.Sd(riscv.A0, riscv.T3, 56)
	b.Ld(riscv.A1, riscv.T3, 56)
	// Forward call.
	b.Call("first")
	b.Ecall()
	b.Label("first")
	b.La(riscv.A3, "greeting")
	b.Lbu(riscv.A2, riscv.A3, 2)
	b.Ret()

	cpu := run(t, b)
	if got := cpu.Reg(riscv.A0); got != 60 {
		t.Errorf("a0 = %d, wanted 60", got)
	}
	if got := cpu.Reg(riscv.A1); got != 60 {
		t.Errorf("a1 = %d, wanted 60", got)
	}
	if got := cpu.Reg(riscv.A2); got != '!' {
		t.Errorf("a2 = %q, wanted '!'", rune(got))
	}
}

func TestArithmetic(t *testing.T) {
	b := NewBuilder()
	b.Li(riscv.T0, 7)
	b.Li(riscv.T1, -3)
	b.Mul(riscv.A0, riscv.T0, riscv.T1)
	b.Div(riscv.A1, riscv.T0, riscv.T1)
	b.Rem(riscv.A2, riscv.T0, riscv.T1)
	b.Slli(riscv.A3, riscv.T0, 60)
	b.Srai(riscv.A3, riscv.A3, 60)
	b.Seqz(riscv.A4, riscv.Zero)
	b.Neg(riscv.A5, riscv.T0)
	b.Ecall()
	cpu := run(t, b)
	for _, tc := range []struct {
		reg  riscv.Reg
		want int64
	}{
		{riscv.A0, -21},
		{riscv.A1, -2},
		{riscv.A2, 1},
		{riscv.A3, 7},
		{riscv.A4, 1},
		{riscv.A5, -7},
	} {
		if got := int64(cpu.Reg(tc.reg)); got != tc.want {
			t.Errorf("%v = %d, wanted %d", tc.reg, got, tc.want)
		}
	}
}

func TestELFHeaders(t *testing.T) {
	b := NewBuilder()
	b.Nop()
	b.Label(EntryLabel)
	b.Syscall(93)
	b.Asciz("s", "x")
	p, err := b.Program()
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(p.ELF()))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
		t.Errorf("header = %v/%v/%v/%v, wanted ELF64 LSB RISC-V EXEC", f.Class, f.Data, f.Machine, f.Type)
	}
	if want := uint64(TextBase + 4); f.Entry != want {
		t.Errorf("Entry = %#x, wanted %#x", f.Entry, want)
	}
	if got := len(f.Progs); got != 2 {
		t.Fatalf("%d program headers, wanted 2", got)
	}
	if ph := f.Progs[0]; ph.Vaddr != TextBase || ph.Flags != elf.PF_R|elf.PF_X || ph.Off%riscv.PageSize != 0 {
		t.Errorf("text header = %+v", ph.ProgHeader)
	}
	if ph := f.Progs[1]; ph.Vaddr != p.DataBase || ph.Flags != elf.PF_R|elf.PF_W || ph.Filesz != 2 {
		t.Errorf("data header = %+v", ph.ProgHeader)
	}
}

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(b *Builder)
	}{
		{"empty", func(b *Builder) {}},
		{"undefined label", func(b *Builder) { b.J("nowhere") }},
		{"duplicate label", func(b *Builder) {
			b.Label("x")
			b.Nop()
			b.Label("x")
		}},
		{"immediate out of range", func(b *Builder) { b.Addi(riscv.A0, riscv.A0, 4096) }},
		{"shift out of range", func(b *Builder) { b.Slliw(riscv.A0, riscv.A0, 32) }},
		{"branch too far", func(b *Builder) {
			b.Beqz(riscv.A0, "far")
			for i := 0; i < 1100; i++ {
				b.Nop()
			}
			b.Label("far")
			b.Nop()
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			if _, err := b.Program(); err == nil {
				t.Errorf("Program() succeeded, wanted error")
			}
		})
	}
}
