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
	"fmt"

	"rvcore.dev/rvcore/pkg/bits"
	"rvcore.dev/rvcore/pkg/riscv"
)

// User-readable counters.
const (
	csrCycle   = 0xc00
	csrTime    = 0xc01
	csrInstret = 0xc02
)

func (b *Builder) r(f3, f7 uint32, rd, rs1, rs2 riscv.Reg) {
	b.Emit(riscv.EncodeR(riscv.OpReg, f3, f7, rd, rs1, rs2))
}

func (b *Builder) r32(f3, f7 uint32, rd, rs1, rs2 riscv.Reg) {
	b.Emit(riscv.EncodeR(riscv.OpReg32, f3, f7, rd, rs1, rs2))
}

func (b *Builder) i(op, f3 uint32, rd, rs1 riscv.Reg, imm int64) {
	if !fits(imm, 12) {
		b.setErr(fmt.Errorf("immediate %d does not fit 12 bits", imm))
		return
	}
	b.Emit(riscv.EncodeI(op, f3, rd, rs1, imm))
}

func (b *Builder) shift(op, f3, f6 uint32, rd, rs1 riscv.Reg, shamt uint32, limit uint32) {
	if shamt > limit {
		b.setErr(fmt.Errorf("shift amount %d exceeds %d", shamt, limit))
		return
	}
	b.Emit(riscv.EncodeShift(op, f3, f6, rd, rs1, shamt))
}

// Register-register arithmetic.

func (b *Builder) Add(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Add, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Sub(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Add, riscv.F7Alt, rd, rs1, rs2) }
func (b *Builder) Sll(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Sll, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Slt(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Slt, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Sltu(rd, rs1, rs2 riscv.Reg) { b.r(riscv.F3Sltu, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Xor(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Xor, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Srl(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Srl, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Sra(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Srl, riscv.F7Alt, rd, rs1, rs2) }
func (b *Builder) Or(rd, rs1, rs2 riscv.Reg)   { b.r(riscv.F3Or, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) And(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3And, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Addw(rd, rs1, rs2 riscv.Reg) { b.r32(riscv.F3Add, riscv.F7Base, rd, rs1, rs2) }
func (b *Builder) Subw(rd, rs1, rs2 riscv.Reg) { b.r32(riscv.F3Add, riscv.F7Alt, rd, rs1, rs2) }

// M extension.

func (b *Builder) Mul(rd, rs1, rs2 riscv.Reg)   { b.r(riscv.F3Mul, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Mulh(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Mulh, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Mulhu(rd, rs1, rs2 riscv.Reg) { b.r(riscv.F3Mulhu, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Div(rd, rs1, rs2 riscv.Reg)   { b.r(riscv.F3Div, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Divu(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Divu, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Rem(rd, rs1, rs2 riscv.Reg)   { b.r(riscv.F3Rem, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Remu(rd, rs1, rs2 riscv.Reg)  { b.r(riscv.F3Remu, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Mulw(rd, rs1, rs2 riscv.Reg)  { b.r32(riscv.F3Mul, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Divw(rd, rs1, rs2 riscv.Reg)  { b.r32(riscv.F3Div, riscv.F7MulDiv, rd, rs1, rs2) }
func (b *Builder) Remw(rd, rs1, rs2 riscv.Reg)  { b.r32(riscv.F3Rem, riscv.F7MulDiv, rd, rs1, rs2) }

// Register-immediate arithmetic.

func (b *Builder) Addi(rd, rs1 riscv.Reg, imm int64)  { b.i(riscv.OpImm, riscv.F3Add, rd, rs1, imm) }
func (b *Builder) Slti(rd, rs1 riscv.Reg, imm int64)  { b.i(riscv.OpImm, riscv.F3Slt, rd, rs1, imm) }
func (b *Builder) Sltiu(rd, rs1 riscv.Reg, imm int64) { b.i(riscv.OpImm, riscv.F3Sltu, rd, rs1, imm) }
func (b *Builder) Xori(rd, rs1 riscv.Reg, imm int64)  { b.i(riscv.OpImm, riscv.F3Xor, rd, rs1, imm) }
func (b *Builder) Ori(rd, rs1 riscv.Reg, imm int64)   { b.i(riscv.OpImm, riscv.F3Or, rd, rs1, imm) }
func (b *Builder) Andi(rd, rs1 riscv.Reg, imm int64)  { b.i(riscv.OpImm, riscv.F3And, rd, rs1, imm) }
func (b *Builder) Addiw(rd, rs1 riscv.Reg, imm int64) { b.i(riscv.OpImm32, riscv.F3Add, rd, rs1, imm) }

func (b *Builder) Slli(rd, rs1 riscv.Reg, shamt uint32) {
	b.shift(riscv.OpImm, riscv.F3Sll, 0, rd, rs1, shamt, 63)
}

func (b *Builder) Srli(rd, rs1 riscv.Reg, shamt uint32) {
	b.shift(riscv.OpImm, riscv.F3Srl, 0, rd, rs1, shamt, 63)
}

func (b *Builder) Srai(rd, rs1 riscv.Reg, shamt uint32) {
	b.shift(riscv.OpImm, riscv.F3Srl, 0x10, rd, rs1, shamt, 63)
}

func (b *Builder) Slliw(rd, rs1 riscv.Reg, shamt uint32) {
	b.shift(riscv.OpImm32, riscv.F3Sll, 0, rd, rs1, shamt, 31)
}

func (b *Builder) Sraiw(rd, rs1 riscv.Reg, shamt uint32) {
	b.shift(riscv.OpImm32, riscv.F3Srl, 0x10, rd, rs1, shamt, 31)
}

// Upper immediates.

func (b *Builder) Lui(rd riscv.Reg, imm20 int64) {
	if !fits(imm20, 20) {
		b.setErr(fmt.Errorf("lui immediate %d does not fit 20 bits", imm20))
		return
	}
	b.Emit(riscv.EncodeU(riscv.OpLui, rd, imm20))
}

// Loads and stores. Addresses are off(base).

func (b *Builder) Lb(rd, base riscv.Reg, off int64)  { b.i(riscv.OpLoad, riscv.F3Lb, rd, base, off) }
func (b *Builder) Lbu(rd, base riscv.Reg, off int64) { b.i(riscv.OpLoad, riscv.F3Lbu, rd, base, off) }
func (b *Builder) Lh(rd, base riscv.Reg, off int64)  { b.i(riscv.OpLoad, riscv.F3Lh, rd, base, off) }
func (b *Builder) Lw(rd, base riscv.Reg, off int64)  { b.i(riscv.OpLoad, riscv.F3Lw, rd, base, off) }
func (b *Builder) Lwu(rd, base riscv.Reg, off int64) { b.i(riscv.OpLoad, riscv.F3Lwu, rd, base, off) }
func (b *Builder) Ld(rd, base riscv.Reg, off int64)  { b.i(riscv.OpLoad, riscv.F3Ld, rd, base, off) }

func (b *Builder) store(f3 uint32, rs2, base riscv.Reg, off int64) {
	if !fits(off, 12) {
		b.setErr(fmt.Errorf("store offset %d does not fit 12 bits", off))
		return
	}
	b.Emit(riscv.EncodeS(riscv.OpStore, f3, base, rs2, off))
}

func (b *Builder) Sb(rs2, base riscv.Reg, off int64) { b.store(riscv.F3Sb, rs2, base, off) }
func (b *Builder) Sh(rs2, base riscv.Reg, off int64) { b.store(riscv.F3Sh, rs2, base, off) }
func (b *Builder) Sw(rs2, base riscv.Reg, off int64) { b.store(riscv.F3Sw, rs2, base, off) }
func (b *Builder) Sd(rs2, base riscv.Reg, off int64) { b.store(riscv.F3Sd, rs2, base, off) }

// Control flow to labels.

func (b *Builder) branch(f3 uint32, rs1, rs2 riscv.Reg, label string) {
	b.emitFixup(riscv.EncodeB(riscv.OpBranch, f3, rs1, rs2, 0), fixBranch, label)
}

func (b *Builder) Beq(rs1, rs2 riscv.Reg, label string)  { b.branch(riscv.F3Beq, rs1, rs2, label) }
func (b *Builder) Bne(rs1, rs2 riscv.Reg, label string)  { b.branch(riscv.F3Bne, rs1, rs2, label) }
func (b *Builder) Blt(rs1, rs2 riscv.Reg, label string)  { b.branch(riscv.F3Blt, rs1, rs2, label) }
func (b *Builder) Bge(rs1, rs2 riscv.Reg, label string)  { b.branch(riscv.F3Bge, rs1, rs2, label) }
func (b *Builder) Bltu(rs1, rs2 riscv.Reg, label string) { b.branch(riscv.F3Bltu, rs1, rs2, label) }
func (b *Builder) Bgeu(rs1, rs2 riscv.Reg, label string) { b.branch(riscv.F3Bgeu, rs1, rs2, label) }
func (b *Builder) Bgt(rs1, rs2 riscv.Reg, label string)  { b.Blt(rs2, rs1, label) }
func (b *Builder) Ble(rs1, rs2 riscv.Reg, label string)  { b.Bge(rs2, rs1, label) }
func (b *Builder) Beqz(rs riscv.Reg, label string)       { b.Beq(rs, riscv.Zero, label) }
func (b *Builder) Bnez(rs riscv.Reg, label string)       { b.Bne(rs, riscv.Zero, label) }
func (b *Builder) Bltz(rs riscv.Reg, label string)       { b.Blt(rs, riscv.Zero, label) }
func (b *Builder) Bgez(rs riscv.Reg, label string)       { b.Bge(rs, riscv.Zero, label) }
func (b *Builder) Blez(rs riscv.Reg, label string)       { b.Bge(riscv.Zero, rs, label) }
func (b *Builder) Bgtz(rs riscv.Reg, label string)       { b.Blt(riscv.Zero, rs, label) }

// Jal jumps to label, linking into rd.
func (b *Builder) Jal(rd riscv.Reg, label string) {
	b.emitFixup(riscv.EncodeJ(riscv.OpJal, rd, 0), fixJump, label)
}

// Jalr jumps to rs1+off, linking into rd.
func (b *Builder) Jalr(rd, rs1 riscv.Reg, off int64) { b.i(riscv.OpJalr, 0, rd, rs1, off) }

func (b *Builder) J(label string)     { b.Jal(riscv.Zero, label) }
func (b *Builder) Call(label string)  { b.Jal(riscv.RA, label) }
func (b *Builder) Jr(rs riscv.Reg)    { b.Jalr(riscv.Zero, rs, 0) }
func (b *Builder) Jalrr(rs riscv.Reg) { b.Jalr(riscv.RA, rs, 0) }
func (b *Builder) Ret()               { b.Jr(riscv.RA) }

// Pseudo-instructions.

func (b *Builder) Nop()                   { b.Emit(riscv.InsnNop) }
func (b *Builder) Mv(rd, rs riscv.Reg)    { b.Addi(rd, rs, 0) }
func (b *Builder) Not(rd, rs riscv.Reg)   { b.Xori(rd, rs, -1) }
func (b *Builder) Neg(rd, rs riscv.Reg)   { b.Sub(rd, riscv.Zero, rs) }
func (b *Builder) Seqz(rd, rs riscv.Reg)  { b.Sltiu(rd, rs, 1) }
func (b *Builder) Snez(rd, rs riscv.Reg)  { b.Sltu(rd, riscv.Zero, rs) }
func (b *Builder) Ecall()                 { b.Emit(riscv.InsnEcall) }
func (b *Builder) Ebreak()                { b.Emit(riscv.InsnEbreak) }
func (b *Builder) Fence()                 { b.Emit(0x0ff0000f) }
func (b *Builder) Rdcycle(rd riscv.Reg)   { b.csrr(rd, csrCycle) }
func (b *Builder) Rdtime(rd riscv.Reg)    { b.csrr(rd, csrTime) }
func (b *Builder) Rdinstret(rd riscv.Reg) { b.csrr(rd, csrInstret) }

func (b *Builder) csrr(rd riscv.Reg, csr uint32) {
	// csrrs rd, csr, x0
	b.Emit(csr<<20 | 2<<12 | uint32(rd)<<7 | riscv.OpSystem)
}

// La loads the address of label into rd.
func (b *Builder) La(rd riscv.Reg, label string) {
	b.emitFixup(riscv.EncodeU(riscv.OpAuipc, rd, 0), fixPCRel, label)
	b.Emit(riscv.EncodeI(riscv.OpImm, riscv.F3Add, rd, rd, 0))
}

// Li loads the constant v into rd using the shortest lui/addi/slli sequence.
func (b *Builder) Li(rd riscv.Reg, v int64) {
	for _, insn := range liSequence(rd, v) {
		b.Emit(insn)
	}
}

// Syscall issues system call nr. Arguments are expected in a0 through a5.
func (b *Builder) Syscall(nr int64) {
	b.Li(riscv.A7, nr)
	b.Ecall()
}

func liSequence(rd riscv.Reg, v int64) []uint32 {
	lo := v << 52 >> 52
	if v == int64(int32(v)) {
		hi := (v - lo) >> 12
		if hi == 0 {
			return []uint32{riscv.EncodeI(riscv.OpImm, riscv.F3Add, rd, riscv.Zero, lo)}
		}
		seq := []uint32{riscv.EncodeU(riscv.OpLui, rd, signExtend20(hi))}
		if lo != 0 {
			seq = append(seq, riscv.EncodeI(riscv.OpImm32, riscv.F3Add, rd, rd, lo))
		}
		return seq
	}
	hi := int64(bits.SignExtend64((uint64(v)+0x800)>>12, 52))
	shift := bits.TrailingZeros64(uint64(hi))
	hi >>= shift
	seq := liSequence(rd, hi)
	seq = append(seq, riscv.EncodeShift(riscv.OpImm, riscv.F3Sll, 0, rd, rd, uint32(12+shift)))
	if lo != 0 {
		seq = append(seq, riscv.EncodeI(riscv.OpImm, riscv.F3Add, rd, rd, lo))
	}
	return seq
}
