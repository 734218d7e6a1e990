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

package riscv

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/bits"
)

// Major opcodes of the RV64IM base encoding.
const (
	OpLoad     = 0x03
	OpMiscMem  = 0x0f
	OpImm      = 0x13
	OpAuipc    = 0x17
	OpImm32    = 0x1b
	OpStore    = 0x23
	OpReg      = 0x33
	OpLui      = 0x37
	OpReg32    = 0x3b
	OpBranch   = 0x63
	OpJalr     = 0x67
	OpJal      = 0x6f
	OpSystem   = 0x73
	opcodeMask = 0x7f
)

// funct3 values.
const (
	F3Beq  = 0
	F3Bne  = 1
	F3Blt  = 4
	F3Bge  = 5
	F3Bltu = 6
	F3Bgeu = 7

	F3Lb  = 0
	F3Lh  = 1
	F3Lw  = 2
	F3Ld  = 3
	F3Lbu = 4
	F3Lhu = 5
	F3Lwu = 6

	F3Sb = 0
	F3Sh = 1
	F3Sw = 2
	F3Sd = 3

	F3Add  = 0
	F3Sll  = 1
	F3Slt  = 2
	F3Sltu = 3
	F3Xor  = 4
	F3Srl  = 5
	F3Or   = 6
	F3And  = 7

	F3Mul    = 0
	F3Mulh   = 1
	F3Mulhsu = 2
	F3Mulhu  = 3
	F3Div    = 4
	F3Divu   = 5
	F3Rem    = 6
	F3Remu   = 7
)

// funct7 values.
const (
	F7Base   = 0x00
	F7Alt    = 0x20
	F7MulDiv = 0x01
)

// Fixed encodings.
const (
	InsnEcall  uint32 = 0x00000073
	InsnEbreak uint32 = 0x00100073
	InsnSret   uint32 = 0x10200073
	InsnWfi    uint32 = 0x10500073
	InsnNop    uint32 = 0x00000013
)

func checkImm(v int64, width int, what string) uint32 {
	lo, hi := -(int64(1) << (width - 1)), int64(1)<<(width-1)-1
	if v < lo || v > hi {
		panic(fmt.Sprintf("%s immediate %d out of range [%d, %d]", what, v, lo, hi))
	}
	return uint32(v) & (1<<width - 1)
}

// EncodeR encodes an R-type instruction.
func EncodeR(op, f3, f7 uint32, rd, rs1, rs2 Reg) uint32 {
	return f7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

// EncodeI encodes an I-type instruction. imm is a signed 12-bit value.
func EncodeI(op, f3 uint32, rd, rs1 Reg, imm int64) uint32 {
	return checkImm(imm, 12, "I-type")<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

// EncodeShift encodes an RV64 immediate shift. f6 is the top six bits of the
// immediate field (0 for logical, 0x10 for arithmetic right shifts).
func EncodeShift(op, f3, f6 uint32, rd, rs1 Reg, shamt uint32) uint32 {
	if shamt > 63 {
		panic(fmt.Sprintf("shift amount %d out of range", shamt))
	}
	return f6<<26 | shamt<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

// EncodeS encodes an S-type instruction.
func EncodeS(op, f3 uint32, rs1, rs2 Reg, imm int64) uint32 {
	u := checkImm(imm, 12, "S-type")
	return (u>>5)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (u&0x1f)<<7 | op
}

// EncodeB encodes a B-type instruction. off is a signed, even byte offset.
func EncodeB(op, f3 uint32, rs1, rs2 Reg, off int64) uint32 {
	if off&1 != 0 {
		panic(fmt.Sprintf("branch offset %d is odd", off))
	}
	u := checkImm(off, 13, "B-type")
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		f3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | op
}

// EncodeU encodes a U-type instruction. imm20 is the signed upper 20 bits.
func EncodeU(op uint32, rd Reg, imm20 int64) uint32 {
	return checkImm(imm20, 20, "U-type")<<12 | uint32(rd)<<7 | op
}

// EncodeJ encodes a J-type instruction. off is a signed, even byte offset.
func EncodeJ(op uint32, rd Reg, off int64) uint32 {
	if off&1 != 0 {
		panic(fmt.Sprintf("jump offset %d is odd", off))
	}
	u := checkImm(off, 21, "J-type")
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | uint32(rd)<<7 | op
}

// Insn is a raw 32-bit instruction with field accessors for decoding.
type Insn uint32

// Opcode returns the major opcode.
func (i Insn) Opcode() uint32 { return uint32(i) & opcodeMask }

// Rd returns the destination register.
func (i Insn) Rd() Reg { return Reg(bits.Field(uint64(i), 7, 5)) }

// Rs1 returns the first source register.
func (i Insn) Rs1() Reg { return Reg(bits.Field(uint64(i), 15, 5)) }

// Rs2 returns the second source register.
func (i Insn) Rs2() Reg { return Reg(bits.Field(uint64(i), 20, 5)) }

// Funct3 returns bits 14:12.
func (i Insn) Funct3() uint32 { return uint32(bits.Field(uint64(i), 12, 3)) }

// Funct7 returns bits 31:25.
func (i Insn) Funct7() uint32 { return uint32(bits.Field(uint64(i), 25, 7)) }

// ImmI returns the sign-extended I-type immediate.
func (i Insn) ImmI() uint64 {
	return bits.SignExtend64(bits.Field(uint64(i), 20, 12), 12)
}

// ImmS returns the sign-extended S-type immediate.
func (i Insn) ImmS() uint64 {
	v := bits.Field(uint64(i), 25, 7)<<5 | bits.Field(uint64(i), 7, 5)
	return bits.SignExtend64(v, 12)
}

// ImmB returns the sign-extended B-type offset.
func (i Insn) ImmB() uint64 {
	x := uint64(i)
	v := bits.Field(x, 31, 1)<<12 | bits.Field(x, 7, 1)<<11 |
		bits.Field(x, 25, 6)<<5 | bits.Field(x, 8, 4)<<1
	return bits.SignExtend64(v, 13)
}

// ImmU returns the sign-extended U-type immediate (already shifted).
func (i Insn) ImmU() uint64 {
	return bits.SignExtend64(uint64(i)&0xfffff000, 32)
}

// ImmJ returns the sign-extended J-type offset.
func (i Insn) ImmJ() uint64 {
	x := uint64(i)
	v := bits.Field(x, 31, 1)<<20 | bits.Field(x, 12, 8)<<12 |
		bits.Field(x, 20, 1)<<11 | bits.Field(x, 21, 10)<<1
	return bits.SignExtend64(v, 21)
}

// Shamt returns the 6-bit RV64 shift amount.
func (i Insn) Shamt() uint32 { return uint32(bits.Field(uint64(i), 20, 6)) }

// Funct6 returns bits 31:26, which select the shift kind.
func (i Insn) Funct6() uint32 { return uint32(bits.Field(uint64(i), 26, 6)) }
