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
	"encoding/binary"
	"fmt"
	"math"
	mbits "math/bits"

	"rvcore.dev/rvcore/pkg/bits"
	"rvcore.dev/rvcore/pkg/riscv"
)

// User-readable counter CSRs.
const (
	csrCycle   = 0xc00
	csrTime    = 0xc01
	csrInstret = 0xc02
)

// access copies between buf and the virtual range starting at va, one page
// at a time. The direction is given by access.
func (c *CPU) access(va uint64, buf []byte, access riscv.AccessType) *Fault {
	for done := 0; done < len(buf); {
		addr := va + uint64(done)
		pa, err := c.Translate(addr, access)
		if err != nil {
			if f, ok := err.(*Fault); ok {
				return f
			}
			panic(fmt.Sprintf("translate %#x: %v", addr, err))
		}
		n := len(buf) - done
		if rest := int(riscv.PageSize - pa.PageOffset()); n > rest {
			n = rest
		}
		b, err := c.mem.Slice(pa, uint64(n))
		if err != nil {
			return &Fault{Cause: access.AccessFault(), Addr: addr}
		}
		if access == riscv.AccessWrite {
			copy(b, buf[done:done+n])
		} else {
			copy(buf[done:done+n], b)
		}
		done += n
	}
	return nil
}

func (c *CPU) load(va uint64, size int) (uint64, *Fault) {
	var buf [8]byte
	if f := c.access(va, buf[:size], riscv.AccessRead); f != nil {
		return 0, f
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (c *CPU) store(va uint64, size int, v uint64) *Fault {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return c.access(va, buf[:size], riscv.AccessWrite)
}

func (c *CPU) fetch(pc uint64) (riscv.Insn, *Fault) {
	var buf [4]byte
	if f := c.access(pc, buf[:], riscv.AccessExecute); f != nil {
		return 0, f
	}
	return riscv.Insn(binary.LittleEndian.Uint32(buf[:])), nil
}

func illegal(insn riscv.Insn) *Fault {
	return &Fault{Cause: riscv.IllegalInstruction, Addr: uint64(insn)}
}

func sext32(v uint64) uint64 {
	return bits.SignExtend64(v&math.MaxUint32, 32)
}

// step executes one instruction. It returns the exception raised, if any, in
// which case the program counter is left at the faulting instruction.
func (c *CPU) step() *Fault {
	pc := c.PC
	if pc&3 != 0 {
		return &Fault{Cause: riscv.InstructionMisaligned, Addr: pc}
	}
	insn, f := c.fetch(pc)
	if f != nil {
		return f
	}

	next := pc + 4
	rd := insn.Rd()
	rs1 := c.regs[insn.Rs1()]
	rs2 := c.regs[insn.Rs2()]

	switch insn.Opcode() {
	case riscv.OpLui:
		c.SetReg(rd, insn.ImmU())
	case riscv.OpAuipc:
		c.SetReg(rd, pc+insn.ImmU())
	case riscv.OpJal:
		c.SetReg(rd, next)
		next = pc + insn.ImmJ()
	case riscv.OpJalr:
		target := (rs1 + insn.ImmI()) &^ 1
		c.SetReg(rd, next)
		next = target
	case riscv.OpBranch:
		var taken bool
		switch insn.Funct3() {
		case riscv.F3Beq:
			taken = rs1 == rs2
		case riscv.F3Bne:
			taken = rs1 != rs2
		case riscv.F3Blt:
			taken = int64(rs1) < int64(rs2)
		case riscv.F3Bge:
			taken = int64(rs1) >= int64(rs2)
		case riscv.F3Bltu:
			taken = rs1 < rs2
		case riscv.F3Bgeu:
			taken = rs1 >= rs2
		default:
			return illegal(insn)
		}
		if taken {
			next = pc + insn.ImmB()
		}
	case riscv.OpLoad:
		addr := rs1 + insn.ImmI()
		var size, signed int
		switch insn.Funct3() {
		case riscv.F3Lb:
			size, signed = 1, 8
		case riscv.F3Lh:
			size, signed = 2, 16
		case riscv.F3Lw:
			size, signed = 4, 32
		case riscv.F3Ld:
			size = 8
		case riscv.F3Lbu:
			size = 1
		case riscv.F3Lhu:
			size = 2
		case riscv.F3Lwu:
			size = 4
		default:
			return illegal(insn)
		}
		v, f := c.load(addr, size)
		if f != nil {
			return f
		}
		if signed != 0 {
			v = bits.SignExtend64(v, signed)
		}
		c.SetReg(rd, v)
	case riscv.OpStore:
		addr := rs1 + insn.ImmS()
		var size int
		switch insn.Funct3() {
		case riscv.F3Sb:
			size = 1
		case riscv.F3Sh:
			size = 2
		case riscv.F3Sw:
			size = 4
		case riscv.F3Sd:
			size = 8
		default:
			return illegal(insn)
		}
		if f := c.store(addr, size, rs2); f != nil {
			return f
		}
	case riscv.OpImm:
		v, ok := aluImm(insn, rs1)
		if !ok {
			return illegal(insn)
		}
		c.SetReg(rd, v)
	case riscv.OpImm32:
		v, ok := aluImm32(insn, rs1)
		if !ok {
			return illegal(insn)
		}
		c.SetReg(rd, v)
	case riscv.OpReg:
		v, ok := alu(insn, rs1, rs2)
		if !ok {
			return illegal(insn)
		}
		c.SetReg(rd, v)
	case riscv.OpReg32:
		v, ok := alu32(insn, rs1, rs2)
		if !ok {
			return illegal(insn)
		}
		c.SetReg(rd, v)
	case riscv.OpMiscMem:
		// fence and fence.i: a single in-order hart has nothing to order.
	case riscv.OpSystem:
		switch {
		case uint32(insn) == riscv.InsnEcall:
			return &Fault{Cause: riscv.UserEnvCall}
		case uint32(insn) == riscv.InsnEbreak:
			return &Fault{Cause: riscv.Breakpoint, Addr: pc}
		case insn.Funct3() == 2 && insn.Rs1() == riscv.Zero:
			// csrrs rd, csr, x0: the only CSR access user mode may make.
			switch uint32(insn) >> 20 {
			case csrCycle, csrTime:
				c.SetReg(rd, c.timer.Now())
			case csrInstret:
				c.SetReg(rd, c.Stats.Instret)
			default:
				return illegal(insn)
			}
		default:
			return illegal(insn)
		}
	default:
		return illegal(insn)
	}

	c.PC = next
	c.Stats.Instret++
	c.timer.retire()
	return nil
}

func aluImm(insn riscv.Insn, a uint64) (uint64, bool) {
	imm := insn.ImmI()
	switch insn.Funct3() {
	case riscv.F3Add:
		return a + imm, true
	case riscv.F3Slt:
		return boolToReg(int64(a) < int64(imm)), true
	case riscv.F3Sltu:
		return boolToReg(a < imm), true
	case riscv.F3Xor:
		return a ^ imm, true
	case riscv.F3Or:
		return a | imm, true
	case riscv.F3And:
		return a & imm, true
	case riscv.F3Sll:
		if insn.Funct6() != 0 {
			return 0, false
		}
		return a << insn.Shamt(), true
	case riscv.F3Srl:
		switch insn.Funct6() {
		case 0:
			return a >> insn.Shamt(), true
		case 0x10:
			return uint64(int64(a) >> insn.Shamt()), true
		}
	}
	return 0, false
}

func aluImm32(insn riscv.Insn, a uint64) (uint64, bool) {
	shamt := insn.Shamt()
	switch insn.Funct3() {
	case riscv.F3Add:
		return sext32(a + insn.ImmI()), true
	case riscv.F3Sll:
		if insn.Funct7() != riscv.F7Base || shamt > 31 {
			return 0, false
		}
		return sext32(a << shamt), true
	case riscv.F3Srl:
		if shamt > 31 {
			return 0, false
		}
		switch insn.Funct7() {
		case riscv.F7Base:
			return sext32(uint64(uint32(a) >> shamt)), true
		case riscv.F7Alt:
			return uint64(int64(int32(a) >> shamt)), true
		}
	}
	return 0, false
}

func alu(insn riscv.Insn, a, b uint64) (uint64, bool) {
	switch insn.Funct7() {
	case riscv.F7Base:
		switch insn.Funct3() {
		case riscv.F3Add:
			return a + b, true
		case riscv.F3Sll:
			return a << (b & 63), true
		case riscv.F3Slt:
			return boolToReg(int64(a) < int64(b)), true
		case riscv.F3Sltu:
			return boolToReg(a < b), true
		case riscv.F3Xor:
			return a ^ b, true
		case riscv.F3Srl:
			return a >> (b & 63), true
		case riscv.F3Or:
			return a | b, true
		case riscv.F3And:
			return a & b, true
		}
	case riscv.F7Alt:
		switch insn.Funct3() {
		case riscv.F3Add:
			return a - b, true
		case riscv.F3Srl:
			return uint64(int64(a) >> (b & 63)), true
		}
	case riscv.F7MulDiv:
		return mulDiv(insn.Funct3(), a, b), true
	}
	return 0, false
}

func alu32(insn riscv.Insn, a, b uint64) (uint64, bool) {
	switch insn.Funct7() {
	case riscv.F7Base:
		switch insn.Funct3() {
		case riscv.F3Add:
			return sext32(a + b), true
		case riscv.F3Sll:
			return sext32(a << (b & 31)), true
		case riscv.F3Srl:
			return sext32(uint64(uint32(a) >> (b & 31))), true
		}
	case riscv.F7Alt:
		switch insn.Funct3() {
		case riscv.F3Add:
			return sext32(a - b), true
		case riscv.F3Srl:
			return uint64(int64(int32(a) >> (b & 31))), true
		}
	case riscv.F7MulDiv:
		switch insn.Funct3() {
		case riscv.F3Mul:
			return sext32(uint64(int32(a) * int32(b))), true
		case riscv.F3Div:
			return sext32(uint64(div32(int32(a), int32(b)))), true
		case riscv.F3Divu:
			return sext32(uint64(divu32(uint32(a), uint32(b)))), true
		case riscv.F3Rem:
			return sext32(uint64(rem32(int32(a), int32(b)))), true
		case riscv.F3Remu:
			return sext32(uint64(remu32(uint32(a), uint32(b)))), true
		}
	}
	return 0, false
}

func mulDiv(f3 uint32, a, b uint64) uint64 {
	switch f3 {
	case riscv.F3Mul:
		return a * b
	case riscv.F3Mulh:
		hi, _ := mbits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		return hi
	case riscv.F3Mulhsu:
		hi, _ := mbits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		return hi
	case riscv.F3Mulhu:
		hi, _ := mbits.Mul64(a, b)
		return hi
	case riscv.F3Div:
		switch {
		case b == 0:
			return math.MaxUint64
		case int64(a) == math.MinInt64 && int64(b) == -1:
			return a
		}
		return uint64(int64(a) / int64(b))
	case riscv.F3Divu:
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case riscv.F3Rem:
		switch {
		case b == 0:
			return a
		case int64(a) == math.MinInt64 && int64(b) == -1:
			return 0
		}
		return uint64(int64(a) % int64(b))
	default: // F3Remu
		if b == 0 {
			return a
		}
		return a % b
	}
}

func div32(a, b int32) int32 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt32 && b == -1:
		return a
	}
	return a / b
}

func divu32(a, b uint32) uint32 {
	if b == 0 {
		return math.MaxUint32
	}
	return a / b
}

func rem32(a, b int32) int32 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt32 && b == -1:
		return 0
	}
	return a % b
}

func remu32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
