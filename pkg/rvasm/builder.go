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

// Package rvasm builds RV64IM user programs. A Builder collects instructions
// and data with symbolic labels, resolves the labels, and produces a static
// ELF64 executable the kernel can load.
package rvasm

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// TextBase is the virtual address programs are linked at.
const TextBase = 0x10000

// EntryLabel is the label of the program entry point. Programs without it
// start at the first instruction.
const EntryLabel = "_start"

type fixupKind int

const (
	// fixBranch patches a B-type offset.
	fixBranch fixupKind = iota

	// fixJump patches a J-type offset.
	fixJump

	// fixPCRel patches an auipc+addi pair with a pc-relative address.
	fixPCRel
)

// fixup is one reference to a label from the text.
type fixup struct {
	// index of the instruction to patch.
	index int
	kind  fixupKind
	label string
}

// symbol is a label's location: either an instruction index in text or a
// byte offset in data.
type symbol struct {
	data   bool
	offset uint64
}

// Builder assembles a program with labels that are resolved to their proper
// offsets when the program is built.
//
// Methods record the first error encountered; it is returned by Program.
type Builder struct {
	text    []uint32
	data    []byte
	bss     uint64
	symbols map[string]symbol
	bssSyms map[string]uint64
	fixups  []fixup
	err     error
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		symbols: make(map[string]symbol),
		bssSyms: make(map[string]uint64),
	}
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) define(name string, s symbol) {
	if _, ok := b.symbols[name]; ok {
		b.setErr(fmt.Errorf("label %q defined twice", name))
		return
	}
	if _, ok := b.bssSyms[name]; ok {
		b.setErr(fmt.Errorf("label %q defined twice", name))
		return
	}
	b.symbols[name] = s
}

// Label sets the given label at the current text location. The next
// instruction is executed when code jumps to it.
func (b *Builder) Label(name string) {
	b.define(name, symbol{offset: uint64(len(b.text))})
}

// Emit appends a raw instruction.
func (b *Builder) Emit(insn uint32) {
	b.text = append(b.text, insn)
}

func (b *Builder) emitFixup(insn uint32, kind fixupKind, label string) {
	b.fixups = append(b.fixups, fixup{index: len(b.text), kind: kind, label: label})
	b.Emit(insn)
}

// PC returns the byte offset of the next instruction from TextBase.
func (b *Builder) PC() uint64 {
	return uint64(len(b.text)) * 4
}

// Data appends bytes to the data section under label name.
func (b *Builder) Data(name string, d []byte) {
	b.align(8)
	b.define(name, symbol{data: true, offset: uint64(len(b.data))})
	b.data = append(b.data, d...)
}

// Asciz appends a NUL terminated string to the data section.
func (b *Builder) Asciz(name, s string) {
	b.Data(name, append([]byte(s), 0))
}

// Dwords appends little-endian doublewords to the data section.
func (b *Builder) Dwords(name string, vs ...uint64) {
	d := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		for i := 0; i < 8; i++ {
			d = append(d, byte(v>>(8*i)))
		}
	}
	b.Data(name, d)
}

// Bss reserves size zeroed bytes under label name, after all data.
func (b *Builder) Bss(name string, size uint64) {
	if _, ok := b.symbols[name]; ok {
		b.setErr(fmt.Errorf("label %q defined twice", name))
		return
	}
	if _, ok := b.bssSyms[name]; ok {
		b.setErr(fmt.Errorf("label %q defined twice", name))
		return
	}
	b.bss = (b.bss + 7) &^ 7
	b.bssSyms[name] = b.bss
	b.bss += size
}

func (b *Builder) align(n int) {
	for len(b.data)%n != 0 {
		b.data = append(b.data, 0)
	}
}

// Program is an assembled program.
type Program struct {
	// Text is the instruction stream, loaded at TextBase.
	Text []uint32

	// Data is the initialized data, loaded at DataBase.
	Data []byte

	// DataBase is the address of the data section.
	DataBase uint64

	// BssSize is the number of zeroed bytes following Data.
	BssSize uint64

	// Entry is the entry point address.
	Entry uint64

	// Symbols maps every label to its address.
	Symbols map[string]uint64
}

// dataBase returns the page following text.
func (b *Builder) dataBase() uint64 {
	end := TextBase + uint64(len(b.text))*4
	return (end + riscv.PageSize - 1) &^ (riscv.PageSize - 1)
}

// Program resolves every label and returns the assembled program.
//
// N.B. Partial results are not returned in the error case.
func (b *Builder) Program() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.text) == 0 {
		return nil, fmt.Errorf("program has no instructions")
	}
	p := &Program{
		Text:     append([]uint32(nil), b.text...),
		Data:     append([]byte(nil), b.data...),
		DataBase: b.dataBase(),
		Symbols:  make(map[string]uint64),
		Entry:    TextBase,
	}
	bssBase := p.DataBase + uint64((len(p.Data)+7)&^7)
	if b.bss > 0 {
		p.BssSize = bssBase - p.DataBase - uint64(len(p.Data)) + b.bss
	}
	for name, s := range b.symbols {
		if s.data {
			p.Symbols[name] = p.DataBase + s.offset
		} else {
			p.Symbols[name] = TextBase + 4*s.offset
		}
	}
	for name, off := range b.bssSyms {
		p.Symbols[name] = bssBase + off
	}
	if e, ok := p.Symbols[EntryLabel]; ok {
		p.Entry = e
	}
	if err := resolve(p, b.fixups); err != nil {
		return nil, err
	}
	return p, nil
}

func resolve(p *Program, fixups []fixup) error {
	for _, f := range fixups {
		target, ok := p.Symbols[f.label]
		if !ok {
			return fmt.Errorf("label target not set: %v", f.label)
		}
		pc := TextBase + 4*uint64(f.index)
		off := int64(target - pc)
		insn := riscv.Insn(p.Text[f.index])
		switch f.kind {
		case fixBranch:
			if !fits(off, 13) {
				return fmt.Errorf("branch to label %q is too far: %d bytes", f.label, off)
			}
			p.Text[f.index] = riscv.EncodeB(riscv.OpBranch, insn.Funct3(), insn.Rs1(), insn.Rs2(), off)
		case fixJump:
			if !fits(off, 21) {
				return fmt.Errorf("jump to label %q is too far: %d bytes", f.label, off)
			}
			p.Text[f.index] = riscv.EncodeJ(riscv.OpJal, insn.Rd(), off)
		case fixPCRel:
			lo := off << 52 >> 52
			hi := (off - lo) >> 12
			if !fits(hi, 20) {
				return fmt.Errorf("label %q is out of pc-relative range", f.label)
			}
			rd := insn.Rd()
			p.Text[f.index] = riscv.EncodeU(riscv.OpAuipc, rd, hi)
			p.Text[f.index+1] = riscv.EncodeI(riscv.OpImm, riscv.F3Add, rd, rd, lo)
		}
	}
	return nil
}

func fits(v int64, width int) bool {
	return v >= -(int64(1)<<(width-1)) && v < int64(1)<<(width-1)
}

// signExtend20 folds a value in [-2^19, 2^19] into the signed 20-bit lui
// range. 2^19 wraps to -2^19, which is correct once the result is truncated
// to 32 bits.
func signExtend20(v int64) int64 {
	return v << 44 >> 44
}
