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
	"encoding/binary"

	"rvcore.dev/rvcore/pkg/riscv"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// ELF returns p as a static little-endian ELF64 RISC-V executable.
//
// Text is a single R+X segment at TextBase. Data and bss, if any, form an
// R+W segment starting on the next page. Segments are page aligned in the
// file so that offsets and addresses agree modulo the page size.
func (p *Program) ELF() []byte {
	type segment struct {
		vaddr  uint64
		data   []byte
		memsz  uint64
		flags  elf.ProgFlag
		offset uint64
	}
	text := make([]byte, 4*len(p.Text))
	for i, insn := range p.Text {
		binary.LittleEndian.PutUint32(text[4*i:], insn)
	}
	segs := []segment{{
		vaddr: TextBase,
		data:  text,
		memsz: uint64(len(text)),
		flags: elf.PF_R | elf.PF_X,
	}}
	if len(p.Data) > 0 || p.BssSize > 0 {
		segs = append(segs, segment{
			vaddr: p.DataBase,
			data:  p.Data,
			memsz: uint64(len(p.Data)) + p.BssSize,
			flags: elf.PF_R | elf.PF_W,
		})
	}

	off := uint64(riscv.PageSize)
	for i := range segs {
		segs[i].offset = off
		off += (uint64(len(segs[i].data)) + riscv.PageSize - 1) &^ (riscv.PageSize - 1)
	}

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     p.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	binary.Write(&buf, binary.LittleEndian, &hdr)

	for _, s := range segs {
		binary.Write(&buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.flags),
			Off:    s.offset,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: uint64(len(s.data)),
			Memsz:  s.memsz,
			Align:  riscv.PageSize,
		})
	}
	for _, s := range segs {
		buf.Write(make([]byte, s.offset-uint64(buf.Len())))
		buf.Write(s.data)
	}
	return buf.Bytes()
}

// Assemble is a convenience wrapper building b into an ELF image.
func Assemble(b *Builder) ([]byte, error) {
	p, err := b.Program()
	if err != nil {
		return nil, err
	}
	return p.ELF(), nil
}
