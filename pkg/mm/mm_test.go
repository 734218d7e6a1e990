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

package mm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/rvasm"
)

const testMemSize = 4 << 20

type testEnv struct {
	mem    *hart.PhysMem
	layout Layout
	alloc  *FrameAllocator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := hart.NewPhysMem(hart.DefaultMemBase, testMemSize)
	layout, err := NewLayout(mem.Base(), mem.Size(), DefaultImageSize)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	start, end := layout.FramePages()
	return &testEnv{
		mem:    mem,
		layout: layout,
		alloc:  NewFrameAllocator(mem, start, end),
	}
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", what)
		}
	}()
	fn()
}

func TestFrameAllocatorUnique(t *testing.T) {
	mem := hart.NewPhysMem(hart.DefaultMemBase, 64*riscv.PageSize)
	start := mem.Base().Floor() + 8
	a := NewFrameAllocator(mem, start, start+16)
	seen := make(map[riscv.PhysPageNum]bool)
	var frames []*Frame
	for {
		f, ok := a.Alloc()
		if !ok {
			break
		}
		if seen[f.PPN] {
			t.Fatalf("frame %v handed out twice", f.PPN)
		}
		if f.PPN < start || f.PPN >= start+16 {
			t.Fatalf("frame %v outside [%v, %v)", f.PPN, start, start+16)
		}
		seen[f.PPN] = true
		frames = append(frames, f)
	}
	if got, want := len(frames), 16; got != want {
		t.Errorf("allocated %d frames, wanted %d", got, want)
	}
	if got := a.Available(); got != 0 {
		t.Errorf("Available() = %d, wanted 0", got)
	}
	frames[3].Release()
	f, ok := a.Alloc()
	if !ok || f.PPN != frames[3].PPN {
		t.Errorf("Alloc after release = (%v, %t), wanted recycled %v", f, ok, frames[3].PPN)
	}
}

func TestFrameAllocatorZeroFill(t *testing.T) {
	env := newTestEnv(t)
	f, ok := env.alloc.Alloc()
	if !ok {
		t.Fatalf("Alloc failed")
	}
	for i := range f.Bytes() {
		f.Bytes()[i] = 0xa5
	}
	f.Release()
	g, ok := env.alloc.Alloc()
	if !ok {
		t.Fatalf("Alloc failed")
	}
	if g.PPN != f.PPN {
		t.Fatalf("got frame %v, wanted recycled %v", g.PPN, f.PPN)
	}
	if !bytes.Equal(g.Bytes(), make([]byte, riscv.PageSize)) {
		t.Errorf("recycled frame is not zeroed")
	}
}

func TestFrameAllocatorFatal(t *testing.T) {
	env := newTestEnv(t)
	f, _ := env.alloc.Alloc()
	f.Release()
	mustPanic(t, "double free", f.Release)

	start, _ := env.layout.FramePages()
	never := &Frame{PPN: start + 100, alloc: env.alloc}
	mustPanic(t, "freeing a never allocated frame", never.Release)
	below := &Frame{PPN: start - 1, alloc: env.alloc}
	mustPanic(t, "freeing below the managed range", below.Release)
}

func TestPageTable(t *testing.T) {
	env := newTestEnv(t)
	pt, err := NewPageTable(env.alloc)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	f, _ := env.alloc.Alloc()
	vpn := riscv.VA(0x12345000).Floor()
	if err := pt.Map(vpn, f.PPN, riscv.PTERead|riscv.PTEWrite|riscv.PTEUser); err != nil {
		t.Fatalf("Map: %v", err)
	}
	e, ok := pt.Translate(vpn)
	if !ok {
		t.Fatalf("Translate(%v) failed after Map", vpn)
	}
	if e.PPN() != f.PPN || e.Flags() != riscv.PTEValid|riscv.PTERead|riscv.PTEWrite|riscv.PTEUser {
		t.Errorf("Translate(%v) = %v/%v, wanted %v/VRW-U", vpn, e.PPN(), e.Flags(), f.PPN)
	}
	if got, want := pt.FrameCount(), 3; got != want {
		t.Errorf("FrameCount() = %d, wanted %d", got, want)
	}

	// The hart's MMU must agree with the software walk.
	pa, err := hart.Translate(env.mem, pt.Token(), 0x12345678, riscv.AccessWrite, riscv.User)
	if err != nil {
		t.Fatalf("hart.Translate: %v", err)
	}
	if want := f.PPN.Addr() + 0x678; pa != want {
		t.Errorf("hart.Translate = %v, wanted %v", pa, want)
	}
	if got, ok := pt.TranslateVA(riscv.VA(0x12345678)); !ok || got != pa {
		t.Errorf("TranslateVA = (%v, %t), wanted (%v, true)", got, ok, pa)
	}

	// A borrowed view sees the same mapping.
	view := FromToken(env.mem, pt.Token())
	if e2, ok := view.Translate(vpn); !ok || e2 != e {
		t.Errorf("FromToken view Translate = (%v, %t), wanted (%v, true)", e2, ok, e)
	}
	view.Release()

	mustPanic(t, "double map", func() { pt.Map(vpn, f.PPN, riscv.PTERead) })
	pt.Unmap(vpn)
	if _, ok := pt.Translate(vpn); ok {
		t.Errorf("Translate(%v) succeeded after Unmap", vpn)
	}
	mustPanic(t, "unmap of absent page", func() { pt.Unmap(vpn) })
	mustPanic(t, "unmap with no directory", func() { pt.Unmap(riscv.VA(0x7000_0000_00).Floor()) })

	before := env.alloc.Available()
	pt.Release()
	if got, want := env.alloc.Available(), before+3; got != want {
		t.Errorf("Available() after Release = %d, wanted %d", got, want)
	}
}

func TestPageTableOutOfMemory(t *testing.T) {
	mem := hart.NewPhysMem(hart.DefaultMemBase, 16*riscv.PageSize)
	start := mem.Base().Floor()
	a := NewFrameAllocator(mem, start, start+2)
	pt, err := NewPageTable(a)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	// Two directory levels are needed but only one frame remains.
	err = pt.Map(0, start, riscv.PTERead)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Map = %v, wanted ErrOutOfMemory", err)
	}
}

func TestKernelSpace(t *testing.T) {
	env := newTestEnv(t)
	ks, err := NewKernelSpace(env.alloc, &env.layout)
	if err != nil {
		t.Fatalf("NewKernelSpace: %v", err)
	}
	for _, tc := range []struct {
		name  string
		addr  riscv.PhysAddr
		flags riscv.PTEFlags
	}{
		{"text", env.layout.Stext, riscv.PTEValid | riscv.PTERead | riscv.PTEExecute},
		{"rodata", env.layout.Srodata, riscv.PTEValid | riscv.PTERead},
		{"data", env.layout.Sdata, riscv.PTEValid | riscv.PTERead | riscv.PTEWrite},
		{"bss", env.layout.Ebss - 1, riscv.PTEValid | riscv.PTERead | riscv.PTEWrite},
		{"free memory", env.layout.MemoryEnd - 1, riscv.PTEValid | riscv.PTERead | riscv.PTEWrite},
	} {
		vpn := riscv.VirtPageNum(tc.addr.Floor())
		e, ok := ks.Translate(vpn)
		if !ok {
			t.Errorf("%s: %v not mapped", tc.name, vpn)
			continue
		}
		if e.PPN() != tc.addr.Floor() || e.Flags() != tc.flags {
			t.Errorf("%s: got %v/%v, wanted identity/%v", tc.name, e.PPN(), e.Flags(), tc.flags)
		}
	}
	e, ok := ks.Translate(riscv.VA(Trampoline).Floor())
	if !ok || e.PPN() != env.layout.Strampoline.Floor() || e.Flags() != riscv.PTEValid|riscv.PTERead|riscv.PTEExecute {
		t.Errorf("trampoline = (%v, %v, %t), wanted %v R+X", e.PPN(), e.Flags(), ok, env.layout.Strampoline.Floor())
	}

	m := hart.New(hart.Config{MemSize: testMemSize})
	ks.Activate(m.CPU)
	if m.CPU.CSR.Satp != ks.Token() || m.CPU.Stats.Sfences != 1 {
		t.Errorf("Activate: satp %#x sfences %d, wanted %#x and 1", m.CPU.CSR.Satp, m.CPU.Stats.Sfences, ks.Token())
	}
	if riscv.SatpMode(ks.Token()) != riscv.SatpModeSv39 {
		t.Errorf("token %#x is not Sv39", ks.Token())
	}
}

func TestLayoutPositions(t *testing.T) {
	l, err := NewLayout(hart.DefaultMemBase, hart.DefaultMemSize, DefaultImageSize)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if got, want := TrapContextAddr(0), uint64(0xffff_ffff_ffff_e000); got != want {
		t.Errorf("TrapContextAddr(0) = %#x, wanted %#x", got, want)
	}
	if got, want := TrapContextAddr(2), uint64(0xffff_ffff_ffff_c000); got != want {
		t.Errorf("TrapContextAddr(2) = %#x, wanted %#x", got, want)
	}
	bottom, top := l.KernelStackPosition(1)
	if want := Trampoline - (8192 + 4096); top != want || bottom != want-8192 {
		t.Errorf("KernelStackPosition(1) = [%#x, %#x), wanted [%#x, %#x)", bottom, top, want-8192, want)
	}
	if got, want := l.UserStackTop(0x20000, 1), uint64(0x20000+8192+4096+8192); got != want {
		t.Errorf("UserStackTop(1) = %#x, wanted %#x", got, want)
	}
	if _, err := NewLayout(hart.DefaultMemBase, 1<<20, 3*riscv.PageSize); err == nil {
		t.Errorf("NewLayout accepted a three page image")
	}
	if err := l.SetStackSizes(100, 8192); err == nil {
		t.Errorf("SetStackSizes accepted an unaligned stack")
	}
}

func buildProgram(t *testing.T) ([]byte, *rvasm.Program) {
	t.Helper()
	b := rvasm.NewBuilder()
	b.Label(rvasm.EntryLabel)
	b.La(riscv.A0, "msg")
	b.Syscall(93)
	b.Asciz("msg", "hello, world")
	b.Bss("buf", 3*riscv.PageSize)
	p, err := b.Program()
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	return p.ELF(), p
}

func TestLoadELF(t *testing.T) {
	env := newTestEnv(t)
	image, p := buildProgram(t)
	as, info, err := LoadELF(env.alloc, &env.layout, image)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	if info.Entry != p.Entry {
		t.Errorf("Entry = %#x, wanted %#x", info.Entry, p.Entry)
	}
	dataEnd := p.DataBase + 4*riscv.PageSize
	want := []AreaInfo{
		{Start: rvasm.TextBase, End: rvasm.TextBase + riscv.PageSize, Type: "framed", Perm: "r-xu", Frames: 1},
		{Start: p.DataBase, End: dataEnd, Type: "framed", Perm: "rw-u", Frames: 4},
	}
	if diff := cmp.Diff(want, as.Areas()); diff != "" {
		t.Errorf("Areas() mismatch (-want +got):\n%s", diff)
	}
	if want := dataEnd + riscv.PageSize; info.UserStackBase != want {
		t.Errorf("UserStackBase = %#x, wanted %#x", info.UserStackBase, want)
	}

	um := NewUserMemory(env.mem, as.Token())
	s, err := um.ReadString(p.Symbols["msg"])
	if err != nil || s != "hello, world" {
		t.Errorf("ReadString = (%q, %v), wanted hello, world", s, err)
	}
	insn, err := um.ReadBytes(p.Entry, 4)
	if err != nil {
		t.Fatalf("ReadBytes(entry): %v", err)
	}
	if got := uint32(insn[0]) | uint32(insn[1])<<8 | uint32(insn[2])<<16 | uint32(insn[3])<<24; got != p.Text[0] {
		t.Errorf("first instruction = %#x, wanted %#x", got, p.Text[0])
	}
	if err := um.WriteUint64(p.Entry, 0); !errors.Is(err, ErrBadAddress) {
		t.Errorf("write to text = %v, wanted ErrBadAddress", err)
	}
	if _, err := um.ReadBytes(Trampoline, 8); !errors.Is(err, ErrBadAddress) {
		t.Errorf("read of trampoline = %v, wanted ErrBadAddress", err)
	}

	before := env.alloc.Available()
	as.Release()
	if got, want := env.alloc.Available(), before+5; got < want {
		t.Errorf("Available() after Release = %d, wanted at least %d", got, want)
	}
}

func TestLoadELFRejects(t *testing.T) {
	env := newTestEnv(t)
	image, _ := buildProgram(t)

	wrongMachine := bytes.Clone(image)
	wrongMachine[18] = 0x3e // EM_X86_64
	notExec := bytes.Clone(image)
	notExec[16] = 3 // ET_DYN
	bigEndian := bytes.Clone(image)
	bigEndian[5] = 2

	for _, tc := range []struct {
		name  string
		image []byte
	}{
		{"garbage", []byte("not an elf image")},
		{"wrong machine", wrongMachine},
		{"not executable", notExec},
		{"big endian", bigEndian},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := env.alloc.Available()
			if _, _, err := LoadELF(env.alloc, &env.layout, tc.image); !errors.Is(err, ErrBadELF) {
				t.Errorf("LoadELF = %v, wanted ErrBadELF", err)
			}
			if got := env.alloc.Available(); got != before {
				t.Errorf("LoadELF leaked %d frames", before-got)
			}
		})
	}
}

func TestUserMemoryAcrossPages(t *testing.T) {
	env := newTestEnv(t)
	as, err := newWithTrampoline(env.alloc, &env.layout)
	if err != nil {
		t.Fatalf("newWithTrampoline: %v", err)
	}
	const base = 0x40000
	if err := as.InsertFramedArea(base, base+2*riscv.PageSize, PermR|PermW|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	if err := as.InsertFramedArea(base+riscv.PageSize, base+3*riscv.PageSize, PermR|PermU); err == nil {
		t.Errorf("overlapping InsertFramedArea succeeded")
	}
	um := NewUserMemory(env.mem, as.Token())
	ptr := uint64(base + riscv.PageSize - 3)
	want := []byte("straddle")
	if err := um.WriteBytes(ptr, want); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	buf, err := um.Buffer(ptr, uint64(len(want)), false)
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if got := len(buf.Buffers); got != 2 {
		t.Errorf("buffer spans %d slices, wanted 2", got)
	}
	if got := buf.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %q, wanted %q", got, want)
	}
	if _, err := um.Buffer(base+2*riscv.PageSize-4, 8, false); !errors.Is(err, ErrBadAddress) {
		t.Errorf("Buffer past the area = %v, wanted ErrBadAddress", err)
	}
	if _, err := um.Buffer(0x0000_8000_0000_0000, 1, false); !errors.Is(err, ErrBadAddress) {
		t.Errorf("non-canonical Buffer = %v, wanted ErrBadAddress", err)
	}
	if err := um.WriteInt32(base, -7); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}
	if v, err := um.ReadUint64(base); err != nil || v != 0x00000000fffffff9 {
		t.Errorf("ReadUint64 = (%#x, %v), wanted 0xfffffff9", v, err)
	}

	if !as.RemoveAreaWithStartVPN(riscv.VA(base).Floor()) {
		t.Fatalf("RemoveAreaWithStartVPN found no area")
	}
	if as.RemoveAreaWithStartVPN(riscv.VA(base).Floor()) {
		t.Errorf("RemoveAreaWithStartVPN removed an area twice")
	}
	if _, err := um.ReadBytes(base, 1); !errors.Is(err, ErrBadAddress) {
		t.Errorf("read of removed area = %v, wanted ErrBadAddress", err)
	}
}

func TestForkCopiesEagerly(t *testing.T) {
	env := newTestEnv(t)
	image, p := buildProgram(t)
	parent, _, err := LoadELF(env.alloc, &env.layout, image)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	child, err := Fork(parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if diff := cmp.Diff(parent.Areas(), child.Areas()); diff != "" {
		t.Errorf("child areas differ (-parent +child):\n%s", diff)
	}
	pm := NewUserMemory(env.mem, parent.Token())
	cm := NewUserMemory(env.mem, child.Token())
	ptr := p.Symbols["msg"]
	if err := pm.WriteBytes(ptr, []byte("HELLO")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if s, _ := cm.ReadString(ptr); s != "hello, world" {
		t.Errorf("child sees %q after parent write, wanted hello, world", s)
	}
	if s, _ := pm.ReadString(ptr); s != "HELLO, world" {
		t.Errorf("parent sees %q, wanted HELLO, world", s)
	}

	pe, _ := parent.Translate(riscv.VA(ptr).Floor())
	ce, _ := child.Translate(riscv.VA(ptr).Floor())
	if pe.PPN() == ce.PPN() {
		t.Errorf("parent and child share frame %v", pe.PPN())
	}

	before := env.alloc.Available()
	child.Release()
	parent.Release()
	if got := env.alloc.Available(); got <= before {
		t.Errorf("Release returned no frames: %d <= %d", got, before)
	}
}

func TestReleaseReturnsEveryFrame(t *testing.T) {
	env := newTestEnv(t)
	image, _ := buildProgram(t)
	before := env.alloc.Available()
	as, info, err := LoadELF(env.alloc, &env.layout, image)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	if err := as.InsertFramedArea(info.UserStackBase, info.UserStackBase+env.layout.UserStackSize, PermR|PermW|PermU); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	if err := as.InsertFramedArea(TrapContextAddr(0), TrapContextAddr(0)+riscv.PageSize, PermR|PermW); err != nil {
		t.Fatalf("InsertFramedArea: %v", err)
	}
	child, err := Fork(as)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	child.Release()
	as.Release()
	if got := env.alloc.Available(); got != before {
		t.Errorf("Available() = %d after teardown, wanted %d", got, before)
	}
}
