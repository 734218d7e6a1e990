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
	"encoding/binary"
	"fmt"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/riscv"
)

// maxUserString bounds ReadString.
const maxUserString = 4096

// UserMemory accesses the memory of a user address space from the kernel.
//
// Every access is checked against the user's page table: the page must be
// mapped, user accessible, and writable for writes. Failures return an error
// wrapping ErrBadAddress rather than faulting.
type UserMemory struct {
	mem *hart.PhysMem
	pt  *PageTable
}

// NewUserMemory returns accessors for the address space selected by token.
func NewUserMemory(mem *hart.PhysMem, token uint64) UserMemory {
	return UserMemory{mem: mem, pt: FromToken(mem, token)}
}

// page returns the bytes of the page containing va, starting at va.
func (u UserMemory) page(va uint64, write bool) ([]byte, error) {
	if !riscv.IsCanonical(va) {
		return nil, fmt.Errorf("%#x: not canonical: %w", va, ErrBadAddress)
	}
	v := riscv.VA(va)
	e, ok := u.pt.Translate(v.Floor())
	if !ok || !e.User() || !e.Readable() || (write && !e.Writable()) {
		return nil, fmt.Errorf("%v: %w", v, ErrBadAddress)
	}
	b, err := u.mem.Slice(e.PPN().Addr(), riscv.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%v: %v: %w", v, err, ErrBadAddress)
	}
	return b[v.PageOffset():], nil
}

// UserBuffer is a user byte range as views of the physical pages backing it.
type UserBuffer struct {
	Buffers [][]byte
}

// Len returns the total length of the buffer.
func (b UserBuffer) Len() int {
	n := 0
	for _, s := range b.Buffers {
		n += len(s)
	}
	return n
}

// CopyOut copies src into the buffer and returns the number of bytes copied.
func (b UserBuffer) CopyOut(src []byte) int {
	n := 0
	for _, s := range b.Buffers {
		if len(src) == 0 {
			break
		}
		c := copy(s, src)
		src = src[c:]
		n += c
	}
	return n
}

// CopyIn copies the buffer into dst and returns the number of bytes copied.
func (b UserBuffer) CopyIn(dst []byte) int {
	n := 0
	for _, s := range b.Buffers {
		if len(dst) == 0 {
			break
		}
		c := copy(dst, s)
		dst = dst[c:]
		n += c
	}
	return n
}

// Bytes returns a copy of the buffer's contents.
func (b UserBuffer) Bytes() []byte {
	out := make([]byte, b.Len())
	b.CopyIn(out)
	return out
}

// Buffer returns views of the user range [ptr, ptr+n). If write is set, every
// page must be writable.
func (u UserMemory) Buffer(ptr, n uint64, write bool) (UserBuffer, error) {
	var buf UserBuffer
	if ptr+n < ptr {
		return buf, fmt.Errorf("range %#x+%#x overflows: %w", ptr, n, ErrBadAddress)
	}
	for n > 0 {
		b, err := u.page(ptr, write)
		if err != nil {
			return UserBuffer{}, err
		}
		if uint64(len(b)) > n {
			b = b[:n]
		}
		buf.Buffers = append(buf.Buffers, b)
		ptr += uint64(len(b))
		n -= uint64(len(b))
	}
	return buf, nil
}

// ReadBytes returns a copy of [ptr, ptr+n).
func (u UserMemory) ReadBytes(ptr, n uint64) ([]byte, error) {
	buf, err := u.Buffer(ptr, n, false)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteBytes copies b to ptr.
func (u UserMemory) WriteBytes(ptr uint64, b []byte) error {
	buf, err := u.Buffer(ptr, uint64(len(b)), true)
	if err != nil {
		return err
	}
	buf.CopyOut(b)
	return nil
}

// ReadString reads a NUL terminated string at ptr.
func (u UserMemory) ReadString(ptr uint64) (string, error) {
	var s []byte
	for len(s) < maxUserString {
		b, err := u.page(ptr, false)
		if err != nil {
			return "", err
		}
		for _, c := range b {
			if c == 0 {
				return string(s), nil
			}
			s = append(s, c)
		}
		ptr += uint64(len(b))
	}
	return "", fmt.Errorf("string at %#x longer than %d bytes: %w", ptr, maxUserString, ErrBadAddress)
}

// ReadUint64 reads a little-endian doubleword at ptr.
func (u UserMemory) ReadUint64(ptr uint64) (uint64, error) {
	b, err := u.ReadBytes(ptr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteUint64 writes a little-endian doubleword at ptr.
func (u UserMemory) WriteUint64(ptr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return u.WriteBytes(ptr, b[:])
}

// WriteInt32 writes a little-endian word at ptr.
func (u UserMemory) WriteInt32(ptr uint64, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return u.WriteBytes(ptr, b[:])
}
