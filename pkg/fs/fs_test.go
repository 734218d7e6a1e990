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

package fs

import (
	"bytes"
	"testing"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
)

// yielder runs onYield every time a file yields.
type yielder struct {
	yields  int
	onYield func()
}

func (y *yielder) Yield() {
	y.yields++
	if y.onYield != nil {
		y.onYield()
	}
}

// buffer returns a user buffer split into pieces of the given sizes.
func buffer(sizes ...int) mm.UserBuffer {
	var b mm.UserBuffer
	for _, n := range sizes {
		b.Buffers = append(b.Buffers, make([]byte, n))
	}
	return b
}

func bufferOf(s string) mm.UserBuffer {
	return mm.UserBuffer{Buffers: [][]byte{[]byte(s)}}
}

func TestStdout(t *testing.T) {
	var out bytes.Buffer
	f := NewStdout(hart.NewConsole(&out))
	if f.Readable() || !f.Writable() {
		t.Errorf("stdout permissions wrong")
	}
	src := mm.UserBuffer{Buffers: [][]byte{[]byte("hello, "), []byte("world\n")}}
	if n := f.Write(&yielder{}, src); n != 13 {
		t.Errorf("Write = %d, wanted 13", n)
	}
	if got := out.String(); got != "hello, world\n" {
		t.Errorf("console got %q", got)
	}
}

func TestStdinWaitsForInput(t *testing.T) {
	c := hart.NewConsole(nil)
	f := NewStdin(c)
	y := &yielder{}
	y.onYield = func() {
		if y.yields == 3 {
			c.Feed([]byte("ab"))
		}
	}
	dst := buffer(1, 4)
	if n := f.Read(y, dst); n != 2 {
		t.Fatalf("Read = %d, wanted 2", n)
	}
	if y.yields != 3 {
		t.Errorf("yielded %d times, wanted 3", y.yields)
	}
	if got := string(dst.Bytes()[:2]); got != "ab" {
		t.Errorf("read %q, wanted %q", got, "ab")
	}

	c.CloseInput()
	if n := f.Read(y, buffer(1)); n != 0 {
		t.Errorf("Read at EOF = %d, wanted 0", n)
	}
}

func TestPipeTransfer(t *testing.T) {
	r, w := NewPipe()
	if !r.Readable() || r.Writable() || w.Readable() || !w.Writable() {
		t.Fatalf("pipe end permissions wrong")
	}
	msg := bytes.Repeat([]byte("0123456789"), 10)

	// The writer fills the ring and yields; each yield lets the reader
	// drain it.
	var got []byte
	y := &yielder{}
	y.onYield = func() {
		dst := buffer(PipeSize)
		n := r.Read(&yielder{}, dst)
		got = append(got, dst.Bytes()[:n]...)
	}
	if n := w.Write(y, mm.UserBuffer{Buffers: [][]byte{msg}}); n != len(msg) {
		t.Fatalf("Write = %d, wanted %d", n, len(msg))
	}
	w.DecRef()
	for {
		dst := buffer(7, 9)
		n := r.Read(&yielder{}, dst)
		if n == 0 {
			break
		}
		got = append(got, dst.Bytes()[:n]...)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("read %q, wanted %q", got, msg)
	}
	if y.yields != len(msg)/PipeSize {
		t.Errorf("writer yielded %d times, wanted %d", y.yields, len(msg)/PipeSize)
	}
}

func TestPipeReadReturnsPartial(t *testing.T) {
	r, w := NewPipe()
	w.Write(&yielder{}, bufferOf("abc"))
	dst := buffer(10)
	if n := r.Read(&yielder{}, dst); n != 3 {
		t.Errorf("Read = %d, wanted 3", n)
	}
}

func TestPipeClosedEnds(t *testing.T) {
	r, w := NewPipe()
	w.IncRef()
	w.DecRef()

	// A write end is still open: the reader must yield.
	y := &yielder{}
	y.onYield = func() { w.DecRef() }
	if n := r.Read(y, buffer(4)); n != 0 || y.yields != 1 {
		t.Errorf("Read = %d after %d yields, wanted 0 after 1", n, y.yields)
	}

	r2, w2 := NewPipe()
	r2.DecRef()
	if n := w2.Write(&yielder{}, bufferOf("lost")); n != 0 {
		t.Errorf("Write with no reader = %d, wanted 0", n)
	}
}

func TestRefsPanics(t *testing.T) {
	_, w := NewPipe()
	w.DecRef()
	defer func() {
		if recover() == nil {
			t.Errorf("IncRef after release did not panic")
		}
	}()
	w.IncRef()
}
