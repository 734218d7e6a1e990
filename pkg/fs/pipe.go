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
	"rvcore.dev/rvcore/pkg/mm"
)

// PipeSize is the capacity of a pipe in bytes.
const PipeSize = 32

// pipe is the byte ring shared by the two ends of a pipe.
type pipe struct {
	buf  [PipeSize]byte
	head int
	size int

	readers int
	writers int
}

func (p *pipe) availableRead() int {
	return p.size
}

func (p *pipe) availableWrite() int {
	return PipeSize - p.size
}

func (p *pipe) readByte() byte {
	b := p.buf[p.head]
	p.head = (p.head + 1) % PipeSize
	p.size--
	return b
}

func (p *pipe) writeByte(b byte) {
	p.buf[(p.head+p.size)%PipeSize] = b
	p.size++
}

// PipeEnd is one end of an anonymous pipe.
type PipeEnd struct {
	refs
	pipe     *pipe
	readable bool
}

// NewPipe returns the read and write ends of a new pipe, each with one
// reference.
func NewPipe() (r, w *PipeEnd) {
	p := &pipe{readers: 1, writers: 1}
	r = &PipeEnd{pipe: p, readable: true}
	r.refs = refs{count: 1, release: func() { p.readers-- }}
	w = &PipeEnd{pipe: p}
	w.refs = refs{count: 1, release: func() { p.writers-- }}
	return r, w
}

// Readable implements File.Readable.
func (e *PipeEnd) Readable() bool { return e.readable }

// Writable implements File.Writable.
func (e *PipeEnd) Writable() bool { return !e.readable }

// Read implements File.Read. It returns as soon as some data has been read,
// and returns 0 once the pipe is empty and every write end is closed.
func (e *PipeEnd) Read(s Scheduler, dst mm.UserBuffer) int {
	if !e.readable {
		panic("read from pipe write end")
	}
	want := dst.Len()
	out := make([]byte, 0, want)
	for len(out) < want {
		n := e.pipe.availableRead()
		if n == 0 {
			if len(out) > 0 || e.pipe.writers == 0 {
				break
			}
			s.Yield()
			continue
		}
		for ; n > 0 && len(out) < want; n-- {
			out = append(out, e.pipe.readByte())
		}
	}
	return dst.CopyOut(out)
}

// Write implements File.Write. It returns once all of src has been written,
// or early if every read end is closed.
func (e *PipeEnd) Write(s Scheduler, src mm.UserBuffer) int {
	if e.readable {
		panic("write to pipe read end")
	}
	in := src.Bytes()
	done := 0
	for done < len(in) {
		if e.pipe.readers == 0 {
			break
		}
		n := e.pipe.availableWrite()
		if n == 0 {
			s.Yield()
			continue
		}
		for ; n > 0 && done < len(in); n-- {
			e.pipe.writeByte(in[done])
			done++
		}
	}
	return done
}
