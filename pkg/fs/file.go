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

// Package fs provides the files a process can hold in its descriptor table:
// the console and anonymous pipes.
package fs

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/mm"
)

// Scheduler lets a file give up the hart while it waits.
type Scheduler interface {
	// Yield moves the calling thread to the back of the ready queue.
	Yield()
}

// File is an open file.
//
// A File may be shared by several descriptor tables; each reference is
// counted, and the last DecRef releases it.
type File interface {
	// Readable returns whether the file was opened for reading.
	Readable() bool

	// Writable returns whether the file was opened for writing.
	Writable() bool

	// Read copies data into dst, yielding through s while none is
	// available. It returns the number of bytes read; zero means end of
	// file.
	Read(s Scheduler, dst mm.UserBuffer) int

	// Write copies src out, yielding through s while the file cannot take
	// more. It returns the number of bytes written.
	Write(s Scheduler, src mm.UserBuffer) int

	// IncRef takes a reference.
	IncRef()

	// DecRef drops a reference.
	DecRef()
}

// refs is an embeddable reference count. release runs when the last
// reference is dropped.
type refs struct {
	count   int
	release func()
}

func (r *refs) IncRef() {
	if r.count <= 0 {
		panic(fmt.Sprintf("IncRef on released file (count %d)", r.count))
	}
	r.count++
}

func (r *refs) DecRef() {
	r.count--
	switch {
	case r.count == 0:
		if r.release != nil {
			r.release()
		}
	case r.count < 0:
		panic("DecRef of released file")
	}
}
