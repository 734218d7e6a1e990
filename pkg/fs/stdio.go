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
	"time"

	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
)

// inputPoll bounds how long a read of an empty console holds the host before
// yielding again.
const inputPoll = 5 * time.Millisecond

// Stdin reads the machine console.
type Stdin struct {
	refs
	console *hart.Console
}

// NewStdin returns the console's input side with one reference.
func NewStdin(c *hart.Console) *Stdin {
	return &Stdin{refs: refs{count: 1}, console: c}
}

// Readable implements File.Readable.
func (*Stdin) Readable() bool { return true }

// Writable implements File.Writable.
func (*Stdin) Writable() bool { return false }

// Read implements File.Read. It waits for at least one byte and returns what
// is immediately available after that.
func (s *Stdin) Read(sched Scheduler, dst mm.UserBuffer) int {
	want := dst.Len()
	if want == 0 {
		return 0
	}
	var got []byte
	for len(got) == 0 {
		b, ok, eof := s.console.Getchar()
		if eof {
			return 0
		}
		if !ok {
			s.console.WaitInput(inputPoll)
			sched.Yield()
			continue
		}
		got = append(got, b)
	}
	for len(got) < want {
		b, ok, _ := s.console.Getchar()
		if !ok {
			break
		}
		got = append(got, b)
	}
	return dst.CopyOut(got)
}

// Write implements File.Write.
func (*Stdin) Write(Scheduler, mm.UserBuffer) int {
	panic("write to stdin")
}

// Stdout writes the machine console.
type Stdout struct {
	refs
	console *hart.Console
}

// NewStdout returns the console's output side with one reference.
func NewStdout(c *hart.Console) *Stdout {
	return &Stdout{refs: refs{count: 1}, console: c}
}

// Readable implements File.Readable.
func (*Stdout) Readable() bool { return false }

// Writable implements File.Writable.
func (*Stdout) Writable() bool { return true }

// Read implements File.Read.
func (*Stdout) Read(Scheduler, mm.UserBuffer) int {
	panic("read from stdout")
}

// Write implements File.Write.
func (s *Stdout) Write(_ Scheduler, src mm.UserBuffer) int {
	n := 0
	for _, b := range src.Buffers {
		s.console.Write(b)
		n += len(b)
	}
	return n
}
