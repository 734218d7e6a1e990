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


package kernel

import "rvcore.dev/rvcore/pkg/fs"

// fdTable maps file descriptors to files. Each installed file holds one
// reference.
type fdTable struct {
	files []fs.File
}

// newFDTable returns a table with stdin, stdout and stderr open on the
// console.
func newFDTable(stdin, stdout fs.File) fdTable {
	stdin.IncRef()
	stdout.IncRef()
	stdout.IncRef()
	return fdTable{files: []fs.File{stdin, stdout, stdout}}
}

// install puts f in the lowest free slot and returns its descriptor. The
// table takes over the caller's reference.
func (t *fdTable) install(f fs.File) int {
	for fd, g := range t.files {
		if g == nil {
			t.files[fd] = f
			return fd
		}
	}
	t.files = append(t.files, f)
	return len(t.files) - 1
}

// get returns the file at fd, or nil.
func (t *fdTable) get(fd int) fs.File {
	if fd < 0 || fd >= len(t.files) {
		return nil
	}
	return t.files[fd]
}

// remove empties slot fd and returns the file that was there, or nil. The
// caller inherits the table's reference.
func (t *fdTable) remove(fd int) fs.File {
	f := t.get(fd)
	if f != nil {
		t.files[fd] = nil
	}
	return f
}

// fork returns a copy of the table sharing every file.
func (t *fdTable) fork() fdTable {
	files := make([]fs.File, len(t.files))
	for fd, f := range t.files {
		if f != nil {
			f.IncRef()
			files[fd] = f
		}
	}
	return fdTable{files: files}
}

// clear closes every descriptor.
func (t *fdTable) clear() {
	for _, f := range t.files {
		if f != nil {
			f.DecRef()
		}
	}
	t.files = nil
}
