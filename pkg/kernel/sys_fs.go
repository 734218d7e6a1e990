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

import (
	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/fs"
	"rvcore.dev/rvcore/pkg/sync"
)

// getFile returns the file at fd with a reference held for the caller, or
// nil.
func (p *Process) getFile(fd int) fs.File {
	return sync.Get(&p.inner, func(s *processState) fs.File {
		f := s.fds.get(fd)
		if f != nil {
			f.IncRef()
		}
		return f
	})
}

// sysRead implements read(fd, buf, len).
func sysRead(t *Thread, args SyscallArguments) int64 {
	fd, ptr, n := args[0].FD(), args[1].Pointer(), args[2].SizeT()
	p := t.process()
	f := p.getFile(fd)
	if f == nil {
		return abi.Failure
	}
	defer f.DecRef()
	if !f.Readable() {
		return abi.Failure
	}
	buf, err := p.userMemory().Buffer(ptr, n, true)
	if err != nil {
		return abi.Failure
	}
	return int64(f.Read(t.k.sched, buf))
}

// sysWrite implements write(fd, buf, len).
func sysWrite(t *Thread, args SyscallArguments) int64 {
	fd, ptr, n := args[0].FD(), args[1].Pointer(), args[2].SizeT()
	p := t.process()
	f := p.getFile(fd)
	if f == nil {
		return abi.Failure
	}
	defer f.DecRef()
	if !f.Writable() {
		return abi.Failure
	}
	buf, err := p.userMemory().Buffer(ptr, n, false)
	if err != nil {
		return abi.Failure
	}
	return int64(f.Write(t.k.sched, buf))
}

// sysClose implements close(fd).
func sysClose(t *Thread, args SyscallArguments) int64 {
	fd := args[0].FD()
	p := t.process()
	f := sync.Get(&p.inner, func(s *processState) fs.File {
		return s.fds.remove(fd)
	})
	if f == nil {
		return abi.Failure
	}
	f.DecRef()
	return 0
}

// sysDup implements dup(fd).
func sysDup(t *Thread, args SyscallArguments) int64 {
	fd := args[0].FD()
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		f := s.fds.get(fd)
		if f == nil {
			return abi.Failure
		}
		f.IncRef()
		return int64(s.fds.install(f))
	})
}

// sysPipe implements pipe(fds): the read and write descriptors are stored
// as two 64-bit words at fds.
func sysPipe(t *Thread, args SyscallArguments) int64 {
	ptr := args[0].Pointer()
	p := t.process()
	mem := p.userMemory()
	r, w := fs.NewPipe()
	var rfd, wfd int
	p.inner.With(func(s *processState) {
		rfd = s.fds.install(r)
		wfd = s.fds.install(w)
	})
	if mem.WriteUint64(ptr, uint64(rfd)) != nil || mem.WriteUint64(ptr+8, uint64(wfd)) != nil {
		p.inner.With(func(s *processState) {
			s.fds.remove(rfd)
			s.fds.remove(wfd)
		})
		r.DecRef()
		w.DecRef()
		return abi.Failure
	}
	return 0
}
