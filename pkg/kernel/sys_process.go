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
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/sync"
)

// maxArgs bounds the argument vector exec and spawn accept.
const maxArgs = 64

// readArgs reads the application path and its NULL terminated argument
// vector. A NULL vector means the path alone.
func readArgs(mem mm.UserMemory, pathPtr, argvPtr uint64) (path string, args []string, err error) {
	if path, err = mem.ReadString(pathPtr); err != nil {
		return "", nil, err
	}
	if argvPtr == 0 {
		return path, []string{path}, nil
	}
	for i := uint64(0); i < maxArgs; i++ {
		ptr, err := mem.ReadUint64(argvPtr + i*8)
		if err != nil {
			return "", nil, err
		}
		if ptr == 0 {
			return path, args, nil
		}
		arg, err := mem.ReadString(ptr)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
	}
	return "", nil, mm.ErrBadAddress
}

// sysExit implements exit(code).
func sysExit(t *Thread, args SyscallArguments) int64 {
	t.exit(int(args[0].Int()))
	panic("exit returned")
}

// sysGetpid implements getpid().
func sysGetpid(t *Thread, _ SyscallArguments) int64 {
	return int64(t.pid)
}

// sysFork implements fork(). The child sees 0.
func sysFork(t *Thread, _ SyscallArguments) int64 {
	p := t.process()
	child, err := p.fork()
	if err != nil {
		log.Debugf("[kernel] pid %d: fork: %v", p.pid, err)
		return abi.Failure
	}
	return int64(child.pid)
}

// sysExec implements exec(path, argv). On success it returns argc, which
// leaves a0 as the new image expects it.
func sysExec(t *Thread, args SyscallArguments) int64 {
	p := t.process()
	path, argv, err := readArgs(p.userMemory(), args[0].Pointer(), args[1].Pointer())
	if err != nil {
		return abi.Failure
	}
	image, err := t.k.apps.Get(path)
	if err != nil {
		log.Debugf("[kernel] pid %d: exec: %v", p.pid, err)
		return abi.Failure
	}
	if err := p.exec(t, image, argv); err != nil {
		log.Debugf("[kernel] pid %d: exec %q: %v", p.pid, path, err)
		return abi.Failure
	}
	return int64(len(argv))
}

// sysSpawn implements spawn(path, argv): a new child running path, without
// copying the caller.
func sysSpawn(t *Thread, args SyscallArguments) int64 {
	p := t.process()
	path, argv, err := readArgs(p.userMemory(), args[0].Pointer(), args[1].Pointer())
	if err != nil {
		return abi.Failure
	}
	image, err := t.k.apps.Get(path)
	if err != nil {
		return abi.Failure
	}
	child, err := t.k.newProcess(image, argv, p)
	if err != nil {
		log.Debugf("[kernel] pid %d: spawn %q: %v", p.pid, path, err)
		return abi.Failure
	}
	return int64(child.pid)
}

// sysWaitpid implements waitpid(pid, &code). pid -1 matches any child. It
// returns -1 if no child matches and -2 if none of the matches has exited.
func sysWaitpid(t *Thread, args SyscallArguments) int64 {
	pid, codePtr := args[0].Int64(), args[1].Pointer()
	p := t.process()
	var (
		found  bool
		zombie *Process
	)
	p.inner.With(func(s *processState) {
		for _, c := range s.children {
			if pid != -1 && int64(c.pid) != pid {
				continue
			}
			found = true
			if c.isZombie() {
				zombie = c
				return
			}
		}
	})
	if !found {
		return abi.Failure
	}
	if zombie == nil {
		return abi.TryAgain
	}
	// The zombie stays a child until its exit code is delivered.
	code, _ := zombie.ExitCode()
	if codePtr != 0 {
		if err := p.userMemory().WriteInt32(codePtr, int32(code)); err != nil {
			return abi.Failure
		}
	}
	if !p.removeChild(zombie) {
		return abi.TryAgain
	}
	t.k.reap(zombie)
	return int64(zombie.pid)
}

// removeChild unlinks c from p. It returns false if another thread of p
// already reaped c.
func (p *Process) removeChild(c *Process) bool {
	return sync.Get(&p.inner, func(s *processState) bool {
		for i, sc := range s.children {
			if sc == c {
				s.children = append(s.children[:i], s.children[i+1:]...)
				return true
			}
		}
		return false
	})
}
