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
	"fmt"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/log"
)

// SyscallArgument is an argument register of a system call.
type SyscallArgument struct {
	Value uint64
}

// SyscallArguments are the six argument registers a0 through a5.
type SyscallArguments [6]SyscallArgument

// Pointer returns the argument as a user address.
func (a SyscallArgument) Pointer() uint64 {
	return a.Value
}

// Int returns the low 32 bits of the argument as a signed value.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Int64 returns the argument as a signed value.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the argument unchanged.
func (a SyscallArgument) Uint64() uint64 {
	return a.Value
}

// SizeT returns the argument as a length.
func (a SyscallArgument) SizeT() uint64 {
	return a.Value
}

// FD returns the argument as a descriptor or object id. Values that do not
// fit an int map to -1, which is never valid.
func (a SyscallArgument) FD() int {
	if a.Value > uint64(^uint32(0)>>1) {
		return -1
	}
	return int(a.Value)
}

// SyscallFn is the implementation of a system call. It runs on the calling
// thread's kernel stack and returns the value for a0.
type SyscallFn func(t *Thread, args SyscallArguments) int64

// Syscall describes one system call.
type Syscall struct {
	// Name is the name the call is counted and logged under.
	Name string

	// Fn implements the call.
	Fn SyscallFn
}

// syscallTable maps system call numbers to their implementations. It is
// filled by init since the implementations reach back into trap handling.
var syscallTable map[abi.Sysno]Syscall

func init() {
	syscallTable = map[abi.Sysno]Syscall{
		abi.SysDup:             {"dup", sysDup},
		abi.SysClose:           {"close", sysClose},
		abi.SysPipe:            {"pipe", sysPipe},
		abi.SysRead:            {"read", sysRead},
		abi.SysWrite:           {"write", sysWrite},
		abi.SysExit:            {"exit", sysExit},
		abi.SysSleep:           {"sleep", sysSleep},
		abi.SysYield:           {"yield", sysYield},
		abi.SysKill:            {"kill", sysKill},
		abi.SysSigaction:       {"sigaction", sysSigaction},
		abi.SysSigprocmask:     {"sigprocmask", sysSigprocmask},
		abi.SysSigreturn:       {"sigreturn", sysSigreturn},
		abi.SysGetTime:         {"get_time", sysGetTime},
		abi.SysGetpid:          {"getpid", sysGetpid},
		abi.SysFork:            {"fork", sysFork},
		abi.SysExec:            {"exec", sysExec},
		abi.SysWaitpid:         {"waitpid", sysWaitpid},
		abi.SysSpawn:           {"spawn", sysSpawn},
		abi.SysThreadCreate:    {"thread_create", sysThreadCreate},
		abi.SysGettid:          {"gettid", sysGettid},
		abi.SysWaittid:         {"waittid", sysWaittid},
		abi.SysMutexCreate:     {"mutex_create", sysMutexCreate},
		abi.SysMutexLock:       {"mutex_lock", sysMutexLock},
		abi.SysMutexUnlock:     {"mutex_unlock", sysMutexUnlock},
		abi.SysSemaphoreCreate: {"semaphore_create", sysSemaphoreCreate},
		abi.SysSemaphoreUp:     {"semaphore_up", sysSemaphoreUp},
		abi.SysSemaphoreDown:   {"semaphore_down", sysSemaphoreDown},
		abi.SysCondvarCreate:   {"condvar_create", sysCondvarCreate},
		abi.SysCondvarSignal:   {"condvar_signal", sysCondvarSignal},
		abi.SysCondvarWait:     {"condvar_wait", sysCondvarWait},
	}
	for nr, sc := range syscallTable {
		if nr.String() != sc.Name {
			panic(fmt.Sprintf("syscall %d is named %q, wanted %q", nr, sc.Name, nr.String()))
		}
	}
}

// syscall dispatches system call nr for t.
func (t *Thread) syscall(nr abi.Sysno, regs [6]uint64) int64 {
	k := t.k
	sc, ok := syscallTable[nr]
	if !ok {
		k.metrics.syscalls.Increment("unknown")
		k.unknownSyscall.For(uint64(nr)).Warningf("[kernel] pid %d tid %d: unsupported syscall %d", t.pid, t.tid, uint64(nr))
		return abi.Failure
	}
	k.metrics.syscalls.Increment(sc.Name)

	var args SyscallArguments
	for i, r := range regs {
		args[i].Value = r
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("[kernel] pid %d tid %d: %s(%#x, %#x, %#x)", t.pid, t.tid, sc.Name, regs[0], regs[1], regs[2])
	}
	return sc.Fn(t, args)
}
