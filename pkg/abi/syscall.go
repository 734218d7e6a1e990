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

// Package abi defines the user/kernel interface: system call numbers, signal
// numbers and sets, and the negative values system calls return on failure.
//
// A system call is made with ecall; a7 holds the number, a0 through a5 the
// arguments, and the result is returned in a0.
package abi

import "fmt"

// Sysno is a system call number.
type Sysno uint64

// System call numbers.
const (
	SysDup             Sysno = 24
	SysClose           Sysno = 57
	SysPipe            Sysno = 59
	SysRead            Sysno = 63
	SysWrite           Sysno = 64
	SysExit            Sysno = 93
	SysSleep           Sysno = 101
	SysYield           Sysno = 124
	SysKill            Sysno = 129
	SysSigaction       Sysno = 134
	SysSigprocmask     Sysno = 135
	SysSigreturn       Sysno = 139
	SysGetTime         Sysno = 169
	SysGetpid          Sysno = 172
	SysFork            Sysno = 220
	SysExec            Sysno = 221
	SysWaitpid         Sysno = 260
	SysSpawn           Sysno = 400
	SysThreadCreate    Sysno = 1000
	SysGettid          Sysno = 1001
	SysWaittid         Sysno = 1002
	SysMutexCreate     Sysno = 1010
	SysMutexLock       Sysno = 1011
	SysMutexUnlock     Sysno = 1012
	SysSemaphoreCreate Sysno = 1020
	SysSemaphoreUp     Sysno = 1021
	SysSemaphoreDown   Sysno = 1022
	SysCondvarCreate   Sysno = 1030
	SysCondvarSignal   Sysno = 1031
	SysCondvarWait     Sysno = 1032
)

var sysnoNames = map[Sysno]string{
	SysDup:             "dup",
	SysClose:           "close",
	SysPipe:            "pipe",
	SysRead:            "read",
	SysWrite:           "write",
	SysExit:            "exit",
	SysSleep:           "sleep",
	SysYield:           "yield",
	SysKill:            "kill",
	SysSigaction:       "sigaction",
	SysSigprocmask:     "sigprocmask",
	SysSigreturn:       "sigreturn",
	SysGetTime:         "get_time",
	SysGetpid:          "getpid",
	SysFork:            "fork",
	SysExec:            "exec",
	SysWaitpid:         "waitpid",
	SysSpawn:           "spawn",
	SysThreadCreate:    "thread_create",
	SysGettid:          "gettid",
	SysWaittid:         "waittid",
	SysMutexCreate:     "mutex_create",
	SysMutexLock:       "mutex_lock",
	SysMutexUnlock:     "mutex_unlock",
	SysSemaphoreCreate: "semaphore_create",
	SysSemaphoreUp:     "semaphore_up",
	SysSemaphoreDown:   "semaphore_down",
	SysCondvarCreate:   "condvar_create",
	SysCondvarSignal:   "condvar_signal",
	SysCondvarWait:     "condvar_wait",
}

// String implements fmt.Stringer.
func (s Sysno) String() string {
	if n, ok := sysnoNames[s]; ok {
		return n
	}
	return fmt.Sprintf("sys_%d", uint64(s))
}

// Known returns whether s is a system call the kernel implements.
func (s Sysno) Known() bool {
	_, ok := sysnoNames[s]
	return ok
}

// Sysnos returns every system call number.
func Sysnos() []Sysno {
	nos := make([]Sysno, 0, len(sysnoNames))
	for s := range sysnoNames {
		nos = append(nos, s)
	}
	return nos
}

// Failure returns of system calls, as signed values of a0.
const (
	// Failure is the generic failure: bad argument, no such object, no
	// such child.
	Failure = -1

	// TryAgain reports that the operation may succeed later, e.g. waiting
	// for a child that has not exited yet.
	TryAgain = -2
)

// FD numbers every process starts with.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)
