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
	"math"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
)

// sysThreadCreate implements thread_create(entry, arg): a new thread of the
// calling process starting at entry with a0 = arg on its own user stack.
func sysThreadCreate(t *Thread, args SyscallArguments) int64 {
	entry, arg := args[0].Pointer(), args[1].Uint64()
	k := t.k
	p := t.process()
	var (
		space      *mm.AddressSpace
		ustackBase uint64
		tid        int
	)
	p.inner.With(func(s *processState) {
		space, ustackBase = s.space, s.ustackBase
		tid = s.tids.alloc()
	})
	freeTID := func() {
		p.inner.With(func(s *processState) {
			s.tids.free(tid)
		})
	}

	trapPPN, err := k.mapUserResource(space, ustackBase, tid)
	if err != nil {
		freeTID()
		return abi.Failure
	}
	nt, err := k.newThread(p.pid, tid, trapPPN)
	if err != nil {
		k.unmapUserResource(space, ustackBase, tid)
		freeTID()
		return abi.Failure
	}
	tc := ring0.NewAppContext(entry, k.layout.UserStackTop(ustackBase, tid), k.kspace.Token(), nt.kstack.top, uint64(k.layout.TrapHandler))
	tc.SetReg(riscv.A0, arg)
	nt.trapFrame().Store(&tc)

	p.inner.With(func(s *processState) {
		s.addThread(nt)
	})
	k.sched.add(nt)
	return int64(tid)
}

// sysGettid implements gettid().
func sysGettid(t *Thread, _ SyscallArguments) int64 {
	return int64(t.tid)
}

// sysWaittid implements waittid(tid). It returns the exit code of thread tid
// and frees its slot, -1 if there is no such thread or it is the caller, and
// -2 if it is still running.
func sysWaittid(t *Thread, args SyscallArguments) int64 {
	tid := args[0].FD()
	if tid == t.tid {
		return abi.Failure
	}
	p := t.process()
	target := p.thread(tid)
	if target == nil {
		return abi.Failure
	}
	code, exited := target.exitStatus()
	if !exited {
		return abi.TryAgain
	}
	p.inner.With(func(s *processState) {
		s.threads[tid] = nil
		s.tids.free(tid)
	})
	t.k.freeKernelStack(target.kstack)
	return int64(code)
}

// sysYield implements yield().
func sysYield(t *Thread, _ SyscallArguments) int64 {
	t.k.sched.Yield()
	return 0
}

// sysGetTime implements get_time(), in milliseconds since boot.
func sysGetTime(t *Thread, _ SyscallArguments) int64 {
	return int64(t.k.machine.Timer.Milliseconds())
}

// sysSleep implements sleep(ms). The thread blocks until the first tick at
// or after the deadline.
func sysSleep(t *Thread, args SyscallArguments) int64 {
	k := t.k
	k.timers.Add(sleepDeadline(k.machine.Timer.Milliseconds(), args[0].Uint64()), t.key)
	k.sched.Block()
	return 0
}

// sleepDeadline returns now+ms, saturated so that a huge sleep never wraps
// into the past.
func sleepDeadline(now, ms uint64) uint64 {
	if ms > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + ms
}
