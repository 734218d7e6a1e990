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
	"rvcore.dev/rvcore/pkg/kernel/ksync"
	"rvcore.dev/rvcore/pkg/sync"
)

// lookup returns objs[id], or the zero value if id is out of range.
func lookup[T any](objs []T, id int) (T, bool) {
	var zero T
	if id < 0 || id >= len(objs) {
		return zero, false
	}
	return objs[id], true
}

func (p *Process) mutex(id int) ksync.Mutex {
	return sync.Get(&p.inner, func(s *processState) ksync.Mutex {
		m, _ := lookup(s.mutexes, id)
		return m
	})
}

func (p *Process) semaphore(id int) *ksync.Semaphore {
	return sync.Get(&p.inner, func(s *processState) *ksync.Semaphore {
		sem, _ := lookup(s.semaphores, id)
		return sem
	})
}

func (p *Process) condvar(id int) *ksync.Condvar {
	return sync.Get(&p.inner, func(s *processState) *ksync.Condvar {
		cv, _ := lookup(s.condvars, id)
		return cv
	})
}

// sysMutexCreate implements mutex_create(blocking). A non-zero argument
// makes a mutex that blocks its waiters; otherwise waiters spin by
// yielding.
func sysMutexCreate(t *Thread, args SyscallArguments) int64 {
	var m ksync.Mutex
	if args[0].Uint64() != 0 {
		m = ksync.NewBlockingMutex(t.k.sched)
	} else {
		m = ksync.NewSpinMutex(t.k.sched)
	}
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		s.mutexes = append(s.mutexes, m)
		return int64(len(s.mutexes) - 1)
	})
}

// sysMutexLock implements mutex_lock(id).
func sysMutexLock(t *Thread, args SyscallArguments) int64 {
	m := t.process().mutex(args[0].FD())
	if m == nil {
		return abi.Failure
	}
	m.Lock()
	return 0
}

// sysMutexUnlock implements mutex_unlock(id).
func sysMutexUnlock(t *Thread, args SyscallArguments) int64 {
	m := t.process().mutex(args[0].FD())
	if m == nil {
		return abi.Failure
	}
	m.Unlock()
	return 0
}

// sysSemaphoreCreate implements semaphore_create(count).
func sysSemaphoreCreate(t *Thread, args SyscallArguments) int64 {
	sem := ksync.NewSemaphore(t.k.sched, int(args[0].Int()))
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		s.semaphores = append(s.semaphores, sem)
		return int64(len(s.semaphores) - 1)
	})
}

// sysSemaphoreUp implements semaphore_up(id).
func sysSemaphoreUp(t *Thread, args SyscallArguments) int64 {
	sem := t.process().semaphore(args[0].FD())
	if sem == nil {
		return abi.Failure
	}
	sem.Up()
	return 0
}

// sysSemaphoreDown implements semaphore_down(id).
func sysSemaphoreDown(t *Thread, args SyscallArguments) int64 {
	sem := t.process().semaphore(args[0].FD())
	if sem == nil {
		return abi.Failure
	}
	sem.Down()
	return 0
}

// sysCondvarCreate implements condvar_create(). Its argument is ignored.
func sysCondvarCreate(t *Thread, _ SyscallArguments) int64 {
	cv := ksync.NewCondvar(t.k.sched)
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		s.condvars = append(s.condvars, cv)
		return int64(len(s.condvars) - 1)
	})
}

// sysCondvarSignal implements condvar_signal(id).
func sysCondvarSignal(t *Thread, args SyscallArguments) int64 {
	cv := t.process().condvar(args[0].FD())
	if cv == nil {
		return abi.Failure
	}
	cv.Signal()
	return 0
}

// sysCondvarWait implements condvar_wait(cv, mutex).
func sysCondvarWait(t *Thread, args SyscallArguments) int64 {
	p := t.process()
	cv, m := p.condvar(args[0].FD()), p.mutex(args[1].FD())
	if cv == nil || m == nil {
		return abi.Failure
	}
	cv.Wait(m)
	return 0
}
