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

	"rvcore.dev/rvcore/pkg/ilist"
	"rvcore.dev/rvcore/pkg/kernel/ksync"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/sync"
)

// kernelStack is a kernel stack mapped in the kernel address space.
type kernelStack struct {
	id     int
	bottom uint64
	top    uint64
}

// allocKernelStack maps a fresh kernel stack.
func (k *Kernel) allocKernelStack() (kernelStack, error) {
	id := sync.Get(&k.kstacks, func(a *idAllocator) int {
		return a.alloc()
	})
	bottom, top := k.layout.KernelStackPosition(id)
	if err := k.kspace.InsertFramedArea(bottom, top, mm.PermR|mm.PermW); err != nil {
		k.kstacks.With(func(a *idAllocator) {
			a.free(id)
		})
		return kernelStack{}, fmt.Errorf("mapping kernel stack %d: %w", id, err)
	}
	return kernelStack{id: id, bottom: bottom, top: top}, nil
}

// freeKernelStack unmaps ks and returns its id.
func (k *Kernel) freeKernelStack(ks kernelStack) {
	if !k.kspace.RemoveAreaWithStartVPN(riscv.VA(ks.bottom).Floor()) {
		panic(fmt.Sprintf("kernel stack %d at %#x is not mapped", ks.id, ks.bottom))
	}
	k.kstacks.With(func(a *idAllocator) {
		a.free(ks.id)
	})
}

// mapUserResource maps the user stack and trap context page of thread tid
// into space, and returns the frame holding the trap context.
func (k *Kernel) mapUserResource(space *mm.AddressSpace, ustackBase uint64, tid int) (riscv.PhysPageNum, error) {
	bottom := k.layout.UserStackBottom(ustackBase, tid)
	top := k.layout.UserStackTop(ustackBase, tid)
	if err := space.InsertFramedArea(bottom, top, mm.PermR|mm.PermW|mm.PermU); err != nil {
		return 0, fmt.Errorf("mapping user stack of thread %d: %w", tid, err)
	}
	tc := mm.TrapContextAddr(tid)
	if err := space.InsertFramedArea(tc, tc+riscv.PageSize, mm.PermR|mm.PermW); err != nil {
		space.RemoveAreaWithStartVPN(riscv.VA(bottom).Floor())
		return 0, fmt.Errorf("mapping trap context of thread %d: %w", tid, err)
	}
	return trapContextFrame(space, tid), nil
}

// unmapUserResource undoes mapUserResource.
func (k *Kernel) unmapUserResource(space *mm.AddressSpace, ustackBase uint64, tid int) {
	space.RemoveAreaWithStartVPN(riscv.VA(k.layout.UserStackBottom(ustackBase, tid)).Floor())
	space.RemoveAreaWithStartVPN(riscv.VA(mm.TrapContextAddr(tid)).Floor())
}

// trapContextFrame returns the frame backing thread tid's trap context.
func trapContextFrame(space *mm.AddressSpace, tid int) riscv.PhysPageNum {
	pte, ok := space.Translate(riscv.VA(mm.TrapContextAddr(tid)).Floor())
	if !ok {
		panic(fmt.Sprintf("trap context of thread %d is not mapped", tid))
	}
	return pte.PPN()
}

type threadState struct {
	// trapPPN is the frame of the trap context page, through which the
	// kernel reads and writes the thread's user registers.
	trapPPN riscv.PhysPageNum

	exited   bool
	exitCode int
}

// Thread is a thread control block.
//
// A thread refers to its process weakly, by pid. The process owns its
// threads.
type Thread struct {
	ilist.Entry[Thread]

	k   *Kernel
	key ksync.Key
	tid int
	pid int

	kstack kernelStack
	ctx    *ring0.TaskContext

	// status is protected by Scheduler.state.
	status ThreadStatus

	inner sync.Cell[threadState]
}

// newThread creates thread tid of process pid with a fresh kernel stack. Its
// user stack and trap context must already be mapped; trapPPN is the trap
// context frame.
func (k *Kernel) newThread(pid, tid int, trapPPN riscv.PhysPageNum) (*Thread, error) {
	ks, err := k.allocKernelStack()
	if err != nil {
		return nil, err
	}
	t := &Thread{
		k:      k,
		key:    k.sched.newKey(),
		tid:    tid,
		pid:    pid,
		kstack: ks,
	}
	t.inner.Init(fmt.Sprintf("thread %d:%d", pid, tid), threadState{trapPPN: trapPPN})
	t.ctx = ring0.NewTaskContext(uint64(k.layout.TrapReturn), ks.top, t.run)
	return t, nil
}

// TID returns the thread id, unique within the process.
func (t *Thread) TID() int {
	return t.tid
}

// Key returns the kernel-wide thread key.
func (t *Thread) Key() ksync.Key {
	return t.key
}

// process returns the owning process. A running thread's process is always
// registered.
func (t *Thread) process() *Process {
	p := t.k.process(t.pid)
	if p == nil {
		panic(fmt.Sprintf("thread %d of reaped pid %d is running", t.tid, t.pid))
	}
	return p
}

func (t *Thread) trapPPN() riscv.PhysPageNum {
	return sync.Get(&t.inner, func(s *threadState) riscv.PhysPageNum {
		return s.trapPPN
	})
}

// trapFrame returns the thread's trap context page.
func (t *Thread) trapFrame() ring0.TrapFrame {
	return ring0.TrapFrame(t.k.machine.Mem.Page(t.trapPPN()))
}

func (t *Thread) setTrapFrame(ppn riscv.PhysPageNum) {
	t.inner.With(func(s *threadState) {
		s.trapPPN = ppn
	})
}

// markExited records code as the exit code unless t exited before.
func (t *Thread) markExited(code int) {
	t.inner.With(func(s *threadState) {
		if !s.exited {
			s.exited = true
			s.exitCode = code
		}
	})
}

// exitStatus returns the exit code, if t has exited.
func (t *Thread) exitStatus() (code int, exited bool) {
	t.inner.With(func(s *threadState) {
		code, exited = s.exitCode, s.exited
	})
	return code, exited
}
