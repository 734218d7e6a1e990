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
	"errors"
	"fmt"

	"rvcore.dev/rvcore/pkg/kernel/ksync"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/sync"
)

// errMultiThreaded is returned by fork and exec in a process with more than
// one thread.
var errMultiThreaded = errors.New("process has more than one thread")

// noParent is the parent pid of the init process.
const noParent = -1

type processState struct {
	space *mm.AddressSpace

	// ustackBase is where thread stacks start in space.
	ustackBase uint64

	zombie   bool
	exitCode int

	// parent is a weak reference. children are owned.
	parent   int
	children []*Process

	fds fdTable

	// tids allocates the slots of threads; a slot is reused once the
	// thread in it has been waited for.
	tids    idAllocator
	threads []*Thread

	mutexes    []ksync.Mutex
	semaphores []*ksync.Semaphore
	condvars   []*ksync.Condvar

	sig signalState
}

// Process is a process control block.
type Process struct {
	k   *Kernel
	pid int

	inner sync.Cell[processState]
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// ExitCode returns the exit code of a zombie process.
func (p *Process) ExitCode() (code int, zombie bool) {
	p.inner.With(func(s *processState) {
		code, zombie = s.exitCode, s.zombie
	})
	return code, zombie
}

func (p *Process) isZombie() bool {
	return sync.Get(&p.inner, func(s *processState) bool {
		return s.zombie
	})
}

// userMemory returns accessors for the process's address space.
func (p *Process) userMemory() mm.UserMemory {
	token := sync.Get(&p.inner, func(s *processState) uint64 {
		return s.space.Token()
	})
	return mm.NewUserMemory(p.k.machine.Mem, token)
}

func (p *Process) token() uint64 {
	return sync.Get(&p.inner, func(s *processState) uint64 {
		return s.space.Token()
	})
}

// Space returns the process's address space.
func (p *Process) Space() *mm.AddressSpace {
	return sync.Get(&p.inner, func(s *processState) *mm.AddressSpace {
		return s.space
	})
}

// threadList returns the threads occupying a slot.
func (p *Process) threadList() []*Thread {
	return sync.Get(&p.inner, func(s *processState) []*Thread {
		var ts []*Thread
		for _, t := range s.threads {
			if t != nil {
				ts = append(ts, t)
			}
		}
		return ts
	})
}

// thread returns thread tid, or nil.
func (p *Process) thread(tid int) *Thread {
	return sync.Get(&p.inner, func(s *processState) *Thread {
		if tid < 0 || tid >= len(s.threads) {
			return nil
		}
		return s.threads[tid]
	})
}

// addThread puts t in its slot.
func (s *processState) addThread(t *Thread) {
	for len(s.threads) <= t.tid {
		s.threads = append(s.threads, nil)
	}
	if s.threads[t.tid] != nil {
		panic(fmt.Sprintf("thread slot %d is taken", t.tid))
	}
	s.threads[t.tid] = t
}

// threadCount returns the number of occupied thread slots.
func (s *processState) threadCount() int {
	n := 0
	for _, t := range s.threads {
		if t != nil {
			n++
		}
	}
	return n
}

func newProcessState(space *mm.AddressSpace, ustackBase uint64, parent int) processState {
	return processState{
		space:      space,
		ustackBase: ustackBase,
		parent:     parent,
		tids:       idAllocator{name: "tid"},
		sig:        newSignalState(),
	}
}

// register adds p to the process table and its parent's children.
func (k *Kernel) register(p *Process, parent *Process) {
	k.procs.With(func(t *processTable) {
		t.byPID[p.pid] = p
	})
	if parent != nil {
		parent.inner.With(func(s *processState) {
			s.children = append(s.children, p)
		})
	}
}

func (k *Kernel) allocPID() int {
	return sync.Get(&k.procs, func(t *processTable) int {
		return t.pids.alloc()
	})
}

func (k *Kernel) freePID(pid int) {
	k.procs.With(func(t *processTable) {
		t.pids.free(pid)
	})
}

// pushArgs copies args onto the user stack below sp: the NULL terminated
// pointer array first, then the strings, then aligns sp. It returns the new
// sp and the address of the pointer array.
func pushArgs(mem mm.UserMemory, sp uint64, args []string) (newSP, argv uint64, err error) {
	sp -= uint64(len(args)+1) * 8
	argv = sp
	if err := mem.WriteUint64(argv+uint64(len(args))*8, 0); err != nil {
		return 0, 0, err
	}
	for i, arg := range args {
		sp -= uint64(len(arg)) + 1
		if err := mem.WriteUint64(argv+uint64(i)*8, sp); err != nil {
			return 0, 0, err
		}
		if err := mem.WriteBytes(sp, append([]byte(arg), 0)); err != nil {
			return 0, 0, err
		}
	}
	sp -= sp % 8
	return sp, argv, nil
}

// startUser prepares the trap context of a thread entering a freshly loaded
// image at entry with args.
func (k *Kernel) startUser(space *mm.AddressSpace, t *Thread, entry, ustackBase uint64, args []string) error {
	mem := mm.NewUserMemory(k.machine.Mem, space.Token())
	sp, argv, err := pushArgs(mem, k.layout.UserStackTop(ustackBase, t.tid), args)
	if err != nil {
		return fmt.Errorf("pushing arguments: %w", err)
	}
	tc := ring0.NewAppContext(entry, sp, k.kspace.Token(), t.kstack.top, uint64(k.layout.TrapHandler))
	tc.SetReg(riscv.A0, uint64(len(args)))
	tc.SetReg(riscv.A1, argv)
	t.trapFrame().Store(&tc)
	return nil
}

// newProcess creates a process running image with args, as a child of
// parent (nil for init), and makes its main thread ready.
func (k *Kernel) newProcess(image []byte, args []string, parent *Process) (*Process, error) {
	space, info, err := mm.LoadELF(k.frames, &k.layout, image)
	if err != nil {
		return nil, err
	}
	trapPPN, err := k.mapUserResource(space, info.UserStackBase, 0)
	if err != nil {
		space.Release()
		return nil, err
	}
	pid := k.allocPID()
	t, err := k.newThread(pid, 0, trapPPN)
	if err != nil {
		k.freePID(pid)
		space.Release()
		return nil, err
	}
	if err := k.startUser(space, t, info.Entry, info.UserStackBase, args); err != nil {
		k.freeKernelStack(t.kstack)
		k.freePID(pid)
		space.Release()
		return nil, err
	}

	parentPID := noParent
	if parent != nil {
		parentPID = parent.pid
	}
	p := &Process{k: k, pid: pid}
	st := newProcessState(space, info.UserStackBase, parentPID)
	st.fds = newFDTable(k.stdin, k.stdout)
	st.tids.alloc()
	st.addThread(t)
	p.inner.Init(fmt.Sprintf("process %d", pid), st)

	k.register(p, parent)
	k.sched.add(t)
	return p, nil
}

// fork creates a child of p, the process of the calling thread. The child's
// address space is an eager copy of p's, and its single thread resumes from
// the caller's trap context with a0 = 0.
//
// A process with one thread slot only has its main thread, tid 0.
func (p *Process) fork() (*Process, error) {
	k := p.k
	var (
		parentSpace *mm.AddressSpace
		ustackBase  uint64
		fds         fdTable
		sig         signalState
		err         error
	)
	p.inner.With(func(s *processState) {
		if s.threadCount() > 1 {
			err = errMultiThreaded
			return
		}
		parentSpace = s.space
		ustackBase = s.ustackBase
		fds = s.fds.fork()
		sig = s.sig.fork()
	})
	if err != nil {
		return nil, err
	}

	space, err := mm.Fork(parentSpace)
	if err != nil {
		fds.clear()
		return nil, err
	}
	pid := k.allocPID()
	t, err := k.newThread(pid, 0, trapContextFrame(space, 0))
	if err != nil {
		k.freePID(pid)
		fds.clear()
		space.Release()
		return nil, err
	}
	t.trapFrame().Update(func(tc *ring0.TrapContext) {
		tc.KernelSP = t.kstack.top
		tc.SetReg(riscv.A0, 0)
	})
	if sig.backup != nil {
		sig.backup.KernelSP = t.kstack.top
	}

	child := &Process{k: k, pid: pid}
	st := newProcessState(space, ustackBase, p.pid)
	st.fds = fds
	st.sig = sig
	st.tids.alloc()
	st.addThread(t)
	child.inner.Init(fmt.Sprintf("process %d", pid), st)

	k.register(child, p)
	k.sched.add(t)
	return child, nil
}

// exec replaces the image of p, whose only thread is cur, with image. pid,
// parent, children and open files are kept. Signal handlers are reset since
// they point into the old image.
func (p *Process) exec(cur *Thread, image []byte, args []string) error {
	k := p.k
	if n := sync.Get(&p.inner, func(s *processState) int { return s.threadCount() }); n > 1 {
		return errMultiThreaded
	}
	space, info, err := mm.LoadELF(k.frames, &k.layout, image)
	if err != nil {
		return err
	}
	trapPPN, err := k.mapUserResource(space, info.UserStackBase, cur.tid)
	if err != nil {
		space.Release()
		return err
	}
	oldPPN := cur.trapPPN()
	cur.setTrapFrame(trapPPN)
	if err := k.startUser(space, cur, info.Entry, info.UserStackBase, args); err != nil {
		cur.setTrapFrame(oldPPN)
		space.Release()
		return err
	}

	var oldSpace *mm.AddressSpace
	p.inner.With(func(s *processState) {
		oldSpace = s.space
		s.space = space
		s.ustackBase = info.UserStackBase
		s.sig.resetActions()
	})
	oldSpace.Release()
	return nil
}

// reap releases what is left of a zombie child once its parent has collected
// its exit code: its threads' kernel stacks, its page table, and its pid.
func (k *Kernel) reap(c *Process) {
	var (
		threads []*Thread
		space   *mm.AddressSpace
	)
	c.inner.With(func(s *processState) {
		if !s.zombie {
			panic(fmt.Sprintf("reaping live process %d", c.pid))
		}
		threads = s.threads
		s.threads = nil
		space = s.space
		s.space = nil
	})
	for _, t := range threads {
		if t == nil {
			continue
		}
		t.ctx.Release()
		k.freeKernelStack(t.kstack)
	}
	space.Release()
	k.procs.With(func(t *processTable) {
		delete(t.byPID, c.pid)
		t.pids.free(c.pid)
	})
}
