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
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/mm"
)

// exit ends the calling thread t with code. The main thread takes the whole
// process with it. Any other thread releases its user stack and trap
// context at once; its slot, tid and kernel stack wait for waittid.
//
// exit does not return.
func (t *Thread) exit(code int) {
	p := t.process()
	if t.tid == 0 {
		p.exit(t, code)
		return
	}
	var (
		space      *mm.AddressSpace
		ustackBase uint64
	)
	p.inner.With(func(s *processState) {
		space, ustackBase = s.space, s.ustackBase
	})
	t.k.unmapUserResource(space, ustackBase, t.tid)
	t.markExited(code)
	t.k.sched.exitCurrent(t)
}

// exitProcess ends the whole process of t with code, as a fatal signal does.
// It does not return.
func (t *Thread) exitProcess(code int) {
	t.process().exit(t, code)
}

// exit turns p into a zombie with code, on behalf of its thread cur, and
// ends cur. Every other thread of p is torn down wherever it is waiting, its
// children are handed to init, its files are closed and its user pages are
// freed. The page table and kernel stacks stay until the parent reaps p.
//
// The exit of init stops the machine.
//
// exit does not return.
func (p *Process) exit(cur *Thread, code int) {
	k := p.k
	if p == k.init {
		log.Infof("[kernel] Init process exit with exit_code %d ...", code)
		cur.markExited(code)
		k.machine.Shutdown(code, code != 0)
		k.sched.exitCurrent(cur)
		return
	}

	var (
		children []*Process
		threads  []*Thread
		fds      fdTable
		space    *mm.AddressSpace
	)
	p.inner.With(func(s *processState) {
		s.zombie = true
		s.exitCode = code
		children = s.children
		s.children = nil
		threads = s.threads
		fds = s.fds
		s.fds = fdTable{}
		space = s.space
		s.mutexes = nil
		s.semaphores = nil
		s.condvars = nil
		s.sig.pending = 0
	})
	k.metrics.exits.Increment()
	log.Debugf("[kernel] pid %d exited with code %d", p.pid, code)

	for _, c := range children {
		c.inner.With(func(s *processState) {
			s.parent = k.init.pid
		})
	}
	k.init.inner.With(func(s *processState) {
		s.children = append(s.children, children...)
	})

	fds.clear()

	for _, t := range threads {
		if t == nil || t == cur {
			continue
		}
		if _, exited := t.exitStatus(); !exited {
			k.sched.remove(t)
			k.timers.Remove(t.key)
			t.ctx.Release()
			t.markExited(code)
		}
	}
	space.RecycleDataPages()
	cur.markExited(code)
	k.sched.exitCurrent(cur)
}
