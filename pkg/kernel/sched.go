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
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/sync"
)

// ThreadStatus is the scheduling state of a thread.
type ThreadStatus int

// Thread states.
const (
	// ThreadReady threads are in the ready queue.
	ThreadReady ThreadStatus = iota

	// ThreadRunning is the thread holding the hart.
	ThreadRunning

	// ThreadBlocked threads wait in the blocked set for a wakeup.
	ThreadBlocked

	// ThreadExited threads never run again.
	ThreadExited
)

// String implements fmt.Stringer.
func (s ThreadStatus) String() string {
	switch s {
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadBlocked:
		return "Blocked"
	case ThreadExited:
		return "Exited"
	default:
		return fmt.Sprintf("ThreadStatus(%d)", int(s))
	}
}

type threadList = ilist.List[Thread, *Thread]

type schedState struct {
	ready   threadList
	blocked map[ksync.Key]*Thread
	current *Thread
	nextKey ksync.Key
}

// Scheduler is the processor: a FIFO ready queue, the set of blocked
// threads, and the thread currently holding the hart. There are no
// priorities.
//
// Scheduler implements ksync.Scheduler and fs.Scheduler. Yield and Block
// must be called on the current thread's kernel stack.
type Scheduler struct {
	// idle is the processor's own execution point, which runs Kernel.Run.
	idle *ring0.TaskContext

	state sync.Cell[schedState]
}

func newScheduler() *Scheduler {
	s := &Scheduler{}
	s.state.Init("scheduler", schedState{
		blocked: make(map[ksync.Key]*Thread),
	})
	return s
}

// newKey returns a key no thread has had before.
func (s *Scheduler) newKey() ksync.Key {
	return sync.Get(&s.state, func(st *schedState) ksync.Key {
		st.nextKey++
		return st.nextKey
	})
}

// current returns the running thread. It panics on the idle loop.
func (s *Scheduler) current() *Thread {
	t := sync.Get(&s.state, func(st *schedState) *Thread {
		return st.current
	})
	if t == nil {
		panic("no current thread")
	}
	return t
}

func (s *Scheduler) setCurrent(t *Thread) {
	s.state.With(func(st *schedState) {
		st.current = t
	})
}

// Current implements ksync.Scheduler.Current.
func (s *Scheduler) Current() ksync.Key {
	return s.current().key
}

// add makes t ready.
func (s *Scheduler) add(t *Thread) {
	s.state.With(func(st *schedState) {
		t.status = ThreadReady
		st.ready.PushBack(t)
	})
}

// pop takes the thread at the head of the ready queue and makes it current.
func (s *Scheduler) pop() *Thread {
	return sync.Get(&s.state, func(st *schedState) *Thread {
		t := st.ready.PopFront()
		if t != nil {
			t.status = ThreadRunning
			st.current = t
		}
		return t
	})
}

// Yield implements ksync.Scheduler.Yield and fs.Scheduler.Yield: the current
// thread goes to the back of the ready queue and the processor picks the
// next one.
func (s *Scheduler) Yield() {
	t := s.current()
	s.add(t)
	ring0.Switch(t.ctx, s.idle)
}

// Block implements ksync.Scheduler.Block: the current thread waits in the
// blocked set until Wakeup is called with its key.
func (s *Scheduler) Block() {
	t := s.current()
	s.state.With(func(st *schedState) {
		t.status = ThreadBlocked
		st.blocked[t.key] = t
	})
	ring0.Switch(t.ctx, s.idle)
}

// Wakeup implements ksync.Scheduler.Wakeup.
func (s *Scheduler) Wakeup(k ksync.Key) {
	s.state.With(func(st *schedState) {
		t, ok := st.blocked[k]
		if !ok {
			return
		}
		delete(st.blocked, k)
		t.status = ThreadReady
		st.ready.PushBack(t)
	})
}

// remove takes a thread that is not running out of the ready queue or the
// blocked set for good.
func (s *Scheduler) remove(t *Thread) {
	s.state.With(func(st *schedState) {
		switch t.status {
		case ThreadReady:
			st.ready.Remove(t)
		case ThreadBlocked:
			delete(st.blocked, t.key)
		case ThreadRunning:
			panic(fmt.Sprintf("removing running thread %d of pid %d", t.tid, t.pid))
		}
		t.status = ThreadExited
	})
}

// exitCurrent ends the current thread's execution point and returns to the
// processor. It does not return.
func (s *Scheduler) exitCurrent(t *Thread) {
	s.state.With(func(st *schedState) {
		t.status = ThreadExited
		st.current = nil
	})
	ring0.SwitchAndExit(t.ctx, s.idle)
}

// Ready returns the number of ready threads.
func (s *Scheduler) Ready() int {
	return sync.Get(&s.state, func(st *schedState) int {
		return st.ready.Len()
	})
}

// Blocked returns the number of blocked threads.
func (s *Scheduler) Blocked() int {
	return sync.Get(&s.state, func(st *schedState) int {
		return len(st.blocked)
	})
}
