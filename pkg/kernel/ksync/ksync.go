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

// Package ksync provides the blocking primitives user threads synchronize
// with: mutexes, semaphores, condition variables and the timer wheel behind
// sleep.
//
// Primitives never hold a thread. They name waiters by Key and ask the
// Scheduler to block and wake them, so a thread that exits while waiting
// leaves a stale key behind whose wakeup does nothing.
//
// There is a single hart and the kernel is not preemptible, so primitive state
// is only ever touched by the thread holding the hart. It is kept in
// sync.Cells so that reentrant access is caught rather than silently
// corrupting a wait queue.
package ksync

// Key identifies a thread. Keys are never reused.
type Key uint64

// Scheduler is the part of the kernel scheduler that primitives use.
type Scheduler interface {
	// Current returns the key of the calling thread.
	Current() Key

	// Block parks the calling thread until Wakeup is called for its key.
	Block()

	// Yield moves the calling thread to the back of the ready queue.
	Yield()

	// Wakeup makes the blocked thread k ready. It does nothing if k is not
	// blocked.
	Wakeup(k Key)
}

// waitQueue is a FIFO of waiting threads.
type waitQueue []Key

func (q *waitQueue) push(k Key) {
	*q = append(*q, k)
}

func (q *waitQueue) pop() (Key, bool) {
	if len(*q) == 0 {
		return 0, false
	}
	k := (*q)[0]
	*q = (*q)[1:]
	return k, true
}

// wakeup is a waiter taken off a queue, to be woken once the primitive's
// state is no longer borrowed.
type wakeup struct {
	k  Key
	ok bool
}

func (w wakeup) wake(s Scheduler) {
	if w.ok {
		s.Wakeup(w.k)
	}
}
