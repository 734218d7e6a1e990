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

package ksync

import (
	"rvcore.dev/rvcore/pkg/sync"
)

type semaphoreState struct {
	// count is the number of available units. A negative count is the
	// number of waiters.
	count   int
	waiters waitQueue
}

// Semaphore is a counting semaphore. Waiters are woken in FIFO order.
type Semaphore struct {
	sched Scheduler
	state sync.Cell[semaphoreState]
}

// NewSemaphore returns a semaphore with n units.
func NewSemaphore(s Scheduler, n int) *Semaphore {
	sem := &Semaphore{sched: s}
	sem.state.Init("semaphore", semaphoreState{count: n})
	return sem
}

// Up releases a unit, waking the first waiter if there is one.
func (sem *Semaphore) Up() {
	w := sync.Get(&sem.state, func(s *semaphoreState) wakeup {
		s.count++
		if s.count > 0 {
			return wakeup{}
		}
		k, ok := s.waiters.pop()
		return wakeup{k, ok}
	})
	w.wake(sem.sched)
}

// Down takes a unit, blocking until one is available.
func (sem *Semaphore) Down() {
	wait := sync.Get(&sem.state, func(s *semaphoreState) bool {
		s.count--
		if s.count >= 0 {
			return false
		}
		s.waiters.push(sem.sched.Current())
		return true
	})
	if wait {
		sem.sched.Block()
	}
}

// Count returns the current count.
func (sem *Semaphore) Count() int {
	return sync.Get(&sem.state, func(s *semaphoreState) int { return s.count })
}
