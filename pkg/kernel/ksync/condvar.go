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

// Condvar is a condition variable. Signal wakes at most one waiter, the one
// that has waited longest; a signal with no waiters is lost.
type Condvar struct {
	sched   Scheduler
	waiters sync.Cell[waitQueue]
}

// NewCondvar returns a condition variable with no waiters.
func NewCondvar(s Scheduler) *Condvar {
	cv := &Condvar{sched: s}
	cv.waiters.Init("condvar", nil)
	return cv
}

// Signal wakes the first waiter.
func (cv *Condvar) Signal() {
	w := sync.Get(&cv.waiters, func(q *waitQueue) wakeup {
		k, ok := q.pop()
		return wakeup{k, ok}
	})
	w.wake(cv.sched)
}

// Wait releases m, blocks until signalled, and reacquires m.
//
// Preconditions: the caller holds m.
func (cv *Condvar) Wait(m Mutex) {
	m.Unlock()
	cv.waiters.With(func(q *waitQueue) {
		q.push(cv.sched.Current())
	})
	cv.sched.Block()
	m.Lock()
}
