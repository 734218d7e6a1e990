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

// Mutex is a user mutex.
type Mutex interface {
	Lock()
	Unlock()
}

// SpinMutex is a mutex whose waiters yield until it is free.
type SpinMutex struct {
	sched  Scheduler
	locked sync.Cell[bool]
}

// NewSpinMutex returns an unlocked SpinMutex.
func NewSpinMutex(s Scheduler) *SpinMutex {
	m := &SpinMutex{sched: s}
	m.locked.Init("spin mutex", false)
	return m
}

// Lock implements Mutex.Lock.
func (m *SpinMutex) Lock() {
	for {
		acquired := sync.Get(&m.locked, func(locked *bool) bool {
			if *locked {
				return false
			}
			*locked = true
			return true
		})
		if acquired {
			return
		}
		m.sched.Yield()
	}
}

// Unlock implements Mutex.Unlock.
func (m *SpinMutex) Unlock() {
	m.locked.With(func(locked *bool) {
		if !*locked {
			panic("unlock of unlocked spin mutex")
		}
		*locked = false
	})
}

type blockingState struct {
	locked  bool
	waiters waitQueue
}

// BlockingMutex is a mutex whose waiters block. Unlock hands the mutex
// directly to the first waiter, which returns from Lock holding it.
type BlockingMutex struct {
	sched Scheduler
	state sync.Cell[blockingState]
}

// NewBlockingMutex returns an unlocked BlockingMutex.
func NewBlockingMutex(s Scheduler) *BlockingMutex {
	m := &BlockingMutex{sched: s}
	m.state.Init("blocking mutex", blockingState{})
	return m
}

// Lock implements Mutex.Lock.
func (m *BlockingMutex) Lock() {
	wait := sync.Get(&m.state, func(s *blockingState) bool {
		if !s.locked {
			s.locked = true
			return false
		}
		s.waiters.push(m.sched.Current())
		return true
	})
	if wait {
		m.sched.Block()
	}
}

// Unlock implements Mutex.Unlock.
func (m *BlockingMutex) Unlock() {
	w := sync.Get(&m.state, func(s *blockingState) wakeup {
		if !s.locked {
			panic("unlock of unlocked blocking mutex")
		}
		k, ok := s.waiters.pop()
		if !ok {
			s.locked = false
		}
		return wakeup{k, ok}
	})
	w.wake(m.sched)
}

// Waiters returns the number of threads blocked in Lock.
func (m *BlockingMutex) Waiters() int {
	return sync.Get(&m.state, func(s *blockingState) int { return len(s.waiters) })
}
