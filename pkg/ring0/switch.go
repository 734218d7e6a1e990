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

package ring0

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// TaskContext is a suspended kernel execution point: the callee-saved
// registers a switch preserves, and the resume point.
//
// Every execution point runs on its own goroutine. Exactly one of them holds
// the run token at any time; all others are parked in Switch. A context is
// created unstarted and begins running its entry function the first time it
// is switched to.
type TaskContext struct {
	// RA is the resume address.
	RA uint64

	// SP is the kernel stack pointer.
	SP uint64

	// S holds s0 through s11.
	S [12]uint64

	entry   func()
	wake    chan struct{}
	done    chan struct{}
	started bool
	killed  atomic.Bool
}

// NewTaskContext returns an unstarted context that will run entry on the
// kernel stack whose top is sp, resuming at ra.
func NewTaskContext(ra, sp uint64, entry func()) *TaskContext {
	return &TaskContext{
		RA:    ra,
		SP:    sp,
		entry: entry,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// CurrentContext returns a context for the calling goroutine, which must be
// the one holding the run token. It is used for the processor's idle loop.
func CurrentContext() *TaskContext {
	return &TaskContext{
		wake:    make(chan struct{}, 1),
		started: true,
	}
}

func (c *TaskContext) start() {
	c.started = true
	go func() {
		defer close(c.done)
		c.park()
		c.entry()
		panic(fmt.Sprintf("kernel execution point at %#x returned", c.RA))
	}()
}

// park blocks until c is handed the run token. A released context never
// resumes: its goroutine exits.
func (c *TaskContext) park() {
	<-c.wake
	if c.killed.Load() {
		runtime.Goexit()
	}
}

func (c *TaskContext) resume() {
	if c.killed.Load() {
		panic(fmt.Sprintf("switch to released context at %#x", c.RA))
	}
	if !c.started {
		c.start()
	}
	c.wake <- struct{}{}
}

// Switch suspends the calling execution point into cur and resumes next. It
// returns when another execution point switches back to cur.
func Switch(cur, next *TaskContext) {
	if cur == next {
		return
	}
	next.resume()
	cur.park()
}

// SwitchAndExit resumes next and terminates the calling execution point,
// which must never be switched to again.
func SwitchAndExit(cur, next *TaskContext) {
	cur.killed.Store(true)
	next.resume()
	runtime.Goexit()
}

// Release discards a suspended context. If its goroutine is parked it is
// woken only to exit, and Release waits until it has, so deferred calls on
// that goroutine run before Release returns.
//
// Preconditions: c is not the running context.
func (c *TaskContext) Release() {
	if c.killed.Swap(true) || !c.started {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	if c.done != nil {
		<-c.done
	}
}

// Started returns whether c has ever run.
func (c *TaskContext) Started() bool {
	return c.started
}
