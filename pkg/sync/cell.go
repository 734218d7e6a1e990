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

package sync

import (
	"fmt"
	"sync/atomic"
)

// Cell is an exclusive-access container for kernel state on a uniprocessor.
//
// Only one borrow may be outstanding at a time. A second borrow while the
// first is live is a kernel bug (typically a borrow held across a context
// switch, or a re-entrant call path) and panics instead of deadlocking.
//
// Cell is not safe for SMP use: it provides exclusion only because at most
// one kernel execution point runs at any instant.
type Cell[T any] struct {
	name     string
	borrowed atomic.Bool
	value    T
}

// NewCell returns a cell holding v. name appears in reentrancy panics.
func NewCell[T any](name string, v T) *Cell[T] {
	return &Cell[T]{name: name, value: v}
}

// Init sets the name and value of a zero Cell.
func (c *Cell[T]) Init(name string, v T) {
	c.name = name
	c.value = v
}

// Borrow grants exclusive access to the contents. The caller must call
// Release before anything else can borrow the cell.
func (c *Cell[T]) Borrow() *T {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("sync.Cell %q: already borrowed", c.name))
	}
	return &c.value
}

// Release ends the current borrow.
func (c *Cell[T]) Release() {
	if !c.borrowed.CompareAndSwap(true, false) {
		panic(fmt.Sprintf("sync.Cell %q: released while not borrowed", c.name))
	}
}

// Borrowed returns true if the cell is currently borrowed.
func (c *Cell[T]) Borrowed() bool {
	return c.borrowed.Load()
}

// With runs fn with exclusive access to the contents.
//
// fn must not block, yield or switch contexts.
func (c *Cell[T]) With(fn func(v *T)) {
	v := c.Borrow()
	defer c.Release()
	fn(v)
}

// Get runs fn with exclusive access to the contents and returns its result.
func Get[T, R any](c *Cell[T], fn func(v *T) R) R {
	v := c.Borrow()
	defer c.Release()
	return fn(v)
}
