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

// Package ilist provides the implementation of intrusive linked lists.
package ilist

// Linker is the interface that objects must implement if they want to be
// added to and/or removed from List objects. It is satisfied by embedding
// Entry[T] in T.
type Linker[T any] interface {
	*T
	linker() *Entry[T]
}

// Entry is a default implementation of Linker. Users can add anonymous fields
// of this type to their structs to make them automatically implement the
// methods needed by List.
type Entry[T any] struct {
	next *T
	prev *T
}

func (e *Entry[T]) linker() *Entry[T] {
	return e
}

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = l.Next(e) {
//		// do something with e.
//	}
type List[T any, PT Linker[T]] struct {
	head *T
	tail *T
}

func link[T any, PT Linker[T]](e *T) *Entry[T] {
	return PT(e).linker()
}

// Reset resets list l to the empty state.
func (l *List[T, PT]) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
func (l *List[T, PT]) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
func (l *List[T, PT]) Front() *T {
	return l.head
}

// Back returns the last element of list l or nil.
func (l *List[T, PT]) Back() *T {
	return l.tail
}

// Next returns the element following e, or nil.
func (l *List[T, PT]) Next(e *T) *T {
	return link[T, PT](e).next
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
func (l *List[T, PT]) Len() (count int) {
	for e := l.Front(); e != nil; e = l.Next(e) {
		count++
	}
	return count
}

// PushFront inserts the element e at the front of list l.
func (l *List[T, PT]) PushFront(e *T) {
	linker := link[T, PT](e)
	linker.next = l.head
	linker.prev = nil
	if l.head != nil {
		link[T, PT](l.head).prev = e
	} else {
		l.tail = e
	}
	l.head = e
}

// PushBack inserts the element e at the back of list l.
func (l *List[T, PT]) PushBack(e *T) {
	linker := link[T, PT](e)
	linker.next = nil
	linker.prev = l.tail
	if l.tail != nil {
		link[T, PT](l.tail).next = e
	} else {
		l.head = e
	}
	l.tail = e
}

// PopFront removes and returns the first element of l, or nil if l is empty.
func (l *List[T, PT]) PopFront() *T {
	e := l.head
	if e != nil {
		l.Remove(e)
	}
	return e
}

// Remove removes e from l.
//
// Preconditions: e is an element of l.
func (l *List[T, PT]) Remove(e *T) {
	linker := link[T, PT](e)
	prev := linker.prev
	next := linker.next

	if prev != nil {
		link[T, PT](prev).next = next
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		link[T, PT](next).prev = prev
	} else if l.tail == e {
		l.tail = prev
	}

	linker.next = nil
	linker.prev = nil
}
