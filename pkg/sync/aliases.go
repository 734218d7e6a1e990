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

// Package sync provides synchronization primitives for the kernel.
//
// Host-side code (the console, metrics, logging and the application table)
// uses the aliases of the standard library types. Kernel state is guarded by
// Cell, which relies on the single-hart execution model instead of locking.
package sync

import (
	"sync"
)

// Mutex is an alias of sync.Mutex.
type Mutex = sync.Mutex

// OnceValue is a wrapper around sync.OnceValue.
func OnceValue[T any](f func() T) func() T {
	return sync.OnceValue(f)
}
