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

import "fmt"

// idAllocator hands out small integer ids, reusing released ones first.
type idAllocator struct {
	name     string
	current  int
	recycled []int
}

func (a *idAllocator) alloc() int {
	if n := len(a.recycled); n > 0 {
		id := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return id
	}
	a.current++
	return a.current - 1
}

func (a *idAllocator) free(id int) {
	if id < 0 || id >= a.current {
		panic(fmt.Sprintf("%s id %d was never allocated", a.name, id))
	}
	for _, r := range a.recycled {
		if r == id {
			panic(fmt.Sprintf("%s id %d freed twice", a.name, id))
		}
	}
	a.recycled = append(a.recycled, id)
}

// inUse returns the number of allocated ids.
func (a *idAllocator) inUse() int {
	return a.current - len(a.recycled)
}
