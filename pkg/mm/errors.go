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

package mm

import "errors"

var (
	// ErrOutOfMemory is returned when no physical frame is left.
	ErrOutOfMemory = errors.New("out of physical memory")

	// ErrBadAddress is returned for user pointers that are not mapped with
	// the required permissions.
	ErrBadAddress = errors.New("bad address")

	// ErrBadELF is returned for images that cannot be loaded.
	ErrBadELF = errors.New("invalid ELF image")
)
