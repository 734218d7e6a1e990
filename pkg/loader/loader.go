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

// Package loader holds the application images linked into the kernel, which
// exec and spawn look up by name.
package loader

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned for an unknown application name.
var ErrNotFound = errors.New("no such application")

// Table maps application names to ELF images.
type Table struct {
	images map[string][]byte
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{images: make(map[string][]byte)}
}

// Add registers image under name, replacing any previous image.
func (t *Table) Add(name string, image []byte) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid application name %q", name)
	}
	t.images[name] = image
	return nil
}

// Get returns the image named name.
func (t *Table) Get(name string) ([]byte, error) {
	image, ok := t.images[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return image, nil
}

// Names returns every application name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.images))
	for name := range t.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of applications.
func (t *Table) Len() int {
	return len(t.images)
}

// String lists the applications the way the kernel prints them at boot.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString("/**** APPS ****\n")
	for _, name := range t.Names() {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteString("**************/")
	return b.String()
}
