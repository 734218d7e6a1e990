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

package apps

import (
	"bytes"
	"debug/elf"
	"errors"
	"testing"

	"rvcore.dev/rvcore/pkg/loader"
	"rvcore.dev/rvcore/pkg/rvasm"
)

func TestBuildAll(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			image, err := Build(name)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			f, err := elf.NewFile(bytes.NewReader(image))
			if err != nil {
				t.Fatalf("elf.NewFile: %v", err)
			}
			if f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
				t.Errorf("got machine %v type %v", f.Machine, f.Type)
			}
			if f.Entry != rvasm.TextBase {
				t.Errorf("entry = %#x, wanted _start at %#x", f.Entry, rvasm.TextBase)
			}
		})
	}
}

func TestTable(t *testing.T) {
	tbl, err := Table()
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if tbl.Len() != len(Names()) {
		t.Errorf("table has %d apps, wanted %d", tbl.Len(), len(Names()))
	}
	for _, name := range []string{InitProc, Shell, "hello_world"} {
		if _, err := tbl.Get(name); err != nil {
			t.Errorf("Get(%q): %v", name, err)
		}
	}
	if _, err := Build("no_such_app"); !errors.Is(err, loader.ErrNotFound) {
		t.Errorf("Build(no_such_app) error = %v, wanted ErrNotFound", err)
	}
}

func TestPrintfPanics(t *testing.T) {
	for _, format := range []string{"%", "%x", "%d"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("printf(%q) did not panic", format)
				}
			}()
			newProgram().printf(format)
		}()
	}
}
