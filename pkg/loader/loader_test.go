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

package loader

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTable(t *testing.T) {
	tbl := NewTable()
	for _, name := range []string{"yield", "initproc", "hello_world"} {
		if err := tbl.Add(name, []byte(name)); err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
	}
	if err := tbl.Add("", nil); err == nil {
		t.Errorf("Add with empty name succeeded")
	}
	if diff := cmp.Diff([]string{"hello_world", "initproc", "yield"}, tbl.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if got, err := tbl.Get("yield"); err != nil || string(got) != "yield" {
		t.Errorf("Get(yield) = (%q, %v)", got, err)
	}
	if _, err := tbl.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) error = %v, wanted ErrNotFound", err)
	}
	want := "/**** APPS ****\nhello_world\ninitproc\nyield\n**************/"
	if got := tbl.String(); got != want {
		t.Errorf("String() = %q, wanted %q", got, want)
	}
}
