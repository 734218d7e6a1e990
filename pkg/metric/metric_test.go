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


package metric

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NewUint64Metric("/foo", true, "Foo!"); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := r.NewUint64Metric("/foo", true, "Foo again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("NewUint64Metric got err %v want ErrNameInUse", err)
	}
	for _, name := range []string{"", "foo", "/", "/foo bar", "/foo-bar"} {
		if _, err := r.NewUint64Metric(name, true, "bad"); !errors.Is(err, ErrInvalidMetricName) {
			t.Errorf("NewUint64Metric(%q) got err %v want ErrInvalidMetricName", name, err)
		}
	}
	if _, err := r.NewUint64Metric("/empty", true, "", NewField("f", nil)); !errors.Is(err, ErrFieldHasNoAllowedValues) {
		t.Errorf("NewUint64Metric with empty field got err %v want ErrFieldHasNoAllowedValues", err)
	}
}

func TestFieldMapper(t *testing.T) {
	m, err := newFieldMapper(
		NewField("weekday", []string{"mon", "tue", "wed"}),
		NewField("weather", []string{"sunny", "rainy"}),
	)
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	if m.numFieldCombinations != 6 {
		t.Fatalf("got %d combinations, want 6", m.numFieldCombinations)
	}
	seen := make(map[int]bool)
	for _, day := range []string{"mon", "tue", "wed"} {
		for _, weather := range []string{"sunny", "rainy"} {
			key := m.lookup(day, weather)
			if seen[key] {
				t.Errorf("key %d reused for (%s, %s)", key, day, weather)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{day, weather}, m.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
}

func TestLookupPanics(t *testing.T) {
	r := NewRegistry()
	m := r.MustCreateNewUint64Metric("/calls", true, "", NewField("name", []string{"read", "write"}))
	for _, values := range [][]string{nil, {"open"}, {"read", "write"}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Increment(%q) did not panic", values)
				}
			}()
			m.Increment(values...)
		}()
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	calls := r.MustCreateNewUint64Metric("/kernel/calls", true, "Calls made.", NewField("name", []string{"read", "write", "exit"}))
	switches := r.MustCreateNewUint64Metric("/kernel/switches", true, "Switches.")

	calls.Increment("write")
	calls.IncrementBy(3, "read")
	calls.Increment("write")
	switches.IncrementBy(7)

	if got := calls.Value("write"); got != 2 {
		t.Errorf("calls.Value(write) = %d, want 2", got)
	}
	want := []Snapshot{
		{
			Metadata: Metadata{Name: "/kernel/calls", Description: "Calls made.", Cumulative: true, Fields: []string{"name"}},
			Values: []Value{
				{FieldValues: []string{"read"}, Value: 3},
				{FieldValues: []string{"write"}, Value: 2},
			},
		},
		{
			Metadata: Metadata{Name: "/kernel/switches", Description: "Switches.", Cumulative: true, Fields: []string{}},
			Values:   []Value{{Value: 7}},
		},
	}
	if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}
