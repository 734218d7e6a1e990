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

package bits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTrailingZeros64(t *testing.T) {
	for i := 0; i <= 64; i++ {
		n := uint64(1) << uint(i)
		if got, want := TrailingZeros64(n), i; got != want {
			t.Errorf("TrailingZeros64(%#x): got %d, wanted %d", n, got, want)
		}
	}
}

func TestForEachSetBit64(t *testing.T) {
	for _, want := range [][]int{
		{},
		{0},
		{1},
		{63},
		{0, 1},
		{1, 3, 5},
		{0, 63},
	} {
		n := Mask64(want...)
		// "Slice values are deeply equal when ... they are both nil or both
		// non-nil ..."
		got := make([]int, 0)
		ForEachSetBit64(n, func(i int) {
			got = append(got, i)
		})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ForEachSetBit64(%#x) mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestField(t *testing.T) {
	for _, tc := range []struct {
		x     uint64
		lo    int
		width int
		want  uint64
	}{
		{0x00500093, 0, 7, 0x13},
		{0x00500093, 7, 5, 1},
		{0x00500093, 20, 12, 5},
		{^uint64(0), 10, 44, (1 << 44) - 1},
	} {
		if got := Field(tc.x, tc.lo, tc.width); got != tc.want {
			t.Errorf("Field(%#x, %d, %d): got %#x, wanted %#x", tc.x, tc.lo, tc.width, got, tc.want)
		}
	}
}

func TestSignExtend64(t *testing.T) {
	for _, tc := range []struct {
		x     uint64
		width int
		want  uint64
	}{
		{0x7ff, 12, 0x7ff},
		{0x800, 12, 0xfffffffffffff800},
		{0xfff, 12, ^uint64(0)},
		{0x4000000000, 39, 0xffffffc000000000},
		{0x3fffffffff, 39, 0x3fffffffff},
	} {
		if got := SignExtend64(tc.x, tc.width); got != tc.want {
			t.Errorf("SignExtend64(%#x, %d): got %#x, wanted %#x", tc.x, tc.width, got, tc.want)
		}
	}
}
