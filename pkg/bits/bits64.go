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

// Package bits contains helpers for bit manipulation of 64-bit words, such as
// instruction fields, page table entries and signal sets.
package bits

import (
	"math/bits"
)

// IsOn64 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn64(mask, bits uint64) bool {
	return mask&bits == bits
}

// IsAnyOn64 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn64(mask, bits uint64) bool {
	return mask&bits != 0
}

// Mask64 returns a uint64 with all of the given bits set.
func Mask64(is ...int) uint64 {
	ret := uint64(0)
	for _, i := range is {
		ret |= MaskOf64(i)
	}
	return ret
}

// MaskOf64 is like Mask64, but sets only a single bit (more efficiently).
func MaskOf64(i int) uint64 {
	return uint64(1) << uint64(i)
}

// TrailingZeros64 returns the number of trailing zero bits in x; the result is
// 64 for x == 0.
func TrailingZeros64(x uint64) int {
	return bits.TrailingZeros64(x)
}

// ForEachSetBit64 calls f once for each set bit in x, with argument i equal to
// the set bit's index, in ascending order.
func ForEachSetBit64(x uint64, f func(i int)) {
	for x != 0 {
		i := TrailingZeros64(x)
		f(i)
		x &^= MaskOf64(i)
	}
}

// Field extracts the width-bit field of x starting at bit lo.
func Field(x uint64, lo, width int) uint64 {
	return (x >> uint(lo)) & (MaskOf64(width) - 1)
}

// SignExtend64 sign-extends the low width bits of x to 64 bits.
func SignExtend64(x uint64, width int) uint64 {
	shift := uint(64 - width)
	return uint64(int64(x<<shift) >> shift)
}

// IsPowerOfTwo64 returns true if x is a power of two.
func IsPowerOfTwo64(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}
