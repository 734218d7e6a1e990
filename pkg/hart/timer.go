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

package hart

import "math"

// Timer is the machine timer: mtime advances as the hart retires
// instructions, and a supervisor timer interrupt is pending whenever
// mtime >= mtimecmp.
//
// Time is virtual. It advances only while user code runs or while the hart
// waits for an interrupt, which keeps runs reproducible.
type Timer struct {
	freq          uint64
	cyclesPerInsn uint64
	mtime         uint64
	mtimecmp      uint64
}

// NewTimer returns a timer ticking at freq Hz, charging cyclesPerInsn ticks
// per retired instruction.
func NewTimer(freq, cyclesPerInsn uint64) *Timer {
	if cyclesPerInsn == 0 {
		cyclesPerInsn = 1
	}
	return &Timer{
		freq:          freq,
		cyclesPerInsn: cyclesPerInsn,
		mtimecmp:      math.MaxUint64,
	}
}

// Freq returns the timer frequency in Hz.
func (t *Timer) Freq() uint64 {
	return t.freq
}

// Now returns mtime.
func (t *Timer) Now() uint64 {
	return t.mtime
}

// Milliseconds returns mtime converted to milliseconds.
func (t *Timer) Milliseconds() uint64 {
	return t.mtime / (t.freq / 1000)
}

// Compare returns mtimecmp.
func (t *Timer) Compare() uint64 {
	return t.mtimecmp
}

// SetCompare programs mtimecmp, which also clears a pending interrupt if v is
// in the future.
func (t *Timer) SetCompare(v uint64) {
	t.mtimecmp = v
}

// Pending returns true if a timer interrupt is pending.
func (t *Timer) Pending() bool {
	return t.mtime >= t.mtimecmp
}

// retire charges one instruction.
func (t *Timer) retire() {
	t.mtime += t.cyclesPerInsn
}

// skipToCompare advances mtime to mtimecmp, as if the hart had waited for the
// next interrupt. It returns false if no interrupt is programmed.
func (t *Timer) skipToCompare() bool {
	if t.mtimecmp == math.MaxUint64 {
		return false
	}
	if t.mtime < t.mtimecmp {
		t.mtime = t.mtimecmp
	}
	return true
}
