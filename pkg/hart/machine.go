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

// Package hart simulates a single-hart RV64 machine: RAM, an Sv39 MMU, the
// supervisor CSRs, a machine timer, a console, and a user-mode RV64IM
// interpreter. Supervisor software drives it through the SBI-like methods on
// Machine and the CSR fields on CPU.
package hart

import (
	"io"

	"rvcore.dev/rvcore/pkg/riscv"
)

// Default machine parameters, matching a QEMU virt board.
const (
	DefaultMemBase   = riscv.PhysAddr(0x8000_0000)
	DefaultMemSize   = 128 << 20
	DefaultClockFreq = 12_500_000
)

// Config describes the machine to build.
type Config struct {
	MemBase       riscv.PhysAddr
	MemSize       uint64
	ClockFreq     uint64
	CyclesPerInsn uint64
	Console       io.Writer
}

// Machine is the simulated board.
type Machine struct {
	Mem     *PhysMem
	CPU     *CPU
	Timer   *Timer
	Console *Console

	halted   bool
	failure  bool
	haltCode int
}

// New builds a machine. Zero fields in cfg take their defaults.
func New(cfg Config) *Machine {
	if cfg.MemBase == 0 {
		cfg.MemBase = DefaultMemBase
	}
	if cfg.MemSize == 0 {
		cfg.MemSize = DefaultMemSize
	}
	if cfg.ClockFreq == 0 {
		cfg.ClockFreq = DefaultClockFreq
	}
	m := &Machine{
		Mem:     NewPhysMem(cfg.MemBase, cfg.MemSize),
		Timer:   NewTimer(cfg.ClockFreq, cfg.CyclesPerInsn),
		Console: NewConsole(cfg.Console),
	}
	m.CPU = newCPU(m.Mem, m.Timer)
	return m
}

// SetTimer is the SBI set_timer call: it programs the next timer interrupt
// for absolute time stime.
func (m *Machine) SetTimer(stime uint64) {
	m.Timer.SetCompare(stime)
}

// ConsolePutchar is the SBI console_putchar call.
func (m *Machine) ConsolePutchar(c byte) {
	m.Console.Putchar(c)
}

// ConsoleGetchar is the SBI console_getchar call. It returns -1 if no input
// is available, and eof reports that none ever will be.
func (m *Machine) ConsoleGetchar() (c int, eof bool) {
	b, ok, eof := m.Console.Getchar()
	if !ok {
		return -1, eof
	}
	return int(b), false
}

// WaitForInterrupt idles the hart until the next timer interrupt. It returns
// false if no timer interrupt is programmed, in which case nothing could
// wake the hart.
func (m *Machine) WaitForInterrupt() bool {
	return m.Timer.skipToCompare()
}

// Shutdown is the SBI system_reset call.
func (m *Machine) Shutdown(code int, failure bool) {
	m.halted = true
	m.haltCode = code
	m.failure = failure
}

// Halted returns whether Shutdown was called, with its arguments.
func (m *Machine) Halted() (halted bool, code int, failure bool) {
	return m.halted, m.haltCode, m.failure
}
