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

package riscv

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/bits"
)

// SatpModeSv39 is the satp MODE value selecting Sv39 translation.
const SatpModeSv39 = 8

const satpModeShift = 60

// MakeSatp returns the satp value (the address space "token") for an Sv39
// page table rooted at root.
func MakeSatp(root PhysPageNum) uint64 {
	return SatpModeSv39<<satpModeShift | uint64(root)
}

// SatpRoot returns the root page table PPN of a satp value.
func SatpRoot(satp uint64) PhysPageNum {
	return PhysPageNum(bits.Field(satp, 0, PPNWidth))
}

// SatpMode returns the MODE field of a satp value.
func SatpMode(satp uint64) uint64 {
	return satp >> satpModeShift
}

// sstatus bits used by the kernel.
const (
	SstatusSIE  = 1 << 1
	SstatusSPIE = 1 << 5
	SstatusSPP  = 1 << 8
)

// sie bits.
const (
	SieSTIE = 1 << 5
)

// Privilege is a hart privilege level.
type Privilege uint8

// Privilege levels.
const (
	User       Privilege = 0
	Supervisor Privilege = 1
)

// String implements fmt.Stringer.
func (p Privilege) String() string {
	switch p {
	case User:
		return "U"
	case Supervisor:
		return "S"
	default:
		return fmt.Sprintf("Privilege(%d)", uint8(p))
	}
}

// Cause is an scause value.
type Cause uint64

// CauseInterrupt is the interrupt bit of scause.
const CauseInterrupt Cause = 1 << 63

// Exception causes.
const (
	InstructionMisaligned Cause = 0
	InstructionFault      Cause = 1
	IllegalInstruction    Cause = 2
	Breakpoint            Cause = 3
	LoadMisaligned        Cause = 4
	LoadFault             Cause = 5
	StoreMisaligned       Cause = 6
	StoreFault            Cause = 7
	UserEnvCall           Cause = 8
	SupervisorEnvCall     Cause = 9
	InstructionPageFault  Cause = 12
	LoadPageFault         Cause = 13
	StorePageFault        Cause = 15
)

// Interrupt causes.
const (
	SupervisorSoft  = CauseInterrupt | 1
	SupervisorTimer = CauseInterrupt | 5
	SupervisorExt   = CauseInterrupt | 9
)

// IsInterrupt returns true if c is an asynchronous interrupt.
func (c Cause) IsInterrupt() bool {
	return c&CauseInterrupt != 0
}

var causeNames = map[Cause]string{
	InstructionMisaligned: "InstructionMisaligned",
	InstructionFault:      "InstructionFault",
	IllegalInstruction:    "IllegalInstruction",
	Breakpoint:            "Breakpoint",
	LoadMisaligned:        "LoadMisaligned",
	LoadFault:             "LoadFault",
	StoreMisaligned:       "StoreMisaligned",
	StoreFault:            "StoreFault",
	UserEnvCall:           "UserEnvCall",
	SupervisorEnvCall:     "SupervisorEnvCall",
	InstructionPageFault:  "InstructionPageFault",
	LoadPageFault:         "LoadPageFault",
	StorePageFault:        "StorePageFault",
	SupervisorSoft:        "SupervisorSoft",
	SupervisorTimer:       "SupervisorTimer",
	SupervisorExt:         "SupervisorExternal",
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	if n, ok := causeNames[c]; ok {
		return n
	}
	if c.IsInterrupt() {
		return fmt.Sprintf("Interrupt(%d)", uint64(c&^CauseInterrupt))
	}
	return fmt.Sprintf("Exception(%d)", uint64(c))
}

// AccessType is the kind of memory access being translated.
type AccessType uint8

// Access types.
const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

// String implements fmt.Stringer.
func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	default:
		return fmt.Sprintf("AccessType(%d)", uint8(a))
	}
}

// PageFault returns the page fault cause for a.
func (a AccessType) PageFault() Cause {
	switch a {
	case AccessWrite:
		return StorePageFault
	case AccessExecute:
		return InstructionPageFault
	default:
		return LoadPageFault
	}
}

// AccessFault returns the access fault cause for a.
func (a AccessType) AccessFault() Cause {
	switch a {
	case AccessWrite:
		return StoreFault
	case AccessExecute:
		return InstructionFault
	default:
		return LoadFault
	}
}
