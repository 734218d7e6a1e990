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

import (
	"fmt"

	"rvcore.dev/rvcore/pkg/riscv"
)

// Fault is a synchronous exception raised by an access: the cause and the
// faulting address (stval).
type Fault struct {
	Cause riscv.Cause
	Addr  uint64
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("%v at %#x", f.Cause, f.Addr)
}

// Translate performs an Sv39 walk of the table selected by satp for an
// access of the given type at privilege priv.
//
// With satp MODE Bare the address is used as is. The walk does not update
// the accessed and dirty bits; the kernel never consults them.
func Translate(mem *PhysMem, satp uint64, va uint64, access riscv.AccessType, priv riscv.Privilege) (riscv.PhysAddr, error) {
	switch riscv.SatpMode(satp) {
	case 0:
		return checkPhys(mem, riscv.PhysAddr(va), access)
	case riscv.SatpModeSv39:
	default:
		return 0, fmt.Errorf("unsupported satp mode %d", riscv.SatpMode(satp))
	}

	if !riscv.IsCanonical(va) {
		return 0, &Fault{Cause: access.PageFault(), Addr: va}
	}
	vpn := riscv.VA(va).Floor()
	idx := vpn.Indexes()
	table := riscv.SatpRoot(satp)
	for level := 0; level < riscv.Levels; level++ {
		if !mem.Contains(table.Addr(), riscv.PageSize) {
			return 0, &Fault{Cause: access.AccessFault(), Addr: va}
		}
		pte := mem.PTEs(table).Get(idx[level])
		flags := pte.Flags()
		if !pte.Valid() || (!flags.Contains(riscv.PTERead) && flags.Contains(riscv.PTEWrite)) {
			return 0, &Fault{Cause: access.PageFault(), Addr: va}
		}
		if !pte.Leaf() {
			table = pte.PPN()
			continue
		}
		if !permitted(pte, access, priv) {
			return 0, &Fault{Cause: access.PageFault(), Addr: va}
		}
		// Superpage leaves take the low VPN bits from the address and must
		// be aligned to their size.
		ppn := pte.PPN()
		remaining := riscv.Levels - 1 - level
		if remaining > 0 {
			mask := riscv.PhysPageNum(1)<<(remaining*riscv.LevelBits) - 1
			if ppn&mask != 0 {
				return 0, &Fault{Cause: access.PageFault(), Addr: va}
			}
			ppn |= riscv.PhysPageNum(vpn) & mask
		}
		pa := ppn.Addr() + riscv.PhysAddr(riscv.VA(va).PageOffset())
		if !mem.Contains(pa, 1) {
			return 0, &Fault{Cause: access.AccessFault(), Addr: va}
		}
		return pa, nil
	}
	return 0, &Fault{Cause: access.PageFault(), Addr: va}
}

func permitted(pte riscv.PTE, access riscv.AccessType, priv riscv.Privilege) bool {
	// Supervisor code never touches user pages directly (sstatus.SUM is
	// always clear); the kernel reads user memory through physical views.
	if pte.User() != (priv == riscv.User) {
		return false
	}
	switch access {
	case riscv.AccessRead:
		return pte.Readable()
	case riscv.AccessWrite:
		return pte.Writable()
	default:
		return pte.Executable()
	}
}

func checkPhys(mem *PhysMem, pa riscv.PhysAddr, access riscv.AccessType) (riscv.PhysAddr, error) {
	if !mem.Contains(pa, 1) {
		return 0, &Fault{Cause: access.AccessFault(), Addr: uint64(pa)}
	}
	return pa, nil
}
