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
	"fmt"
	"strings"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/rvasm"
)

// Runtime routines. They follow the calling convention: arguments and
// results in a0 and up, and only a and t registers are clobbered. None of
// them calls another routine, so ra only needs saving across nested calls
// in program code.
const (
	printStr  = "__print_str"
	printInt  = "__print_int"
	printChar = "__print_char"
	getChar   = "__get_char"
	waitPid   = "__wait_pid"
)

// Registers holding the arguments _start receives.
const (
	argcReg = riscv.S10
	argvReg = riscv.S11
)

// program is a user program under construction: a builder plus the helpers
// programs are written with.
type program struct {
	*rvasm.Builder
	labels  int
	strings map[string]string
}

// newProgram starts a program at _start, saving argc and argv.
func newProgram() *program {
	p := &program{
		Builder: rvasm.NewBuilder(),
		strings: make(map[string]string),
	}
	p.Label(rvasm.EntryLabel)
	p.Mv(argcReg, riscv.A0)
	p.Mv(argvReg, riscv.A1)
	return p
}

// label returns a fresh label.
func (p *program) label(what string) string {
	p.labels++
	return fmt.Sprintf(".L%s%d", what, p.labels)
}

// str interns s in the data section and returns its label.
func (p *program) str(s string) string {
	if l, ok := p.strings[s]; ok {
		return l
	}
	l := fmt.Sprintf(".str%d", len(p.strings))
	p.strings[s] = l
	p.Asciz(l, s)
	return l
}

// printf prints format. Each %d prints the signed value of the next
// register, each %s the string it points to and each %c the byte it holds.
// Argument registers must not be a or t registers, which printing
// clobbers.
func (p *program) printf(format string, regs ...riscv.Reg) {
	for format != "" {
		i := strings.IndexByte(format, '%')
		if i < 0 {
			p.print(format)
			return
		}
		if i > 0 {
			p.print(format[:i])
		}
		if i+1 >= len(format) {
			panic(fmt.Sprintf("bad format %q", format))
		}
		var routine string
		switch format[i+1] {
		case 'd':
			routine = printInt
		case 's':
			routine = printStr
		case 'c':
			routine = printChar
		default:
			panic(fmt.Sprintf("bad verb in %q", format))
		}
		p.Mv(riscv.A0, regs[0])
		p.Call(routine)
		regs = regs[1:]
		format = format[i+2:]
	}
	if len(regs) != 0 {
		panic(fmt.Sprintf("too many arguments for %q", format))
	}
}

// print prints a constant string.
func (p *program) print(s string) {
	p.La(riscv.A0, p.str(s))
	p.Call(printStr)
}

// sys issues a system call. Arguments must already be in place.
func (p *program) sys(nr abi.Sysno) {
	p.Syscall(int64(nr))
}

// exit exits with the value of r.
func (p *program) exit(r riscv.Reg) {
	p.Mv(riscv.A0, r)
	p.sys(abi.SysExit)
}

// exitWith exits with code.
func (p *program) exitWith(code int64) {
	p.Li(riscv.A0, code)
	p.sys(abi.SysExit)
}

// getpid leaves the pid in rd.
func (p *program) getpid(rd riscv.Reg) {
	p.sys(abi.SysGetpid)
	p.Mv(rd, riscv.A0)
}

// yield gives up the hart.
func (p *program) yield() {
	p.sys(abi.SysYield)
}

// runtime emits the runtime routines.
func (p *program) runtime() {
	a0, a1, a2 := riscv.A0, riscv.A1, riscv.A2
	t0, t1, t2, t3, t4 := riscv.T0, riscv.T1, riscv.T2, riscv.T3, riscv.T4

	// print_str(a0 = NUL terminated string).
	p.Label(printStr)
	p.Mv(t0, a0)
	p.Mv(t1, a0)
	p.Label(".Lstrlen")
	p.Lbu(t2, t1, 0)
	p.Beqz(t2, ".Lstrlen_done")
	p.Addi(t1, t1, 1)
	p.J(".Lstrlen")
	p.Label(".Lstrlen_done")
	p.Sub(a2, t1, t0)
	p.Mv(a1, t0)
	p.Li(a0, abi.Stdout)
	p.sys(abi.SysWrite)
	p.Ret()

	// print_char(a0 = byte).
	p.Label(printChar)
	p.Addi(riscv.SP, riscv.SP, -16)
	p.Sb(a0, riscv.SP, 0)
	p.Li(a0, abi.Stdout)
	p.Mv(a1, riscv.SP)
	p.Li(a2, 1)
	p.sys(abi.SysWrite)
	p.Addi(riscv.SP, riscv.SP, 16)
	p.Ret()

	// print_int(a0 = signed value), in decimal. Digits are built backwards
	// in a stack buffer.
	p.Label(printInt)
	p.Addi(riscv.SP, riscv.SP, -32)
	p.Mv(t0, a0)
	p.Addi(t1, riscv.SP, 32)
	p.Li(t3, 10)
	p.Li(t4, 0)
	p.Bgez(t0, ".Lint_digits")
	p.Li(t4, 1)
	p.Neg(t0, t0)
	p.Label(".Lint_digits")
	p.Remu(t2, t0, t3)
	p.Addi(t2, t2, '0')
	p.Addi(t1, t1, -1)
	p.Sb(t2, t1, 0)
	p.Divu(t0, t0, t3)
	p.Bnez(t0, ".Lint_digits")
	p.Beqz(t4, ".Lint_write")
	p.Li(t2, '-')
	p.Addi(t1, t1, -1)
	p.Sb(t2, t1, 0)
	p.Label(".Lint_write")
	p.Li(a0, abi.Stdout)
	p.Mv(a1, t1)
	p.Addi(a2, riscv.SP, 32)
	p.Sub(a2, a2, t1)
	p.sys(abi.SysWrite)
	p.Addi(riscv.SP, riscv.SP, 32)
	p.Ret()

	// get_char() returns the next input byte, or -1 at end of input.
	p.Label(getChar)
	p.Addi(riscv.SP, riscv.SP, -16)
	p.Li(a0, abi.Stdin)
	p.Mv(a1, riscv.SP)
	p.Li(a2, 1)
	p.sys(abi.SysRead)
	p.Blez(a0, ".Lgetchar_eof")
	p.Lbu(a0, riscv.SP, 0)
	p.Addi(riscv.SP, riscv.SP, 16)
	p.Ret()
	p.Label(".Lgetchar_eof")
	p.Li(a0, -1)
	p.Addi(riscv.SP, riscv.SP, 16)
	p.Ret()

	// wait_pid(a0 = pid or -1, a1 = &exit_code) retries while the child
	// is still running, and returns the reaped pid or -1.
	p.Label(waitPid)
	p.Mv(riscv.T5, a0)
	p.Mv(riscv.T6, a1)
	p.Label(".Lwait_again")
	p.Mv(a0, riscv.T5)
	p.Mv(a1, riscv.T6)
	p.sys(abi.SysWaitpid)
	p.Li(t0, abi.TryAgain)
	p.Bne(a0, t0, ".Lwait_done")
	p.sys(abi.SysYield)
	p.J(".Lwait_again")
	p.Label(".Lwait_done")
	p.Ret()
}

// assemble appends the runtime and returns the ELF image.
func (p *program) assemble() ([]byte, error) {
	p.runtime()
	return rvasm.Assemble(p.Builder)
}
