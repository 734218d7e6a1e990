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

// Package apps builds the user programs bundled with the kernel.
//
// Programs are assembled at startup with rvasm, each with a small runtime
// for printing and waiting. Every program starts at _start with argc in a0
// and argv in a1.
package apps

import (
	"fmt"
	"sort"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/loader"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/sync"
)

// InitProc is the name of the first user program.
const InitProc = "initproc"

// Shell is the program initproc runs when given no arguments.
const Shell = "user_shell"

var (
	zero = riscv.Zero
	a0   = riscv.A0
	a1   = riscv.A1
	a2   = riscv.A2
	t0   = riscv.T0
	t1   = riscv.T1
	t2   = riscv.T2
	t3   = riscv.T3
	t4   = riscv.T4
	s0   = riscv.S0
	s1   = riscv.S1
	s2   = riscv.S2
	s3   = riscv.S3
	s4   = riscv.S4
	s5   = riscv.S5
	s6   = riscv.S6
	s7   = riscv.S7
)

// programs maps each bundled program to the function writing it.
var programs = map[string]func(p *program){
	InitProc:                    initProc,
	Shell:                       userShell,
	"hello_world":               helloWorld,
	"switch_s_u":                switchSU,
	"yield":                     yieldTest,
	"forkexec":                  forkExec,
	"spawn":                     spawnTest,
	"cmdline_args":              cmdlineArgs,
	"sig_simple":                sigSimple,
	"sig_mask":                  sigMask,
	"sig_kill":                  sigKill,
	"pipetest":                  pipeTest,
	"threads":                   threads,
	"race_adder_mutex_blocking": func(p *program) { raceAdder(p, true) },
	"race_adder_mutex_spin":     func(p *program) { raceAdder(p, false) },
	"sync_sem":                  syncSem,
	"test_condvar":              testCondvar,
	"sleep":                     sleepTest,
	"sleep_order":               sleepOrder,
	"store_fault":               storeFault,
	"priv_inst":                 privInst,
}

// Names returns the names of the bundled programs, sorted.
func Names() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build assembles the program name.
func Build(name string) ([]byte, error) {
	write, ok := programs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, loader.ErrNotFound)
	}
	p := newProgram()
	write(p)
	image, err := p.assemble()
	if err != nil {
		return nil, fmt.Errorf("assembling %s: %w", name, err)
	}
	return image, nil
}

// table is built once; images are immutable.
var table = sync.OnceValue(func() tableResult {
	t := loader.NewTable()
	for _, name := range Names() {
		image, err := Build(name)
		if err != nil {
			return tableResult{err: err}
		}
		if err := t.Add(name, image); err != nil {
			return tableResult{err: err}
		}
	}
	return tableResult{table: t}
})

type tableResult struct {
	table *loader.Table
	err   error
}

// Table returns a table holding every bundled program.
func Table() (*loader.Table, error) {
	r := table()
	return r.table, r.err
}

// waitChild waits for pid (a register, or -1 in a0 already when pid is
// zero) and leaves the reaped pid in rd and its exit code in code.
func (p *program) waitChild(pid, rd, code riscv.Reg) {
	p.Mv(a0, pid)
	p.La(a1, "exit_code")
	p.Call(waitPid)
	p.Mv(rd, a0)
	p.La(t0, "exit_code")
	p.Lw(code, t0, 0)
}

// waitThread waits for thread tid and leaves its exit code in code.
func (p *program) waitThread(tid, code riscv.Reg) {
	again := p.label("waittid")
	done := p.label("waittid_done")
	p.Label(again)
	p.Mv(a0, tid)
	p.sys(abi.SysWaittid)
	p.Li(t0, abi.TryAgain)
	p.Bne(a0, t0, done)
	p.yield()
	p.J(again)
	p.Label(done)
	p.Mv(code, a0)
}

// threadCreate starts a thread at entry with argument arg and leaves its tid
// in rd.
func (p *program) threadCreate(entry string, arg int64, rd riscv.Reg) {
	p.La(a0, entry)
	p.Li(a1, arg)
	p.sys(abi.SysThreadCreate)
	p.Mv(rd, a0)
}

func initProc(p *program) {
	p.Bss("exit_code", 8)
	p.Li(s0, 1)
	p.Blt(s0, argcReg, ".Lspawn")

	p.sys(abi.SysFork)
	p.Bnez(a0, ".Lreap")
	p.La(a0, p.str(Shell))
	p.Li(a1, 0)
	p.sys(abi.SysExec)
	p.exitWith(-1)

	// Run every argument concurrently.
	p.Label(".Lspawn")
	p.sys(abi.SysFork)
	p.Bnez(a0, ".Lnext")
	p.Slli(t0, s0, 3)
	p.Add(t0, argvReg, t0)
	p.Ld(s1, t0, 0)
	p.Mv(a0, s1)
	p.Li(a1, 0)
	p.sys(abi.SysExec)
	p.printf("[initproc] cannot exec %s\n", s1)
	p.exitWith(-1)
	p.Label(".Lnext")
	p.Addi(s0, s0, 1)
	p.Blt(s0, argcReg, ".Lspawn")

	p.Label(".Lreap")
	p.Li(s1, -1)
	p.waitChild(s1, s2, s3)
	p.Bltz(s2, ".Ldone")
	p.printf("[initproc] Released a zombie process, pid=%d, exit_code=%d.\n", s2, s3)
	p.J(".Lreap")
	p.Label(".Ldone")
	p.exitWith(0)
}

func userShell(p *program) {
	const (
		lineMax = 128
		argsMax = 15
		bs      = 0x08
		del     = 0x7f
	)
	p.Bss("exit_code", 8)
	p.Bss("line", lineMax)
	p.Bss("args", 8*(argsMax+1))

	p.print("Welcome to rvcore shell\n")
	p.print(">> ")
	p.Li(s0, 0)
	p.La(s1, "line")

	p.Label(".Lloop")
	p.Call(getChar)
	p.Mv(s2, a0)
	p.Bltz(s2, ".Leof")
	p.Li(t0, '\n')
	p.Beq(s2, t0, ".Lenter")
	p.Li(t0, '\r')
	p.Beq(s2, t0, ".Lenter")
	p.Li(t0, bs)
	p.Beq(s2, t0, ".Lbackspace")
	p.Li(t0, del)
	p.Beq(s2, t0, ".Lbackspace")
	p.Li(t0, lineMax-1)
	p.Bge(s0, t0, ".Lloop")
	p.printf("%c", s2)
	p.Add(t0, s1, s0)
	p.Sb(s2, t0, 0)
	p.Addi(s0, s0, 1)
	p.J(".Lloop")

	p.Label(".Lbackspace")
	p.Beqz(s0, ".Lloop")
	p.Li(s3, bs)
	p.printf("%c %c", s3, s3)
	p.Addi(s0, s0, -1)
	p.J(".Lloop")

	p.Label(".Lenter")
	p.print("\n")
	p.Beqz(s0, ".Lprompt")
	p.Add(t0, s1, s0)
	p.Sb(zero, t0, 0)

	// Split the line on spaces into args.
	p.Li(s4, 0)
	p.Mv(t1, s1)
	p.La(s5, "args")
	p.Label(".Ltok")
	p.Lbu(t2, t1, 0)
	p.Beqz(t2, ".Ltok_done")
	p.Li(t3, ' ')
	p.Bne(t2, t3, ".Ltok_start")
	p.Sb(zero, t1, 0)
	p.Addi(t1, t1, 1)
	p.J(".Ltok")
	p.Label(".Ltok_start")
	p.Li(t3, argsMax)
	p.Bge(s4, t3, ".Ltok_done")
	p.Slli(t4, s4, 3)
	p.Add(t4, s5, t4)
	p.Sd(t1, t4, 0)
	p.Addi(s4, s4, 1)
	p.Label(".Ltok_skip")
	p.Lbu(t2, t1, 0)
	p.Beqz(t2, ".Ltok_done")
	p.Li(t3, ' ')
	p.Beq(t2, t3, ".Ltok")
	p.Addi(t1, t1, 1)
	p.J(".Ltok_skip")
	p.Label(".Ltok_done")
	p.Slli(t4, s4, 3)
	p.Add(t4, s5, t4)
	p.Sd(zero, t4, 0)
	p.Beqz(s4, ".Lprompt")

	p.sys(abi.SysFork)
	p.Mv(s6, a0)
	p.Bnez(s6, ".Lparent")
	p.Ld(a0, s5, 0)
	p.Mv(a1, s5)
	p.sys(abi.SysExec)
	p.print("Error when executing\n")
	p.exitWith(-4)

	p.Label(".Lparent")
	p.waitChild(s6, s2, s7)
	p.printf("Shell: Process %d exit with code %d.\n", s6, s7)

	p.Label(".Lprompt")
	p.Li(s0, 0)
	p.print(">> ")
	p.J(".Lloop")

	p.Label(".Leof")
	p.exitWith(0)
}

func helloWorld(p *program) {
	p.getpid(s0)
	p.printf("pid %d: Hello world from user mode program!\n", s0)
	p.exitWith(0)
}

func switchSU(p *program) {
	p.print("*******02 start*******\n")
	p.Li(s0, 0)
	p.Li(s1, 10)
	p.Label(".Lloop")
	p.Andi(t0, s0, 1)
	p.Beqz(t0, ".Leven")
	p.printf("%d is a odd number.\n", s0)
	p.J(".Lnext")
	p.Label(".Leven")
	p.printf("%d is a even number.\n", s0)
	p.Label(".Lnext")
	p.Addi(s0, s0, 1)
	p.Blt(s0, s1, ".Lloop")
	p.print("Program that cycle switch S mode and U mode was finished.\n")
	p.print("********02 end********\n")
	p.exitWith(0)
}

func yieldTest(p *program) {
	p.getpid(s0)
	p.printf("Hello, I am process %d.\n", s0)
	p.Li(s1, 0)
	p.Li(s2, 5)
	p.Label(".Lloop")
	p.yield()
	p.getpid(s0)
	p.printf("Back in process %d, iteration %d.\n", s0, s1)
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Lloop")
	p.print("yield pass.\n")
	p.exitWith(0)
}

func forkExec(p *program) {
	p.Bss("exit_code", 8)
	p.getpid(s0)
	p.printf("pid %d: parent start forking ...\n", s0)
	p.sys(abi.SysFork)
	p.Mv(s1, a0)
	p.Bnez(s1, ".Lparent")
	p.getpid(s0)
	p.printf("pid %d: forked child start execing hello_world app ... \n", s0)
	p.La(a0, p.str("hello_world"))
	p.Li(a1, 0)
	p.sys(abi.SysExec)
	p.exitWith(100)

	p.Label(".Lparent")
	p.printf("pid %d: ready waiting child ...\n", s0)
	p.Li(s2, -1)
	p.waitChild(s2, s2, s3)
	p.printf("pid %d: got child info:: pid %d, exit code: %d\n", s0, s2, s3)
	p.exitWith(0)
}

func spawnTest(p *program) {
	p.Bss("exit_code", 8)
	p.La(a0, p.str("cmdline_args"))
	p.La(a1, "spawn_args")
	p.La(t0, p.str("cmdline_args"))
	p.Sd(t0, a1, 0)
	p.La(t0, p.str("spawned"))
	p.Sd(t0, a1, 8)
	p.sys(abi.SysSpawn)
	p.Mv(s0, a0)
	p.Bltz(s0, ".Lfail")
	p.waitChild(s0, s1, s2)
	p.printf("spawn: child %d exited with code %d\n", s1, s2)
	p.La(a0, p.str("no_such_app"))
	p.Li(a1, 0)
	p.sys(abi.SysSpawn)
	p.Mv(s3, a0)
	p.printf("spawn: no_such_app = %d\n", s3)
	p.exitWith(0)
	p.Label(".Lfail")
	p.print("spawn failed\n")
	p.exitWith(-1)
	p.Dwords("spawn_args", 0, 0, 0)
}

func cmdlineArgs(p *program) {
	p.printf("argc = %d\n", argcReg)
	p.Li(s0, 0)
	p.Bge(s0, argcReg, ".Ldone")
	p.Label(".Lloop")
	p.Slli(t0, s0, 3)
	p.Add(t0, argvReg, t0)
	p.Ld(s1, t0, 0)
	p.printf("argv[%d] = %s\n", s0, s1)
	p.Addi(s0, s0, 1)
	p.Blt(s0, argcReg, ".Lloop")
	p.Label(".Ldone")
	// argv is NULL terminated.
	p.Slli(t0, argcReg, 3)
	p.Add(t0, argvReg, t0)
	p.Ld(s2, t0, 0)
	p.exit(s2)
}

// installHandler points signal sig at handler with an empty action mask.
func (p *program) installHandler(sig abi.Signal, handler string) {
	p.La(t0, handler)
	p.La(a1, "act")
	p.Sd(t0, a1, 0)
	p.Sd(zero, a1, 8)
	p.Li(a0, int64(sig))
	p.La(a2, "old_act")
	p.sys(abi.SysSigaction)
}

func sigSimple(p *program) {
	p.Bss("act", abi.SignalActionSize)
	p.Bss("old_act", abi.SignalActionSize)
	p.print("signal_simple: sigaction\n")
	p.installHandler(abi.SIGUSR1, ".Lhandler")
	p.Bnez(a0, ".Lfail")
	p.print("signal_simple: kill\n")
	p.getpid(a0)
	p.Li(a1, int64(abi.SIGUSR1))
	p.sys(abi.SysKill)
	p.Bnez(a0, ".Lfail")
	p.print("signal_simple: Done\n")
	p.exitWith(0)

	p.Label(".Lfail")
	p.print("signal_simple: failed\n")
	p.exitWith(-1)

	p.Label(".Lhandler")
	p.Mv(s0, a0)
	p.printf("user_sig_test passed, signal %d\n", s0)
	p.sys(abi.SysSigreturn)
}

func sigMask(p *program) {
	p.Bss("act", abi.SignalActionSize)
	p.Bss("old_act", abi.SignalActionSize)
	p.installHandler(abi.SIGUSR2, ".Lhandler")
	p.Li(a0, int64(abi.SignalSetOf(abi.SIGUSR2)))
	p.sys(abi.SysSigprocmask)
	p.Mv(s0, a0)
	p.printf("sig_mask: old mask %d\n", s0)
	p.getpid(a0)
	p.Li(a1, int64(abi.SIGUSR2))
	p.sys(abi.SysKill)
	p.print("sig_mask: SIGUSR2 blocked\n")
	// A second kill of a pending signal fails.
	p.getpid(a0)
	p.Li(a1, int64(abi.SIGUSR2))
	p.sys(abi.SysKill)
	p.Mv(s1, a0)
	p.printf("sig_mask: kill again = %d\n", s1)
	p.Li(a0, 0)
	p.sys(abi.SysSigprocmask)
	p.Mv(s2, a0)
	p.printf("sig_mask: unblocked, mask was %d\n", s2)
	p.print("sig_mask passed!\n")
	p.exitWith(0)

	p.Label(".Lhandler")
	p.Mv(s0, a0)
	p.printf("sig_mask: handling signal %d\n", s0)
	p.sys(abi.SysSigreturn)
}

func sigKill(p *program) {
	p.Bss("exit_code", 8)
	p.sys(abi.SysFork)
	p.Mv(s0, a0)
	p.Bnez(s0, ".Lparent")

	// Child: fork a grandchild, then spin until killed.
	p.sys(abi.SysFork)
	p.Bnez(a0, ".Lspin")
	p.Li(s2, 0)
	p.Li(s3, 20)
	p.Label(".Lgrandchild")
	p.yield()
	p.Addi(s2, s2, 1)
	p.Blt(s2, s3, ".Lgrandchild")
	p.print("sig_kill: grandchild done\n")
	p.exitWith(7)
	p.Label(".Lspin")
	p.yield()
	p.J(".Lspin")

	p.Label(".Lparent")
	p.Li(s1, 0)
	p.Li(s2, 3)
	p.Label(".Lsettle")
	p.yield()
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Lsettle")
	p.Mv(a0, s0)
	p.Li(a1, int64(abi.SIGINT))
	p.sys(abi.SysKill)
	p.Mv(s4, a0)
	p.waitChild(s0, s1, s5)
	p.printf("sig_kill: child %d killed, kill=%d, exit_code=%d\n", s1, s4, s5)
	p.exitWith(0)
}

func pipeTest(p *program) {
	const msg = "Hello, world!"
	p.Bss("exit_code", 8)
	p.Bss("fds", 16)
	p.Bss("buf", 33)
	p.La(a0, "fds")
	p.sys(abi.SysPipe)
	p.sys(abi.SysFork)
	p.Bnez(a0, ".Lparent")

	p.La(t0, "fds")
	p.Ld(a0, t0, 8)
	p.sys(abi.SysClose)
	p.La(t0, "fds")
	p.Ld(a0, t0, 0)
	p.La(a1, "buf")
	p.Li(a2, 32)
	p.sys(abi.SysRead)
	p.Mv(s0, a0)
	p.La(t0, "fds")
	p.Ld(a0, t0, 0)
	p.sys(abi.SysClose)
	p.La(s1, "buf")
	p.printf("Read %d bytes: %s\n", s0, s1)
	p.print("Read OK, child process exited!\n")
	p.exitWith(0)

	p.Label(".Lparent")
	p.La(t0, "fds")
	p.Ld(a0, t0, 0)
	p.sys(abi.SysClose)
	p.La(t0, "fds")
	p.Ld(a0, t0, 8)
	p.La(a1, p.str(msg))
	p.Li(a2, int64(len(msg)))
	p.sys(abi.SysWrite)
	p.Mv(s0, a0)
	p.La(t0, "fds")
	p.Ld(a0, t0, 8)
	p.sys(abi.SysClose)
	p.Li(s1, -1)
	p.waitChild(s1, s1, s2)
	p.printf("pipetest: wrote %d bytes, child exit code %d\n", s0, s2)
	p.print("pipetest passed!\n")
	p.exitWith(0)
}

func threads(p *program) {
	p.threadCreate(".Lworker", 'a', s1)
	p.threadCreate(".Lworker", 'b', s2)
	p.threadCreate(".Lworker", 'c', s3)
	for _, tid := range []riscv.Reg{s1, s2, s3} {
		p.waitThread(tid, s4)
		p.printf("thread#%d exited with code %d\n", tid, s4)
	}
	p.print("main thread exited.\n")
	p.exitWith(0)

	// worker(c) prints c ten times and exits with c-'a'+1.
	p.Label(".Lworker")
	p.Mv(s0, a0)
	p.Li(s1, 0)
	p.Li(s2, 10)
	p.Label(".Lprint")
	p.printf("%c", s0)
	p.yield()
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Lprint")
	p.Addi(a0, s0, 1-'a')
	p.sys(abi.SysExit)
}

func raceAdder(p *program, blocking bool) {
	const (
		perThread = 50
		nthreads  = 4
	)
	p.Dwords("counter", 0)
	p.Li(a0, 0)
	if blocking {
		p.Li(a0, 1)
	}
	p.sys(abi.SysMutexCreate)
	p.Mv(s0, a0)
	p.La(s6, "tids")
	p.Li(s1, 0)
	p.Li(s2, nthreads)
	p.Label(".Lcreate")
	p.La(a0, ".Lworker")
	p.Mv(a1, s0)
	p.sys(abi.SysThreadCreate)
	p.Slli(t0, s1, 3)
	p.Add(t0, s6, t0)
	p.Sd(a0, t0, 0)
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Lcreate")

	p.Li(s1, 0)
	p.Label(".Ljoin")
	p.Slli(t0, s1, 3)
	p.Add(t0, s6, t0)
	p.Ld(s3, t0, 0)
	p.waitThread(s3, s4)
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Ljoin")
	p.La(t0, "counter")
	p.Ld(s5, t0, 0)
	p.printf("race_adder: counter = %d\n", s5)
	p.Li(t0, perThread*nthreads)
	p.Bne(s5, t0, ".Lfail")
	p.print("race_adder passed!\n")
	p.exitWith(0)
	p.Label(".Lfail")
	p.exitWith(-1)

	// worker(mutex) increments the counter perThread times, spending time
	// between the load and the store.
	p.Label(".Lworker")
	p.Mv(s0, a0)
	p.Li(s1, 0)
	p.Li(s2, perThread)
	p.Li(s5, 3)
	p.Label(".Lround")
	p.Mv(a0, s0)
	p.sys(abi.SysMutexLock)
	p.La(t0, "counter")
	p.Ld(s3, t0, 0)
	p.Li(s4, 0)
	p.Label(".Lbusy")
	p.Mul(s5, s5, s5)
	p.Li(t1, 10007)
	p.Remu(s5, s5, t1)
	p.Addi(s4, s4, 1)
	p.Li(t1, 200)
	p.Blt(s4, t1, ".Lbusy")
	p.Addi(s3, s3, 1)
	p.La(t0, "counter")
	p.Sd(s3, t0, 0)
	p.Mv(a0, s0)
	p.sys(abi.SysMutexUnlock)
	p.Addi(s1, s1, 1)
	p.Blt(s1, s2, ".Lround")
	p.exitWith(0)
	p.Dwords("tids", make([]uint64, nthreads)...)
}

func syncSem(p *program) {
	p.Li(a0, 0)
	p.sys(abi.SysSemaphoreCreate)
	p.Mv(s0, a0)
	p.La(a0, ".Lfirst")
	p.Mv(a1, s0)
	p.sys(abi.SysThreadCreate)
	p.Mv(s1, a0)
	p.La(a0, ".Lsecond")
	p.Mv(a1, s0)
	p.sys(abi.SysThreadCreate)
	p.Mv(s2, a0)
	p.waitThread(s1, s3)
	p.waitThread(s2, s3)
	p.print("sync_sem passed!\n")
	p.exitWith(0)

	p.Label(".Lfirst")
	p.Mv(s0, a0)
	p.Li(a0, 10)
	p.sys(abi.SysSleep)
	p.print("First work and wakeup Second\n")
	p.Mv(a0, s0)
	p.sys(abi.SysSemaphoreUp)
	p.exitWith(0)

	p.Label(".Lsecond")
	p.Mv(s0, a0)
	p.print("Second want to continue,but need to wait First\n")
	p.Mv(a0, s0)
	p.sys(abi.SysSemaphoreDown)
	p.print("Second can work now\n")
	p.exitWith(0)
}

func testCondvar(p *program) {
	p.Dwords("cv_a", 0)
	p.Dwords("cv_ids", 0, 0)
	p.Li(a0, 1)
	p.sys(abi.SysMutexCreate)
	p.La(t0, "cv_ids")
	p.Sd(a0, t0, 0)
	p.sys(abi.SysCondvarCreate)
	p.La(t0, "cv_ids")
	p.Sd(a0, t0, 8)
	p.threadCreate(".Lfirst", 0, s1)
	p.threadCreate(".Lsecond", 0, s2)
	p.waitThread(s1, s3)
	p.waitThread(s2, s3)
	p.print("test_condvar passed!\n")
	p.exitWith(0)

	// lock, unlock, signal and wait load the ids from cv_ids.
	lock := func() {
		p.La(t0, "cv_ids")
		p.Ld(a0, t0, 0)
		p.sys(abi.SysMutexLock)
	}
	unlock := func() {
		p.La(t0, "cv_ids")
		p.Ld(a0, t0, 0)
		p.sys(abi.SysMutexUnlock)
	}

	p.Label(".Lfirst")
	p.Li(a0, 10)
	p.sys(abi.SysSleep)
	p.print("First work, Change A --> 1 and wakeup Second!\n")
	lock()
	p.La(t0, "cv_a")
	p.Li(t1, 1)
	p.Sd(t1, t0, 0)
	p.La(t0, "cv_ids")
	p.Ld(a0, t0, 8)
	p.sys(abi.SysCondvarSignal)
	unlock()
	p.exitWith(0)

	p.Label(".Lsecond")
	p.print("Second want to continue,but need to wait A=1\n")
	lock()
	p.Label(".Lcheck")
	p.La(t0, "cv_a")
	p.Ld(s0, t0, 0)
	p.Bnez(s0, ".Lready")
	p.printf("Second: A is %d\n", s0)
	p.La(t0, "cv_ids")
	p.Ld(a0, t0, 8)
	p.Ld(a1, t0, 0)
	p.sys(abi.SysCondvarWait)
	p.J(".Lcheck")
	p.Label(".Lready")
	unlock()
	p.printf("A is %d, Second can work now\n", s0)
	p.exitWith(0)
}

func sleepTest(p *program) {
	p.sys(abi.SysGetTime)
	p.Mv(s0, a0)
	p.printf("current time_msec = %d\n", s0)
	p.Li(a0, 100)
	p.sys(abi.SysSleep)
	p.sys(abi.SysGetTime)
	p.Mv(s1, a0)
	p.Sub(s2, s1, s0)
	p.printf("time_msec = %d after sleeping 100 ticks, delta = %dms!\n", s1, s2)
	p.Li(t0, 100)
	p.Blt(s2, t0, ".Lfail")
	p.print("r_sleep passed!\n")
	p.exitWith(0)
	p.Label(".Lfail")
	p.exitWith(-1)
}

func sleepOrder(p *program) {
	p.threadCreate(".Lsleeper", 30, s1)
	p.threadCreate(".Lsleeper", 10, s2)
	p.threadCreate(".Lsleeper", 20, s3)
	p.waitThread(s1, s4)
	p.waitThread(s2, s4)
	p.waitThread(s3, s4)
	p.print("sleep_order passed!\n")
	p.exitWith(0)

	p.Label(".Lsleeper")
	p.Mv(s0, a0)
	p.sys(abi.SysSleep)
	p.printf("slept %dms\n", s0)
	p.exit(s0)
}

func storeFault(p *program) {
	p.print("Into Test store_fault, we will insert an invalid store operation...\n")
	p.print("Kernel should kill this application!\n")
	p.Sd(zero, zero, 0)
	p.exitWith(0)
}

func privInst(p *program) {
	p.print("Try to execute privileged instruction in U Mode\n")
	p.print("Kernel should kill this application!\n")
	p.Emit(riscv.InsnSret)
	p.exitWith(0)
}
