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


// Package kernel is the execution core of the kernel: processes and their
// threads, the scheduler, trap handling, system calls and signals.
//
// Lock order and borrowing:
//
//	Scheduler.state
//	  Process.inner
//	    Thread.inner
//
// Cells are never borrowed across a context switch. Code running on a
// thread's kernel stack must release every borrow before it yields, blocks
// or exits.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/fs"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/kernel/ksync"
	"rvcore.dev/rvcore/pkg/loader"
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/metric"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/sync"
)

// DefaultTicksPerSecond is the default timer interrupt rate.
const DefaultTicksPerSecond = 100

// ErrDeadlock is returned by Run when no thread is ready and none is
// sleeping, so nothing can ever run again.
var ErrDeadlock = errors.New("deadlock: every thread is blocked")

// Config configures a Kernel.
type Config struct {
	// Machine describes the simulated board.
	Machine hart.Config

	// ImageSize is the size of the kernel image at the start of RAM. Zero
	// means mm.DefaultImageSize.
	ImageSize uint64

	// UserStackSize and KernelStackSize are per-thread stack sizes. Zero
	// means the mm defaults.
	UserStackSize   uint64
	KernelStackSize uint64

	// TicksPerSecond is the timer interrupt rate. Zero means
	// DefaultTicksPerSecond.
	TicksPerSecond uint64

	// Apps holds the applications exec and spawn can load.
	Apps *loader.Table

	// Init names the first process.
	Init string

	// InitArgs are passed to Init after its own name.
	InitArgs []string

	// Metrics receives the kernel's metrics. If nil the kernel keeps a
	// registry of its own.
	Metrics *metric.Registry
}

// processTable is the process registry. Processes refer to each other by pid
// through it.
type processTable struct {
	pids  idAllocator
	byPID map[int]*Process
}

// kernelMetrics are the counters the kernel maintains.
type kernelMetrics struct {
	syscalls *metric.Uint64Metric
	traps    *metric.Uint64Metric
	switches *metric.Uint64Metric
	exits    *metric.Uint64Metric
}

// Kernel is the whole kernel. It owns the machine and every kernel
// singleton; nothing in this package is global.
type Kernel struct {
	machine *hart.Machine
	layout  mm.Layout
	frames  *mm.FrameAllocator
	kspace  *mm.AddressSpace
	tramp   *ring0.Trampoline
	apps    *loader.Table

	// tickCycles is the number of timer cycles between ticks.
	tickCycles uint64

	stdin  *fs.Stdin
	stdout *fs.Stdout

	procs   sync.Cell[processTable]
	kstacks sync.Cell[idAllocator]

	sched  *Scheduler
	timers *ksync.TimerWheel
	init   *Process

	// hostSignals carries signals sent from outside the machine. They are
	// delivered by the idle loop.
	hostSignals chan abi.Signal

	registry       *metric.Registry
	metrics        kernelMetrics
	unknownSyscall *log.KeyedLogger
	ignoredSignal  *log.KeyedLogger
}

// New boots a kernel: it builds the machine, maps the kernel address space,
// and creates the init process. Nothing runs until Run is called.
func New(cfg Config) (*Kernel, error) {
	if cfg.Apps == nil {
		return nil, errors.New("no application table")
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = mm.DefaultImageSize
	}
	if cfg.UserStackSize == 0 {
		cfg.UserStackSize = mm.DefaultUserStackSize
	}
	if cfg.KernelStackSize == 0 {
		cfg.KernelStackSize = mm.DefaultKernelStackSize
	}
	if cfg.TicksPerSecond == 0 {
		cfg.TicksPerSecond = DefaultTicksPerSecond
	}

	m := hart.New(cfg.Machine)
	k := &Kernel{
		machine:        m,
		apps:           cfg.Apps,
		sched:          newScheduler(),
		timers:         ksync.NewTimerWheel(),
		hostSignals:    make(chan abi.Signal, abi.NumSignals),
		registry:       cfg.Metrics,
		unknownSyscall: log.BasicKeyedLogger(time.Second),
		ignoredSignal:  log.BasicKeyedLogger(time.Second),
	}
	if k.registry == nil {
		k.registry = metric.NewRegistry()
	}
	if err := k.initMetrics(); err != nil {
		return nil, err
	}
	log.Infof("[kernel] Hello, world!")

	layout, err := mm.NewLayout(m.Mem.Base(), m.Mem.Size(), cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	if err := layout.SetStackSizes(cfg.UserStackSize, cfg.KernelStackSize); err != nil {
		return nil, err
	}
	k.layout = layout
	start, end := k.layout.FramePages()
	k.frames = mm.NewFrameAllocator(m.Mem, start, end)
	log.Infof("[kernel] %d physical frames available", k.frames.Available())

	k.kspace, err = mm.NewKernelSpace(k.frames, &k.layout)
	if err != nil {
		return nil, fmt.Errorf("building kernel address space: %w", err)
	}
	k.kspace.Activate(m.CPU)
	k.tramp = ring0.NewTrampoline(m, &k.layout)
	k.procs.Init("process table", processTable{
		pids:  idAllocator{name: "pid"},
		byPID: make(map[int]*Process),
	})
	k.kstacks.Init("kernel stacks", idAllocator{name: "kernel stack"})
	k.stdin = fs.NewStdin(m.Console)
	k.stdout = fs.NewStdout(m.Console)

	k.tickCycles = m.Timer.Freq() / cfg.TicksPerSecond
	if k.tickCycles == 0 {
		return nil, fmt.Errorf("%d ticks per second is faster than the %d Hz clock", cfg.TicksPerSecond, m.Timer.Freq())
	}
	m.CPU.EnableTimerInterrupt()
	k.setNextTrigger()

	log.Infof("%s", k.apps)
	image, err := k.apps.Get(cfg.Init)
	if err != nil {
		return nil, fmt.Errorf("loading init: %w", err)
	}
	args := append([]string{cfg.Init}, cfg.InitArgs...)
	k.init, err = k.newProcess(image, args, nil)
	if err != nil {
		return nil, fmt.Errorf("creating init: %w", err)
	}
	log.Infof("[kernel] init process %q is pid %d", cfg.Init, k.init.pid)
	return k, nil
}

func (k *Kernel) initMetrics() error {
	names := []string{"unknown"}
	for _, s := range abi.Sysnos() {
		names = append(names, s.String())
	}
	var err error
	if k.metrics.syscalls, err = k.registry.NewUint64Metric("/kernel/syscalls", true, "System calls made, by name.", metric.NewField("sysno", names)); err != nil {
		return err
	}
	if k.metrics.traps, err = k.registry.NewUint64Metric("/kernel/traps", true, "Traps taken from user mode, by kind.", metric.NewField("kind", trapKinds)); err != nil {
		return err
	}
	if k.metrics.switches, err = k.registry.NewUint64Metric("/kernel/context_switches", true, "Switches from the idle loop into a thread."); err != nil {
		return err
	}
	if k.metrics.exits, err = k.registry.NewUint64Metric("/kernel/process_exits", true, "Processes that became zombies."); err != nil {
		return err
	}
	return nil
}

// Machine returns the simulated machine.
func (k *Kernel) Machine() *hart.Machine {
	return k.machine
}

// Console returns the machine console.
func (k *Kernel) Console() *hart.Console {
	return k.machine.Console
}

// Layout returns the kernel layout.
func (k *Kernel) Layout() *mm.Layout {
	return &k.layout
}

// Frames returns the physical frame allocator.
func (k *Kernel) Frames() *mm.FrameAllocator {
	return k.frames
}

// Metrics returns the registry holding the kernel's metrics.
func (k *Kernel) Metrics() *metric.Registry {
	return k.registry
}

// Init returns the init process.
func (k *Kernel) Init() *Process {
	return k.init
}

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *Scheduler {
	return k.sched
}

// SendSignal queues sig for delivery to the init process. It may be called
// from any goroutine; the signal is delivered the next time the processor
// is idle. It returns false if too many signals are already queued.
func (k *Kernel) SendSignal(sig abi.Signal) bool {
	select {
	case k.hostSignals <- sig:
		return true
	default:
		return false
	}
}

// process returns the live or zombie process with the given pid, or nil.
func (k *Kernel) process(pid int) *Process {
	return sync.Get(&k.procs, func(t *processTable) *Process {
		return t.byPID[pid]
	})
}

// NumProcesses returns the number of processes that have not been reaped.
func (k *Kernel) NumProcesses() int {
	return sync.Get(&k.procs, func(t *processTable) int {
		return len(t.byPID)
	})
}

// setNextTrigger programs the next timer interrupt one tick from now.
func (k *Kernel) setNextTrigger() {
	k.machine.SetTimer(k.machine.Timer.Now() + k.tickCycles)
}

// tick services a timer interrupt: it re-arms the timer and wakes every
// thread whose sleep is over.
func (k *Kernel) tick() {
	k.setNextTrigger()
	k.timers.Expire(k.machine.Timer.Milliseconds(), k.sched)
}

// deliverHostSignals delivers the signals queued by SendSignal.
func (k *Kernel) deliverHostSignals() {
	for {
		select {
		case sig := <-k.hostSignals:
			if !k.init.kill(sig) {
				log.Warningf("[kernel] host signal %v not delivered to init", sig)
			}
		default:
			return
		}
	}
}

// Run runs the processor's idle loop on the calling goroutine until the
// machine shuts down, and returns the init process's exit code.
//
// Run returns ErrDeadlock if every thread is blocked with no sleeper to wake
// them, and ctx's error if ctx is done first. In both cases the machine is
// shut down.
func (k *Kernel) Run(ctx context.Context) (int, error) {
	k.sched.idle = ring0.CurrentContext()
	defer k.releaseThreads()
	for {
		if halted, code, _ := k.machine.Halted(); halted {
			return code, nil
		}
		if err := ctx.Err(); err != nil {
			log.Warningf("[kernel] stopping: %v", err)
			k.machine.Shutdown(abi.Failure, true)
			return abi.Failure, err
		}
		k.deliverHostSignals()

		if t := k.sched.pop(); t != nil {
			k.metrics.switches.Increment()
			ring0.Switch(k.sched.idle, t.ctx)
			k.sched.setCurrent(nil)
			continue
		}
		if k.timers.Len() == 0 {
			log.Warningf("[kernel] no thread is ready and none is sleeping, shutting down")
			k.machine.Shutdown(abi.Failure, true)
			return abi.Failure, ErrDeadlock
		}
		// Everyone is asleep: idle until the next tick.
		k.machine.WaitForInterrupt()
		k.tick()
	}
}

// releaseThreads discards every suspended thread once the machine has
// stopped, so that their goroutines exit.
func (k *Kernel) releaseThreads() {
	var procs []*Process
	k.procs.With(func(t *processTable) {
		for _, p := range t.byPID {
			procs = append(procs, p)
		}
	})
	for _, p := range procs {
		for _, t := range p.threadList() {
			t.ctx.Release()
		}
	}
}
