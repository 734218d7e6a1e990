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


package kernel

import (
	"fmt"

	"github.com/mohae/deepcopy"
	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/riscv"
	"rvcore.dev/rvcore/pkg/ring0"
	"rvcore.dev/rvcore/pkg/sync"
)

// noSignal is the handling signal while no user handler runs.
const noSignal abi.Signal = -1

type signalActions [abi.NumSignals]abi.SignalAction

// signalState is the signal disposition of a process.
type signalState struct {
	pending abi.SignalSet
	mask    abi.SignalSet
	actions signalActions

	// handling is the signal whose user handler is running, or noSignal.
	handling abi.Signal

	// frozen is set by SIGSTOP and cleared by SIGCONT. killed is set by
	// SIGKILL and SIGDEF.
	frozen bool
	killed bool

	// backup is the trap context interrupted by the running handler.
	backup *ring0.TrapContext
}

func newSignalState() signalState {
	s := signalState{handling: noSignal}
	s.resetActions()
	return s
}

// resetActions restores every action to its default.
func (s *signalState) resetActions() {
	for i := range s.actions {
		s.actions[i] = abi.DefaultSignalAction()
	}
}

// fork returns the disposition of a forked child: the same actions and
// mask, with nothing pending. A child forked inside a handler is inside the
// same handler with its own copy of the interrupted context.
func (s *signalState) fork() signalState {
	c := signalState{
		mask:     s.mask,
		actions:  s.actions,
		handling: s.handling,
	}
	if s.backup != nil {
		c.backup = deepcopy.Copy(s.backup).(*ring0.TrapContext)
	}
	return c
}

// kill makes sig pending. It returns false if p is a zombie or sig is
// already pending.
func (p *Process) kill(sig abi.Signal) bool {
	return sync.Get(&p.inner, func(s *processState) bool {
		if s.zombie || s.sig.pending.Contains(sig) {
			return false
		}
		s.sig.pending |= abi.SignalSetOf(sig)
		return true
	})
}

// sendSignal makes sig pending, as a fault does.
func (p *Process) sendSignal(sig abi.Signal) {
	p.inner.With(func(s *processState) {
		s.sig.pending |= abi.SignalSetOf(sig)
	})
}

// deliverable returns true if sig is pending and neither blocked by the
// process mask nor by the action of the signal being handled.
func (s *signalState) deliverable(sig abi.Signal) bool {
	if !s.pending.Contains(sig) || s.mask.Contains(sig) {
		return false
	}
	return s.handling == noSignal || !s.actions[s.handling].Mask.Contains(sig)
}

// handleSignals delivers pending signals to the process of t. While the
// process is stopped the thread keeps giving up the hart until it is
// continued or killed.
func (t *Thread) handleSignals() {
	p := t.process()
	for {
		t.checkPendingSignals(p)
		var frozen, killed bool
		p.inner.With(func(s *processState) {
			frozen, killed = s.sig.frozen, s.sig.killed
		})
		if !frozen || killed {
			return
		}
		t.k.sched.Yield()
	}
}

// checkPendingSignals runs one delivery pass in signal number order. Kernel
// signals are acted on in place; the first deliverable user signal ends the
// pass.
func (t *Thread) checkPendingSignals(p *Process) {
	for sig := abi.Signal(0); sig <= abi.MaxSignal; sig++ {
		if !sync.Get(&p.inner, func(s *processState) bool { return s.sig.deliverable(sig) }) {
			continue
		}
		switch sig {
		case abi.SIGKILL, abi.SIGSTOP, abi.SIGCONT, abi.SIGDEF:
			p.kernelSignal(sig)
		default:
			t.userSignal(p, sig)
			return
		}
	}
}

// kernelSignal acts on a signal the kernel handles itself.
func (p *Process) kernelSignal(sig abi.Signal) {
	p.inner.With(func(s *processState) {
		switch sig {
		case abi.SIGSTOP:
			s.sig.frozen = true
			s.sig.pending &^= abi.SignalSetOf(sig)
		case abi.SIGCONT:
			s.sig.frozen = false
			s.sig.pending &^= abi.SignalSetOf(sig)
		default:
			s.sig.killed = true
		}
	})
}

// userSignal redirects t to the handler of sig, saving its trap context for
// sigreturn. A signal without a handler stays pending.
func (t *Thread) userSignal(p *Process, sig abi.Signal) {
	installed := sync.Get(&p.inner, func(s *processState) bool {
		handler := s.sig.actions[sig].Handler
		if handler == 0 {
			return false
		}
		s.sig.handling = sig
		s.sig.pending &^= abi.SignalSetOf(sig)
		f := t.trapFrame()
		tc := f.Load()
		backup := tc
		s.sig.backup = &backup
		tc.Sepc = handler
		tc.SetReg(riscv.A0, uint64(sig))
		f.Store(&tc)
		return true
	})
	if !installed {
		t.k.ignoredSignal.For(uint64(sig)).Debugf("[kernel] pid %d: no handler for %v, leaving it pending", p.pid, sig)
	}
}

// sigreturn ends the running handler: the interrupted trap context is
// restored verbatim and its a0 returned.
func (t *Thread) sigreturn() int64 {
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		if s.sig.backup == nil {
			return abi.Failure
		}
		tc := *s.sig.backup
		s.sig.backup = nil
		s.sig.handling = noSignal
		t.trapFrame().Store(&tc)
		return int64(tc.Reg(riscv.A0))
	})
}

// fatalSignal returns the exit code and message if p must die: a fatal
// signal is still pending after delivery, or the process was killed.
func (p *Process) fatalSignal() (code int, msg string, ok bool) {
	var pending abi.SignalSet
	var killed bool
	p.inner.With(func(s *processState) {
		pending, killed = s.sig.pending, s.sig.killed
	})
	if code, msg, ok := abi.CheckFatal(pending); ok {
		return code, msg, true
	}
	if killed {
		return abi.Failure, fmt.Sprintf("Killed, pending %v", pending), true
	}
	return 0, "", false
}
