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
	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/sync"
)

// sysKill implements kill(pid, sig).
func sysKill(t *Thread, args SyscallArguments) int64 {
	pid, sig := args[0].FD(), abi.Signal(args[1].Int())
	if !sig.IsValid() {
		return abi.Failure
	}
	target := t.k.process(pid)
	if target == nil || !target.kill(sig) {
		return abi.Failure
	}
	return 0
}

// sysSigaction implements sigaction(sig, act, oldact). SIGKILL and SIGSTOP
// cannot be caught, and act must not be NULL. The previous action is stored
// at oldact unless it is NULL.
func sysSigaction(t *Thread, args SyscallArguments) int64 {
	sig, actPtr, oldPtr := abi.Signal(args[0].Int()), args[1].Pointer(), args[2].Pointer()
	if !sig.IsValid() || sig == abi.SIGKILL || sig == abi.SIGSTOP || actPtr == 0 {
		return abi.Failure
	}
	p := t.process()
	mem := p.userMemory()
	b, err := mem.ReadBytes(actPtr, abi.SignalActionSize)
	if err != nil {
		return abi.Failure
	}
	var act abi.SignalAction
	act.UnmarshalBytes(b)
	old := sync.Get(&p.inner, func(s *processState) abi.SignalAction {
		return s.sig.actions[sig]
	})
	if oldPtr != 0 {
		buf := make([]byte, old.SizeBytes())
		old.MarshalBytes(buf)
		if err := mem.WriteBytes(oldPtr, buf); err != nil {
			return abi.Failure
		}
	}
	p.inner.With(func(s *processState) {
		s.sig.actions[sig] = act
	})
	return 0
}

// sysSigprocmask implements sigprocmask(mask) and returns the previous mask.
func sysSigprocmask(t *Thread, args SyscallArguments) int64 {
	v := args[0].Uint64()
	if v > uint64(^uint32(0)) {
		return abi.Failure
	}
	p := t.process()
	return sync.Get(&p.inner, func(s *processState) int64 {
		old := s.sig.mask
		s.sig.mask = abi.SignalSet(v)
		return int64(old)
	})
}

// sysSigreturn implements sigreturn().
func sysSigreturn(t *Thread, _ SyscallArguments) int64 {
	return t.sigreturn()
}
