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

package abi

import (
	"encoding/binary"
	"fmt"
	"strings"

	"rvcore.dev/rvcore/pkg/bits"
)

const (
	// MaxSignal is the highest signal number.
	MaxSignal = 31

	// NumSignals is the number of signal numbers, including SIGDEF.
	NumSignals = MaxSignal + 1
)

// Signal is a signal number.
type Signal int

// IsValid returns true if s is a signal number. Unlike POSIX, 0 (SIGDEF) is
// a deliverable signal.
func (s Signal) IsValid() bool {
	return s >= 0 && s <= MaxSignal
}

// Signals.
const (
	SIGDEF    = Signal(0)
	SIGHUP    = Signal(1)
	SIGINT    = Signal(2)
	SIGQUIT   = Signal(3)
	SIGILL    = Signal(4)
	SIGTRAP   = Signal(5)
	SIGABRT   = Signal(6)
	SIGBUS    = Signal(7)
	SIGFPE    = Signal(8)
	SIGKILL   = Signal(9)
	SIGUSR1   = Signal(10)
	SIGSEGV   = Signal(11)
	SIGUSR2   = Signal(12)
	SIGPIPE   = Signal(13)
	SIGALRM   = Signal(14)
	SIGTERM   = Signal(15)
	SIGSTKFLT = Signal(16)
	SIGCHLD   = Signal(17)
	SIGCONT   = Signal(18)
	SIGSTOP   = Signal(19)
	SIGTSTP   = Signal(20)
	SIGTTIN   = Signal(21)
	SIGTTOU   = Signal(22)
	SIGURG    = Signal(23)
	SIGXCPU   = Signal(24)
	SIGXFSZ   = Signal(25)
	SIGVTALRM = Signal(26)
	SIGPROF   = Signal(27)
	SIGWINCH  = Signal(28)
	SIGIO     = Signal(29)
	SIGPWR    = Signal(30)
	SIGSYS    = Signal(31)
)

var signalNames = [NumSignals]string{
	"SIGDEF", "SIGHUP", "SIGINT", "SIGQUIT", "SIGILL", "SIGTRAP", "SIGABRT", "SIGBUS",
	"SIGFPE", "SIGKILL", "SIGUSR1", "SIGSEGV", "SIGUSR2", "SIGPIPE", "SIGALRM", "SIGTERM",
	"SIGSTKFLT", "SIGCHLD", "SIGCONT", "SIGSTOP", "SIGTSTP", "SIGTTIN", "SIGTTOU", "SIGURG",
	"SIGXCPU", "SIGXFSZ", "SIGVTALRM", "SIGPROF", "SIGWINCH", "SIGIO", "SIGPWR", "SIGSYS",
}

// String implements fmt.Stringer.
func (s Signal) String() string {
	if s.IsValid() {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// SignalSet is a set of signals. Signal s is bit 1<<s.
type SignalSet uint32

// SignalSetOf returns a SignalSet with a single signal set.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(bits.MaskOf64(int(sig)))
}

// MakeSignalSet returns a SignalSet with the bit corresponding to each of
// the given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	var set SignalSet
	for _, sig := range sigs {
		set |= SignalSetOf(sig)
	}
	return set
}

// Contains returns true if sig is in s.
func (s SignalSet) Contains(sig Signal) bool {
	return sig.IsValid() && s&SignalSetOf(sig) != 0
}

// ForEachSignal invokes f for each signal in the given set, lowest first.
func ForEachSignal(set SignalSet, f func(sig Signal)) {
	bits.ForEachSetBit64(uint64(set), func(i int) {
		f(Signal(i))
	})
}

// String implements fmt.Stringer.
func (s SignalSet) String() string {
	var names []string
	ForEachSignal(s, func(sig Signal) {
		names = append(names, sig.String())
	})
	return "{" + strings.Join(names, ",") + "}"
}

// DefaultActionMask is the action mask of a signal whose action has never
// been set.
var DefaultActionMask = MakeSignalSet(SIGQUIT, SIGTRAP)

// SignalAction is what a process does on delivery of a signal: jump to
// Handler with Mask additionally blocked. A zero Handler means no handler is
// installed.
type SignalAction struct {
	Handler uint64
	Mask    SignalSet
}

// SignalActionSize is the size of a SignalAction in user memory: the
// handler doubleword followed by the mask, padded to 16 bytes.
const SignalActionSize = 16

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (*SignalAction) SizeBytes() int {
	return SignalActionSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (a *SignalAction) MarshalBytes(dst []byte) []byte {
	binary.LittleEndian.PutUint64(dst, a.Handler)
	binary.LittleEndian.PutUint32(dst[8:], uint32(a.Mask))
	clear(dst[12:SignalActionSize])
	return dst[SignalActionSize:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (a *SignalAction) UnmarshalBytes(src []byte) []byte {
	a.Handler = binary.LittleEndian.Uint64(src)
	a.Mask = SignalSet(binary.LittleEndian.Uint32(src[8:]))
	return src[SignalActionSize:]
}

// DefaultSignalAction returns the action of a signal never set.
func DefaultSignalAction() SignalAction {
	return SignalAction{Mask: DefaultActionMask}
}

// fatal lists the signals that end a process when left pending, in the order
// they are checked, with their exit message.
var fatal = []struct {
	sig Signal
	msg string
}{
	{SIGINT, "Killed, SIGINT=2"},
	{SIGILL, "Illegal Instruction, SIGILL=4"},
	{SIGABRT, "Aborted, SIGABRT=6"},
	{SIGFPE, "Erroneous Arithmetic Operation, SIGFPE=8"},
	{SIGKILL, "Killed, SIGKILL=9"},
	{SIGSEGV, "Segmentation Fault, SIGSEGV=11"},
}

// FatalSignals is the set of signals that end a process if still pending
// after delivery.
var FatalSignals = func() SignalSet {
	var set SignalSet
	for _, f := range fatal {
		set |= SignalSetOf(f.sig)
	}
	return set
}()

// CheckFatal returns the exit code and message for the first fatal signal
// in pending, if any.
func CheckFatal(pending SignalSet) (code int, msg string, ok bool) {
	for _, f := range fatal {
		if pending.Contains(f.sig) {
			return -int(f.sig), f.msg, true
		}
	}
	return 0, "", false
}
