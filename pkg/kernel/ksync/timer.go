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

package ksync

import (
	"github.com/google/btree"
	"rvcore.dev/rvcore/pkg/sync"
)

// timer is a sleeping thread. seq breaks ties between equal expiries so
// that timers set for the same instant fire in the order they were added.
type timer struct {
	expire uint64
	seq    uint64
	key    Key
}

func timerLess(a, b timer) bool {
	if a.expire != b.expire {
		return a.expire < b.expire
	}
	return a.seq < b.seq
}

type wheelState struct {
	timers *btree.BTreeG[timer]
	seq    uint64
}

// TimerWheel holds sleeping threads ordered by absolute expiry time, in
// milliseconds.
type TimerWheel struct {
	state sync.Cell[wheelState]
}

// NewTimerWheel returns an empty wheel.
func NewTimerWheel() *TimerWheel {
	w := &TimerWheel{}
	w.state.Init("timer wheel", wheelState{
		timers: btree.NewG(8, timerLess),
	})
	return w
}

// Add arranges for k to be woken once the time reaches expire.
func (w *TimerWheel) Add(expire uint64, k Key) {
	w.state.With(func(s *wheelState) {
		s.seq++
		s.timers.ReplaceOrInsert(timer{expire: expire, seq: s.seq, key: k})
	})
}

// Expire removes every timer due at now and wakes its thread, earliest
// first. It returns the number of timers that fired.
func (w *TimerWheel) Expire(now uint64, s Scheduler) int {
	var due []Key
	w.state.With(func(ws *wheelState) {
		for {
			t, ok := ws.timers.Min()
			if !ok || t.expire > now {
				return
			}
			ws.timers.DeleteMin()
			due = append(due, t.key)
		}
	})
	for _, k := range due {
		s.Wakeup(k)
	}
	return len(due)
}

// Remove drops every timer of k.
func (w *TimerWheel) Remove(k Key) {
	w.state.With(func(ws *wheelState) {
		var drop []timer
		ws.timers.Ascend(func(t timer) bool {
			if t.key == k {
				drop = append(drop, t)
			}
			return true
		})
		for _, t := range drop {
			ws.timers.Delete(t)
		}
	})
}

// Next returns the earliest expiry, if any timer is set.
func (w *TimerWheel) Next() (at uint64, ok bool) {
	w.state.With(func(ws *wheelState) {
		var t timer
		t, ok = ws.timers.Min()
		at = t.expire
	})
	return at, ok
}

// Len returns the number of timers set.
func (w *TimerWheel) Len() int {
	return sync.Get(&w.state, func(ws *wheelState) int { return ws.timers.Len() })
}
