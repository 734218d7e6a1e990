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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Tests that Level can marshal/unmarshal properly.
func TestLevelMarshal(t *testing.T) {
	lvs := []Level{Warning, Info, Debug}
	for _, lv := range lvs {
		bs, err := lv.MarshalJSON()
		if err != nil {
			t.Errorf("error marshaling %v: %v", lv, err)
		}
		var lv2 Level
		if err := lv2.UnmarshalJSON(bs); err != nil {
			t.Errorf("error unmarshaling %v: %v", bs, err)
		}
		if lv != lv2 {
			t.Errorf("marshal/unmarshal level got %v wanted %v", lv2, lv)
		}
	}
}

// Test that integers can be properly unmarshaled.
func TestUnmarshalFromInt(t *testing.T) {
	tcs := []struct {
		i    int
		want Level
	}{
		{0, Warning},
		{1, Info},
		{2, Debug},
	}

	for _, tc := range tcs {
		j, err := json.Marshal(tc.i)
		if err != nil {
			t.Errorf("error marshaling %v: %v", tc.i, err)
		}
		var lv Level
		if err := lv.UnmarshalJSON(j); err != nil {
			t.Errorf("error unmarshaling %v: %v", j, err)
		}
		if lv != tc.want {
			t.Errorf("marshal/unmarshal %v got %v want %v", tc.i, lv, tc.want)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	e.Emit(0, Info, ts, "hart %d idle", 0)

	var got record
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", buf.String(), err)
	}
	if got.Msg != "hart 0 idle" || got.Level != Info || !got.Time.Equal(ts) || got.Component != "" {
		t.Errorf("record: got %+v", got)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller: got %q, wanted json_test.go:<line>", got.Caller)
	}
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("level not written by name: %s", buf.String())
	}
}

func intp(n int) *int { return &n }

func TestJSONEmitterTag(t *testing.T) {
	for _, tc := range []struct {
		msg       string
		component string
		pid, tid  *int
		want      string
	}{
		{
			msg:       "[kernel] pid 3 tid 1: illegal instruction",
			component: "kernel",
			pid:       intp(3),
			tid:       intp(1),
			want:      "illegal instruction",
		},
		{
			msg:       "[kernel] pid 0: fork: out of memory",
			component: "kernel",
			pid:       intp(0),
			want:      "fork: out of memory",
		},
		{
			msg:       "[kernel] pid 2 exited with code 0",
			component: "kernel",
			want:      "pid 2 exited with code 0",
		},
		{
			msg:       "[mm] mapping .text",
			component: "mm",
			want:      "mapping .text",
		},
		{
			msg:  "[unterminated pid 1: x",
			want: "[unterminated pid 1: x",
		},
	} {
		var buf bytes.Buffer
		e := JSONEmitter{&Writer{Next: &buf}}
		e.Emit(0, Warning, time.Time{}, "%s", tc.msg)
		var got record
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("json.Unmarshal(%q): %v", buf.String(), err)
		}
		want := record{Level: Warning, Component: tc.component, PID: tc.pid, TID: tc.tid, Msg: tc.want}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(record{}, "Caller")); diff != "" {
			t.Errorf("%q: record mismatch (-want +got):\n%s", tc.msg, diff)
		}
	}
}
