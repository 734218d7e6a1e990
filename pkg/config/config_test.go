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


package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"rvcore.dev/rvcore/pkg/apps"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/kernel"
	"rvcore.dev/rvcore/pkg/loader"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.MemSize != hart.DefaultMemSize || c.Init != apps.InitProc || c.LogFormat != LogFormatText {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	if err := testFlags.Parse([]string{"--debug", "--ticks=50", "--log-format=json", "--init=hello_world"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := uint64(50); c.TicksPerSecond != want {
		t.Errorf("TicksPerSecond=%v, want: %v", c.TicksPerSecond, want)
	}
	if want := LogFormatJSON; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
	want := []string{"--ticks=50", "--init=hello_world", "--debug=true", "--log-format=json"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	orig := newFlagSet()
	if err := orig.Parse([]string{"--mem-size=8388608", "--metrics-file=/tmp/m", "--log-format=logrus"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(orig)
	if err != nil {
		t.Fatal(err)
	}
	again := newFlagSet()
	if err := again.Parse(c.ToFlags()); err != nil {
		t.Fatalf("Parse(%v): %v", c.ToFlags(), err)
	}
	c2, err := NewFromFlags(again)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBadFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--mem-size=1000"},
		{"--image-size=134217728"},
		{"--ticks=0"},
		{"--clock-freq=10"},
		{"--cycles-per-insn=0"},
		{"--user-stack-size=0"},
		{"--init= "},
	} {
		testFlags := newFlagSet()
		if err := testFlags.Parse(args); err != nil {
			t.Fatalf("Parse(%v): %v", args, err)
		}
		if _, err := NewFromFlags(testFlags); err == nil {
			t.Errorf("NewFromFlags(%v) succeeded", args)
		}
	}
	if err := newFlagSet().Parse([]string{"--log-format=xml"}); err == nil {
		t.Errorf("--log-format=xml accepted")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rvcore.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
mem_size = 16777216
ticks_per_second = 200
init = "user_shell"
log_format = "json"
`)
	testFlags := newFlagSet()
	if err := testFlags.Parse([]string{"--ticks=25"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := Load(path, testFlags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MemSize != 16<<20 {
		t.Errorf("MemSize = %d, wanted the file's 16 MiB", c.MemSize)
	}
	if c.TicksPerSecond != 25 {
		t.Errorf("TicksPerSecond = %d, wanted the flag's 25", c.TicksPerSecond)
	}
	if c.Init != apps.Shell || c.LogFormat != LogFormatJSON {
		t.Errorf("Init = %q, LogFormat = %q", c.Init, c.LogFormat)
	}
	if c.ClockFreq != hart.DefaultClockFreq {
		t.Errorf("ClockFreq = %d, wanted the default", c.ClockFreq)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, content := range []string{
		`no_such_key = 1`,
		`log_format = "xml"`,
		`mem_size = 100`,
		`mem_size = "big"`,
	} {
		if _, err := Load(writeFile(t, content), newFlagSet()); err == nil {
			t.Errorf("Load(%q) succeeded", content)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), newFlagSet()); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}

func TestKernelConfig(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	tbl := loader.NewTable()
	got := c.KernelConfig(tbl, []string{"a"}, &out)
	want := kernel.Config{
		Machine: hart.Config{
			MemSize:       hart.DefaultMemSize,
			ClockFreq:     hart.DefaultClockFreq,
			CyclesPerInsn: 1,
			Console:       &out,
		},
		ImageSize:       c.ImageSize,
		UserStackSize:   c.UserStackSize,
		KernelStackSize: c.KernelStackSize,
		TicksPerSecond:  kernel.DefaultTicksPerSecond,
		Apps:            tbl,
		Init:            apps.InitProc,
		InitArgs:        []string{"a"},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b *loader.Table) bool { return a == b }), cmp.Comparer(func(a, b *bytes.Buffer) bool { return a == b })); diff != "" {
		t.Errorf("KernelConfig mismatch (-want +got):\n%s", diff)
	}
}
