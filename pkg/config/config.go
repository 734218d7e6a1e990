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


// Package config holds the boot configuration of the kernel: machine
// geometry, stack sizes, the init program, and logging. A Config is built
// from command line flags, optionally layered over a TOML file.
package config

import (
	"flag"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"rvcore.dev/rvcore/pkg/apps"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/kernel"
	"rvcore.dev/rvcore/pkg/loader"
	"rvcore.dev/rvcore/pkg/mm"
	"rvcore.dev/rvcore/pkg/riscv"
)

// LogFormat selects the log emitter.
type LogFormat string

// Supported log formats.
const (
	LogFormatText   LogFormat = "text"
	LogFormatJSON   LogFormat = "json"
	LogFormatLogrus LogFormat = "logrus"
)

func logFormatPtr(v LogFormat) *LogFormat {
	return &v
}

// Set implements flag.Value.
func (f *LogFormat) Set(v string) error {
	switch LogFormat(v) {
	case LogFormatText, LogFormatJSON, LogFormatLogrus:
		*f = LogFormat(v)
		return nil
	default:
		return fmt.Errorf("invalid log format %q, wanted one of text, json, logrus", v)
	}
}

// Get implements flag.Getter.
func (f *LogFormat) Get() any {
	return *f
}

// String implements flag.Value.
func (f LogFormat) String() string {
	return string(f)
}

// UnmarshalText implements encoding.TextUnmarshaler, for TOML.
func (f *LogFormat) UnmarshalText(b []byte) error {
	return f.Set(string(b))
}

// Config holds the boot configuration.
//
// Fields tagged with "flag" are registered by RegisterFlags; fields tagged
// with "toml" may also come from a configuration file. A flag given on the
// command line wins over the file.
type Config struct {
	// MemSize is the size of RAM in bytes.
	MemSize uint64 `flag:"mem-size" toml:"mem_size"`

	// ImageSize is the size of the kernel image at the start of RAM.
	ImageSize uint64 `flag:"image-size" toml:"image_size"`

	// ClockFreq is the timer frequency in Hz.
	ClockFreq uint64 `flag:"clock-freq" toml:"clock_freq"`

	// CyclesPerInsn is the number of timer cycles charged per instruction.
	CyclesPerInsn uint64 `flag:"cycles-per-insn" toml:"cycles_per_insn"`

	// TicksPerSecond is the timer interrupt rate.
	TicksPerSecond uint64 `flag:"ticks" toml:"ticks_per_second"`

	UserStackSize   uint64 `flag:"user-stack-size" toml:"user_stack_size"`
	KernelStackSize uint64 `flag:"kernel-stack-size" toml:"kernel_stack_size"`

	// Init is the application started as pid 0.
	Init string `flag:"init" toml:"init"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is where kernel logs are written. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`

	LogFormat LogFormat `flag:"log-format" toml:"log_format"`

	// MetricsFile, if set, receives the kernel metrics in Prometheus text
	// format once the machine stops.
	MetricsFile string `flag:"metrics-file" toml:"metrics_file"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Machine flags.
	flagSet.Uint64("mem-size", hart.DefaultMemSize, "RAM size in bytes.")
	flagSet.Uint64("image-size", mm.DefaultImageSize, "size of the kernel image at the start of RAM, in bytes.")
	flagSet.Uint64("clock-freq", hart.DefaultClockFreq, "timer frequency in Hz.")
	flagSet.Uint64("cycles-per-insn", 1, "timer cycles charged for each retired instruction.")
	flagSet.Uint64("ticks", kernel.DefaultTicksPerSecond, "timer interrupts per second.")

	// Kernel flags.
	flagSet.Uint64("user-stack-size", mm.DefaultUserStackSize, "size of each user thread stack, in bytes.")
	flagSet.Uint64("kernel-stack-size", mm.DefaultKernelStackSize, "size of each kernel stack, in bytes.")
	flagSet.String("init", apps.InitProc, "application to run as the init process.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where kernel logs are written, default is stderr.")
	flagSet.Var(logFormatPtr(LogFormatText), "log-format", "log format: text (default), json, or logrus.")
	flagSet.String("metrics-file", "", "file path where metrics are written in Prometheus text format when the machine stops.")
}

// fields calls fn for each Config field with a flag tag.
func (c *Config) fields(fn func(name string, sf reflect.StructField, v reflect.Value)) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fn(name, f, obj.Field(i))
	}
}

func lookup(flagSet *flag.FlagSet, name string) *flag.Flag {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return fl
}

// fromFlags sets every field from its flag.
func (c *Config) fromFlags(flagSet *flag.FlagSet) {
	c.fields(func(name string, _ reflect.StructField, v reflect.Value) {
		fl := lookup(flagSet, name)
		v.Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
	})
}

// NewFromFlags creates a new Config with values coming from command line
// flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.fromFlags(flagSet)
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Load creates a Config from the TOML file at path, then applies every flag
// explicitly set in flagSet on top. Keys missing from the file keep their
// flag defaults.
func Load(path string, flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.fromFlags(flagSet)
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}

	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	conf.fields(func(name string, _ reflect.StructField, v reflect.Value) {
		if set[name] {
			v.Set(reflect.ValueOf(lookup(flagSet, name).Value.(flag.Getter).Get()))
		}
	})
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Fields left at their default produce no flag.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	c.fields(func(name string, _ reflect.StructField, v reflect.Value) {
		val := getVal(v)
		fl := lookup(flagSet, name)
		if val == fl.DefValue {
			return
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	})
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

func pageMultiple(name string, v uint64) error {
	if v == 0 || v%riscv.PageSize != 0 {
		return fmt.Errorf("%s %d is not a positive multiple of %d", name, v, riscv.PageSize)
	}
	return nil
}

func (c *Config) validate() error {
	for _, s := range []struct {
		name string
		v    uint64
	}{
		{"mem-size", c.MemSize},
		{"image-size", c.ImageSize},
		{"user-stack-size", c.UserStackSize},
		{"kernel-stack-size", c.KernelStackSize},
	} {
		if err := pageMultiple(s.name, s.v); err != nil {
			return err
		}
	}
	if c.ImageSize >= c.MemSize {
		return fmt.Errorf("image-size %d leaves no RAM out of mem-size %d", c.ImageSize, c.MemSize)
	}
	if c.ClockFreq < 1000 {
		return fmt.Errorf("clock-freq %d Hz cannot count milliseconds", c.ClockFreq)
	}
	if c.TicksPerSecond == 0 || c.TicksPerSecond > c.ClockFreq {
		return fmt.Errorf("ticks %d must be between 1 and clock-freq %d", c.TicksPerSecond, c.ClockFreq)
	}
	if c.CyclesPerInsn == 0 {
		return fmt.Errorf("cycles-per-insn must be positive")
	}
	if strings.TrimSpace(c.Init) == "" {
		return fmt.Errorf("init must name an application")
	}
	var f LogFormat
	if err := f.Set(string(c.LogFormat)); err != nil {
		return err
	}
	return nil
}

// KernelConfig returns the kernel configuration for booting init with args,
// the console writing to console.
func (c *Config) KernelConfig(table *loader.Table, args []string, console io.Writer) kernel.Config {
	return kernel.Config{
		Machine: hart.Config{
			MemSize:       c.MemSize,
			ClockFreq:     c.ClockFreq,
			CyclesPerInsn: c.CyclesPerInsn,
			Console:       console,
		},
		ImageSize:       c.ImageSize,
		UserStackSize:   c.UserStackSize,
		KernelStackSize: c.KernelStackSize,
		TicksPerSecond:  c.TicksPerSecond,
		Apps:            table,
		Init:            c.Init,
		InitArgs:        args,
	}
}
