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


package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"rvcore.dev/rvcore/pkg/apps"
	"rvcore.dev/rvcore/pkg/config"
	"rvcore.dev/rvcore/pkg/hart"
	"rvcore.dev/rvcore/pkg/mm"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "load an application and print its address space"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <app> - load an application into a scratch address space
and print its entry point, user stack base and mapped areas.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.format, "format", "yaml", "output format: yaml or json")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	r, err := inspect(conf, f.Arg(0))
	if err != nil {
		return Errorf("inspecting %q: %v", f.Arg(0), err)
	}
	if err := r.write(os.Stdout, i.format); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// areaReport describes one mapped area.
type areaReport struct {
	Start  string `json:"start" yaml:"start"`
	End    string `json:"end" yaml:"end"`
	Type   string `json:"type" yaml:"type"`
	Perm   string `json:"perm" yaml:"perm"`
	Frames int    `json:"frames" yaml:"frames"`
}

// report is what inspect prints.
type report struct {
	Name          string       `json:"name" yaml:"name"`
	Entry         string       `json:"entry" yaml:"entry"`
	UserStackBase string       `json:"user_stack_base" yaml:"user_stack_base"`
	UserStackTop  string       `json:"user_stack_top" yaml:"user_stack_top"`
	Frames        uint64       `json:"frames" yaml:"frames"`
	Areas         []areaReport `json:"areas" yaml:"areas"`
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

// inspect loads the application name on a scratch machine built from conf.
func inspect(conf *config.Config, name string) (*report, error) {
	image, err := apps.Build(name)
	if err != nil {
		return nil, err
	}
	m := hart.New(hart.Config{MemSize: conf.MemSize, Console: io.Discard})
	layout, err := mm.NewLayout(m.Mem.Base(), m.Mem.Size(), conf.ImageSize)
	if err != nil {
		return nil, err
	}
	if err := layout.SetStackSizes(conf.UserStackSize, conf.KernelStackSize); err != nil {
		return nil, err
	}
	start, end := layout.FramePages()
	frames := mm.NewFrameAllocator(m.Mem, start, end)
	before := frames.Available()

	as, info, err := mm.LoadELF(frames, &layout, image)
	if err != nil {
		return nil, err
	}
	defer as.Release()

	r := &report{
		Name:          name,
		Entry:         hex(info.Entry),
		UserStackBase: hex(info.UserStackBase),
		UserStackTop:  hex(layout.UserStackTop(info.UserStackBase, 0)),
		Frames:        before - frames.Available(),
	}
	for _, a := range as.Areas() {
		r.Areas = append(r.Areas, areaReport{
			Start:  hex(a.Start),
			End:    hex(a.End),
			Type:   a.Type,
			Perm:   a.Perm,
			Frames: a.Frames,
		})
	}
	return r, nil
}

// write prints r in format.
func (r *report) write(w io.Writer, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown format %q, wanted yaml or json", format)
	}
}
