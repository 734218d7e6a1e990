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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"rvcore.dev/rvcore/pkg/abi"
	"rvcore.dev/rvcore/pkg/apps"
	"rvcore.dev/rvcore/pkg/config"
	"rvcore.dev/rvcore/pkg/kernel"
	"rvcore.dev/rvcore/pkg/log"
	"rvcore.dev/rvcore/pkg/prometheus"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// timeout bounds the run. Zero means no bound.
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel with the bundled applications"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] [args...] - boot the kernel and run init.

The console is connected to stdin and stdout. Remaining arguments are passed
to the init program after its name. SIGINT is forwarded to init as SIGINT and
SIGTERM as SIGKILL. rvcore exits with init's exit code.

EXAMPLE:
    $ rvcore boot
    $ rvcore --init=cmdline_args boot a b c
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&b.timeout, "timeout", 0, "stop the machine after this long")
}

// Execute implements subcommands.Command.Execute. It expects a *config.Config
// and an *int receiving init's exit code.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	exitCode := args[1].(*int)

	tbl, err := apps.Table()
	if err != nil {
		return Errorf("building applications: %v", err)
	}

	raw := term.IsTerminal(unix.Stdin)
	if raw {
		old, err := term.MakeRaw(unix.Stdin)
		if err != nil {
			return Errorf("setting terminal raw mode: %v", err)
		}
		defer term.Restore(unix.Stdin, old)
	}

	k, err := kernel.New(conf.KernelConfig(tbl, f.Args(), TerminalWriter(os.Stdout, raw)))
	if err != nil {
		return Errorf("booting: %v", err)
	}

	stdin, err := pollableStdin()
	if err != nil {
		return Errorf("%v", err)
	}
	defer unix.SetNonblock(unix.Stdin, false)

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		forwardSignals(k, sigs, done)
		return nil
	})
	g.Go(func() error {
		var in io.Reader = stdin
		if raw {
			in = &interruptReader{r: stdin, interrupt: func() { k.SendSignal(abi.SIGINT) }}
		}
		if err := k.Console().Pump(in); err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("reading console input: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		// Unblock the console pump once the machine is gone.
		defer stdin.SetReadDeadline(time.Now())
		code, err := k.Run(gctx)
		*exitCode = code
		return err
	})
	runErr := g.Wait()

	if conf.MetricsFile != "" {
		if err := writeMetrics(conf, k); err != nil {
			log.Warningf("Writing metrics: %v", err)
		}
	}
	if runErr != nil {
		return Errorf("kernel stopped: %v", runErr)
	}
	log.Infof("Init exited with code %d", *exitCode)
	return subcommands.ExitSuccess
}

// pollableStdin returns stdin switched to non-blocking mode, so that its
// reads honor deadlines.
func pollableStdin() (*os.File, error) {
	if err := unix.SetNonblock(unix.Stdin, true); err != nil {
		return nil, fmt.Errorf("setting stdin non-blocking: %w", err)
	}
	return os.NewFile(uintptr(unix.Stdin), "/dev/stdin"), nil
}

// forwardSignals delivers host signals to init until done is closed.
func forwardSignals(k *kernel.Kernel, sigs <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case s := <-sigs:
			sig := abi.SIGINT
			if s == unix.SIGTERM {
				sig = abi.SIGKILL
			}
			log.Infof("Forwarding host signal %v to init as %v", s, sig)
			if !k.SendSignal(sig) {
				log.Warningf("Signal queue full, dropped %v", sig)
			}
		case <-done:
			return
		}
	}
}

// writeMetrics writes the kernel metrics to conf.MetricsFile.
func writeMetrics(conf *config.Config, k *kernel.Kernel) error {
	f, err := os.Create(conf.MetricsFile)
	if err != nil {
		return err
	}
	opts := prometheus.ExportOptions{
		Prefix: prometheus.DefaultPrefix,
		Labels: map[string]string{"init": conf.Init},
	}
	if _, err := prometheus.Write(f, k.Metrics(), opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
