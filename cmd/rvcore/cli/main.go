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


// Package cli is the main entrypoint for rvcore.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"rvcore.dev/rvcore/cmd/rvcore/cmd"
	"rvcore.dev/rvcore/pkg/config"
	"rvcore.dev/rvcore/pkg/log"
)

// configFile names a TOML file holding the configuration. Flags given on the
// command line override its values.
var configFile = flag.String("config", "", "TOML configuration file; flags given on the command line win.")

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	var (
		conf *config.Config
		err  error
	)
	if *configFile != "" {
		conf, err = config.Load(*configFile, flag.CommandLine)
	} else {
		conf, err = config.NewFromFlags(flag.CommandLine)
	}
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var logFile io.Writer
	if conf.LogFilename != "" {
		f, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{Init: conf.Init, Now: time.Now()})
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
		cmd.ErrorLogger = f
	} else {
		// boot puts a terminal into raw mode, so stderr needs its own
		// carriage returns.
		logFile = cmd.TerminalWriter(os.Stderr, term.IsTerminal(unix.Stdin))
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))

	const delimString = `**************** rvcore ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, PID %d", runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", os.Args)
	log.Infof("Config: %v", conf.ToFlags())
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var exitCode int
	subcmdCode := subcommands.Execute(context.Background(), conf, &exitCode)
	if subcmdCode == subcommands.ExitSuccess {
		os.Exit(exitCode)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// rvcore.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Apps), "")

	const debugGroup = "debug"
	cb(new(cmd.Inspect), debugGroup)
}

func newEmitter(format config.LogFormat, logFile io.Writer) log.Emitter {
	switch format {
	case config.LogFormatText:
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case config.LogFormatJSON:
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case config.LogFormatLogrus:
		return log.NewLogrusEmitter(logFile)
	}
	cmd.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}
