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


// Package cmd holds implementations of the rvcore commands.
package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"rvcore.dev/rvcore/pkg/log"
)

// ErrorLogger is where errors are written in addition to the log.
var ErrorLogger io.Writer

// Errorf logs an error, prints it to stderr, and returns ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "rvcore: %s\n", msg)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "%s\n", msg)
	}
	return subcommands.ExitFailure
}

// Fatalf logs an error, prints it to stderr, and exits.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// crlfWriter turns "\n" into "\r\n". A terminal in raw mode no longer does
// it for us.
type crlfWriter struct {
	w io.Writer
}

// TerminalWriter returns w, translating newlines if raw is set.
func TerminalWriter(w io.Writer, raw bool) io.Writer {
	if !raw {
		return w
	}
	return crlfWriter{w}
}

// Write implements io.Writer.Write.
func (c crlfWriter) Write(p []byte) (int, error) {
	if bytes.IndexByte(p, '\n') < 0 {
		return c.w.Write(p)
	}
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ctrlC is the byte a raw terminal sends for ^C.
const ctrlC = 0x03

// interruptReader strips ^C from a raw terminal's input and calls interrupt
// for each one.
type interruptReader struct {
	r         io.Reader
	interrupt func()
}

// Read implements io.Reader.Read.
func (ir *interruptReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	out := p[:0]
	for _, b := range p[:n] {
		if b == ctrlC {
			ir.interrupt()
			continue
		}
		out = append(out, b)
	}
	return len(out), err
}
