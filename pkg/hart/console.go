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

package hart

import (
	"io"
	"time"

	"rvcore.dev/rvcore/pkg/sync"
)

// Console is the machine's UART as seen through the SBI: an output sink and
// an input queue filled by the host.
//
// The input side is fed from a host goroutine and is therefore protected by a
// real mutex.
type Console struct {
	out io.Writer

	mu     sync.Mutex
	input  []byte
	closed bool

	// notify is signalled whenever input is fed or closed.
	notify chan struct{}
}

// NewConsole returns a console writing to out.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{out: out, notify: make(chan struct{}, 1)}
}

func (c *Console) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Putchar writes one byte.
func (c *Console) Putchar(b byte) {
	c.out.Write([]byte{b})
}

// Write writes p in one go.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Feed appends host input.
func (c *Console) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = append(c.input, p...)
	c.wake()
}

// CloseInput marks the end of host input. Once the queue drains, Getchar
// reports end of file.
func (c *Console) CloseInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.wake()
}

// Getchar returns the next input byte. If none is queued, ok is false and eof
// reports whether more input may still arrive.
func (c *Console) Getchar() (b byte, ok bool, eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.input) == 0 {
		return 0, false, c.closed
	}
	b = c.input[0]
	c.input = c.input[1:]
	return b, true, false
}

// WaitInput blocks the host for at most d until input is fed or closed. It
// returns true if that happened.
func (c *Console) WaitInput(d time.Duration) bool {
	c.mu.Lock()
	ready := len(c.input) > 0 || c.closed
	c.mu.Unlock()
	if ready {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.notify:
		return true
	case <-t.C:
		return false
	}
}

// Pump copies r into the console input until r is exhausted, then closes the
// input.
func (c *Console) Pump(r io.Reader) error {
	defer c.CloseInput()
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
