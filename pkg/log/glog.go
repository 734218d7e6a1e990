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
	"fmt"
	"os"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	*Writer
}

// pid is used for the threadid component of the header.
var pid = os.Getpid()

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg...
//
// where the fields are defined as follows:
//
//	L                A single character, representing the log level (eg 'I' for INFO)
//	mm               The month (zero padded; ie May is '05')
//	dd               The day (zero padded)
//	hh:mm:ss.uuuuuu  Time in hours, minutes and fractional seconds
//	threadid         The space-padded thread ID as returned by GetTID()
//	file             The file name
//	line             The line number
//	msg              The user-supplied message
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	b := make([]byte, 0, 256)

	switch level {
	case Debug:
		b = append(b, 'D')
	case Info:
		b = append(b, 'I')
	case Warning:
		b = append(b, 'W')
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	b = fmt.Appendf(b, "%02d%02d %02d:%02d:%02d.%06d %7d ",
		int(month), day, hour, minute, second, timestamp.Nanosecond()/1000, pid)

	if file, line, ok := callerOf(depth + 1); ok {
		b = fmt.Appendf(b, "%s:%d] ", file, line)
	} else {
		b = append(b, "x:0] "...)
	}

	b = fmt.Appendf(b, format, args...)
	if b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	g.Writer.Write(b)
}
