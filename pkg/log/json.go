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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// record is one line of JSON output. Kernel messages start with a
// "[component] pid N tid M:" tag, which is lifted into its own fields so
// that logs can be filtered per process.
type record struct {
	Time      time.Time `json:"time"`
	Level     Level     `json:"level"`
	Component string    `json:"component,omitempty"`
	PID       *int      `json:"pid,omitempty"`
	TID       *int      `json:"tid,omitempty"`
	Msg       string    `json:"msg"`
	Caller    string    `json:"caller,omitempty"`
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if l > Debug {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return strconv.AppendQuote(nil, strings.ToLower(l.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts the
// names ParseLevel accepts as well as the numeric levels.
func (l *Level) UnmarshalJSON(b []byte) error {
	if n, err := strconv.ParseUint(string(b), 10, 32); err == nil && Level(n) <= Debug {
		*l = Level(n)
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("unknown level %s", b)
	}
	lv, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// parseTag splits the "[component] pid N tid M:" tag off msg. The ids are
// optional.
func (r *record) parseTag(msg string) {
	r.Msg = msg
	if !strings.HasPrefix(msg, "[") {
		return
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return
	}
	r.Component = msg[1:end]
	rest := strings.TrimPrefix(msg[end+1:], " ")
	r.Msg = rest

	var pid, tid *int
	fields := strings.Fields(rest)
	for i := 0; i+1 < len(fields); i += 2 {
		key, val := fields[i], fields[i+1]
		n, err := strconv.Atoi(strings.TrimSuffix(val, ":"))
		if err != nil {
			return
		}
		switch key {
		case "pid":
			pid = &n
		case "tid":
			tid = &n
		default:
			return
		}
		// Without the closing colon the ids belong to the message.
		if strings.HasSuffix(val, ":") {
			r.PID, r.TID = pid, tid
			r.Msg = strings.TrimSpace(rest[strings.IndexByte(rest, ':')+1:])
			return
		}
	}
}

// JSONEmitter logs messages in json format, one object per line.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	r := record{Time: timestamp, Level: level}
	r.parseTag(fmt.Sprintf(format, v...))
	if file, line, ok := callerOf(depth + 1); ok {
		r.Caller = file + ":" + strconv.Itoa(line)
	}
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	e.Writer.Write(b)
}
