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
	"time"

	"golang.org/x/time/rate"
	"rvcore.dev/rvcore/pkg/sync"
)

// rateLimitedLogger forwards to logger while limit allows.
type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter
}

// Debugf implements Logger.Debugf.
func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// maxKeys bounds the number of limiters a KeyedLogger keeps. Past it, every
// new key shares one overflow limiter.
const maxKeys = 256

// KeyedLogger rate limits each key on its own, so that a flood of one
// message (say, one unknown syscall number in a loop) does not hide the
// first occurrence of another.
type KeyedLogger struct {
	logger Logger
	every  time.Duration

	mu       sync.Mutex
	loggers  map[uint64]Logger
	overflow Logger
}

// NewKeyedLogger returns a KeyedLogger logging to logger at most once per
// every for each key.
func NewKeyedLogger(logger Logger, every time.Duration) *KeyedLogger {
	return &KeyedLogger{
		logger:   logger,
		every:    every,
		loggers:  make(map[uint64]Logger),
		overflow: RateLimitedLogger(logger, every),
	}
}

// BasicKeyedLogger returns a KeyedLogger logging to the global logger.
func BasicKeyedLogger(every time.Duration) *KeyedLogger {
	return NewKeyedLogger(Log(), every)
}

// For returns the Logger of key.
func (k *KeyedLogger) For(key uint64) Logger {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.loggers[key]; ok {
		return l
	}
	if len(k.loggers) >= maxKeys {
		return k.overflow
	}
	l := RateLimitedLogger(k.logger, k.every)
	k.loggers[key] = l
	return l
}
