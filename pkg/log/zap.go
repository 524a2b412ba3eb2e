// Copyright 2024 The gVisor Authors.
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
	"io"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapEmitter emits structured lines through a zap core.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter returns an emitter writing JSON entries to w.
func NewZapEmitter(w io.Writer) *ZapEmitter {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(w), zapcore.DebugLevel)
	return &ZapEmitter{logger: zap.New(core)}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

// Emit implements Emitter.Emit.
func (z *ZapEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	ce := z.logger.Check(zapLevel(level), fmt.Sprintf(format, v...))
	if ce == nil {
		return
	}
	ce.Time = timestamp
	ce.Caller = zapcore.NewEntryCaller(runtime.Caller(depth + 1))
	ce.Write()
}

// Sync flushes buffered entries.
func (z *ZapEmitter) Sync() error {
	return z.logger.Sync()
}
