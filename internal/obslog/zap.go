// Package obslog adapts go.uber.org/zap, via go-logr/zapr, to core.Logger
// so aegisd's structured logs carry the same field/level semantics the
// rest of the runtime already assumes.
package obslog

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegis-run/aegis/core"
)

// ZapLogger implements core.Logger over a zapr.Logger, so call sites never
// need to know the backing library.
type ZapLogger struct {
	log logr.Logger
}

// New builds a ZapLogger at the given level ("debug", "info", "warn",
// "error") writing JSON when json is true, console-formatted otherwise.
func New(level string, json bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{log: zapr.NewLogger(zl)}, nil
}

var _ core.Logger = (*ZapLogger)(nil)

func (z *ZapLogger) Info(msg string, fields map[string]interface{}) {
	z.log.Info(msg, flatten(fields)...)
}

func (z *ZapLogger) Error(msg string, fields map[string]interface{}) {
	z.log.Error(asError(fields), msg, flatten(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	z.log.V(0).Info("WARN "+msg, flatten(fields)...)
}

func (z *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	z.log.V(1).Info(msg, flatten(fields)...)
}

func (z *ZapLogger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	z.Info(msg, fields)
}

func (z *ZapLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	z.Error(msg, fields)
}

func (z *ZapLogger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	z.Warn(msg, fields)
}

func (z *ZapLogger) DebugWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	z.Debug(msg, fields)
}

func flatten(fields map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		if k == "error" {
			continue
		}
		out = append(out, k, v)
	}
	return out
}

func asError(fields map[string]interface{}) error {
	if v, ok := fields["error"]; ok {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}
