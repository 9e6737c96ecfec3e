// Package zap adapts a *zap.Logger to logging.Logger.
package zap

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/bulwark/logging"
)

var _ logging.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New builds a JSON production logger at level ("debug", "info", "warn",
// "error") with ISO8601 timestamps.
func New(level string) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return Logger{}, fmt.Errorf("zap: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return Logger{}, err
	}
	return Logger{L: l.Named("bulwark")}, nil
}

func (z Logger) Debug(msg string, f logging.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f logging.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f logging.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f logging.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f logging.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
