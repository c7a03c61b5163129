// Package logging provides structured logging setup for pen.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var encoderCfg = zapcore.EncoderConfig{
	MessageKey: "msg",
	NameKey:    "name",

	LevelKey:    "level",
	EncodeLevel: zapcore.CapitalLevelEncoder,

	CallerKey:    "caller",
	EncodeCaller: zapcore.ShortCallerEncoder,

	TimeKey:    "time",
	EncodeTime: zapcore.RFC3339TimeEncoder,

	EncodeDuration: zapcore.StringDurationEncoder,
}

// New builds the process logger writing to stdout.
// Dev mode uses human-readable console output at debug level; prod uses
// JSON at info level.
func New(devMode bool) *zap.Logger {
	return NewWriter(os.Stdout, devMode)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, devMode bool) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	level := zapcore.InfoLevel
	if devMode {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		level = zapcore.DebugLevel
	}

	return zap.New(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level),
		zap.AddCaller(),
	)
}
