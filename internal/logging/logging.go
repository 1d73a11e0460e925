// Package logging wraps zap with the fields the gateway client attaches to
// every line. Raw analyst text, entity values and tokenised text must never
// be passed to a logger; log lengths and counts instead.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with component and case scoping.
type Logger struct {
	*zap.Logger
}

// Config contains logger configuration.
type Config struct {
	Level  string
	Format string // json or console
}

// New creates a logger writing to stderr. Format "console" gives
// human-readable lines; anything else gives JSON.
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	core := zapcore.NewCore(newEncoder(config.Format), zapcore.Lock(os.Stderr), level)
	return &Logger{Logger: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return zapcore.NewJSONEncoder(ec)
}

// Nop returns a logger that discards everything. Used by tests and as the
// default when a component is built without one.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// WithCase returns a logger tagged with a case id.
func (l *Logger) WithCase(caseID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("case_id", caseID))}
}
