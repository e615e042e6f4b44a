package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

// NewLogger builds a stderr logger at the given level. Output is in
// console form since the only consumer is a person at a terminal.
func NewLogger(level string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.DisableStacktrace = true
	config.Sampling = nil

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return &Logger{logger}, nil
}

// NewDevelopment logs everything down to debug, with caller info.
func NewDevelopment() (*Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{logger}, nil
}

func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

// WithOperation tags log lines with the operation being recorded.
func (l *Logger) WithOperation(id string) *zap.Logger {
	if id == "" {
		return l.Logger
	}
	return l.With(zap.String("operation", id))
}

// Badger adapts l to badger's Logger interface. Badger's own info lines
// are demoted to debug; they are noise at the default level.
func (l *Logger) Badger() *BadgerLogger {
	return &BadgerLogger{l.Named("badger").Sugar()}
}

type BadgerLogger struct {
	s *zap.SugaredLogger
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.s.Errorf(trim(format), args...)
}

func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.s.Warnf(trim(format), args...)
}

func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.s.Debugf(trim(format), args...)
}

func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.s.Debugf(trim(format), args...)
}

// badger terminates its format strings with a newline
func trim(format string) string {
	return strings.TrimSuffix(format, "\n")
}
