package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how the logger writes.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a structured logger. Trailing args are key/value pairs.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a Logger writing text at info level to stdout.
func NewLogger() *Logger {
	l, _ := New(Options{})
	return l
}

// New creates a Logger from opts. When opts.File is set, output goes to both
// stdout and a size-rotated file.
func New(opts Options) (*Logger, error) {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	base.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File != "" {
		base.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}))
	}

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(args))}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// Writer exposes the logger as an io.Writer at info level, for frameworks
// that only accept a writer.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.Writer()
}

func fields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}
	f := make(logrus.Fields, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		if i+1 < len(args) {
			f[key] = args[i+1]
		} else {
			f[key] = "(missing)"
		}
	}
	return f
}
