// Package ui is the logging sink every other subsystem takes a pointer
// to instead of reaching for a global.
package ui

import (
	"fmt"
	"io"
	"os"
)

// Logger writes diagnostic output to Err, gating verbose lines on Verbose.
// Never stored globally: constructors take a *Logger argument.
type Logger struct {
	Err     io.Writer
	Verbose bool
}

// NewLogger returns a Logger writing to os.Stderr.
func NewLogger(verbose bool) *Logger {
	return &Logger{Err: os.Stderr, Verbose: verbose}
}

func (l *Logger) out() io.Writer {
	if l == nil || l.Err == nil {
		return os.Stderr
	}
	return l.Err
}

// Printf writes an unconditional diagnostic line.
func (l *Logger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.out(), "lux: "+format+"\n", args...)
}

// Warnf writes an unconditional warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(l.out(), "lux: warning: "+format+"\n", args...)
}

// Verbosef writes a line only when Verbose is set.
func (l *Logger) Verbosef(format string, args ...interface{}) {
	if l == nil || !l.Verbose {
		return
	}
	l.Printf(format, args...)
}
