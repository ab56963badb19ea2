package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintfAndWarnfAlwaysWrite(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Err: &buf}

	l.Printf("hello %s", "world")
	assert.Contains(t, buf.String(), "lux: hello world")

	buf.Reset()
	l.Warnf("uh oh")
	assert.Contains(t, buf.String(), "lux: warning: uh oh")
}

func TestVerbosefGatedOnFlag(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Err: &buf, Verbose: false}
	l.Verbosef("should not appear")
	assert.Empty(t, buf.String())

	l.Verbose = true
	l.Verbosef("should appear")
	assert.Contains(t, buf.String(), "lux: should appear")
}

func TestNilLoggerVerbosefIsANoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Verbosef("no logger, no crash") })
}

func TestNewLoggerDefaultsToStderr(t *testing.T) {
	l := NewLogger(true)
	assert.True(t, l.Verbose)
	assert.NotNil(t, l.Err)
}
