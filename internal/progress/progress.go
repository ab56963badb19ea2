// Package progress defines the progress-reporting sink the resolver and
// install pipeline report through. Rendering belongs to the caller: this
// package ships only the interface plus a no-op and a log-backed
// implementation, never a terminal UI.
package progress

import "github.com/nvim-neorocks/lux/internal/ui"

// Sink receives progress events for one named unit of work (typically a
// package id being resolved, downloaded, or built).
type Sink interface {
	Start(name string, total int)
	Advance(name string, n int)
	Done(name string, err error)
}

// NopSink discards every event. The zero value is ready to use.
type NopSink struct{}

func (NopSink) Start(string, int) {}

func (NopSink) Advance(string, int) {}

func (NopSink) Done(string, error) {}

// LogSink reports progress through a *ui.Logger, for callers with no
// richer UI wired up.
type LogSink struct {
	Logger *ui.Logger
}

func (s LogSink) Start(name string, total int) {
	s.Logger.Verbosef("%s: starting (%d steps)", name, total)
}

func (s LogSink) Advance(name string, n int) {
	s.Logger.Verbosef("%s: +%d", name, n)
}

func (s LogSink) Done(name string, err error) {
	if err != nil {
		s.Logger.Warnf("%s: failed: %v", name, err)
		return
	}
	s.Logger.Verbosef("%s: done", name)
}
