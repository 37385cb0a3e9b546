// Package logging carries the store's narration: which page the boot
// scan settled on, why a region had to be reset, when a page roll and
// its garbage collection completed. The store is single-threaded and synchronous, so the
// logger here is plain state with no locking; callers that share one
// across goroutines must serialize access themselves, same as the
// store itself.
//
// Output lines look like
//
//	2026/07/30 18:45:13 WARN [init] non-erased tail past write pointer
//
// where the [component] tag comes from the NS* constants the store
// prefixes its format strings with, so a log captured off a device in
// the field can be grepped down to one concern.
//
// Fatalf is reserved for a single condition: the recovery reset itself
// failed, leaving flash in a state the store cannot trust. WithFatal
// attaches the store's consequence (stop honoring calls) to whatever
// Logger the caller supplied.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbosity selects how much of the store's narration reaches the
// output. Errors and fatal conditions are always written.
type Verbosity int

const (
	// Quiet writes errors and fatal conditions only.
	Quiet Verbosity = iota
	// Normal additionally writes warnings: integrity violations and
	// device faults the store recovered from by resetting the region.
	Normal
	// Verbose additionally narrates page rolls and region resets.
	Verbose
	// Trace additionally writes debug detail, such as the completion of
	// each garbage collection pass.
	Trace
)

// Logger is what the store's components write their narration to.
// Fatalf must not panic or exit the process; the consequence of a
// fatal condition is the store's decision, not the logger's (see
// WithFatal).
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Component tags. Call sites prefix their format strings with one of
// these.
const (
	// NSInit tags the boot-time layout scan and recovery.
	NSInit = "[init] "
	// NSAppend tags the write path and page rolls.
	NSAppend = "[append] "
	// NSGC tags garbage collection.
	NSGC = "[gc] "
	// NSStore tags store lifecycle events.
	NSStore = "[store] "
)

// TextLogger writes timestamped lines to one io.Writer, filtered by
// Verbosity. The zero value is not usable; construct with New.
type TextLogger struct {
	w io.Writer
	v Verbosity
}

// New returns a TextLogger writing to w at verbosity v.
func New(w io.Writer, v Verbosity) *TextLogger {
	return &TextLogger{w: w, v: v}
}

func (l *TextLogger) emit(level, format string, args ...any) {
	fmt.Fprintf(l.w, "%s %s %s\n",
		time.Now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, args...))
}

// Errorf writes at any verbosity.
func (l *TextLogger) Errorf(format string, args ...any) {
	l.emit("ERROR", format, args...)
}

// Warnf writes at Normal verbosity and above.
func (l *TextLogger) Warnf(format string, args ...any) {
	if l.v >= Normal {
		l.emit("WARN", format, args...)
	}
}

// Infof writes at Verbose verbosity and above.
func (l *TextLogger) Infof(format string, args ...any) {
	if l.v >= Verbose {
		l.emit("INFO", format, args...)
	}
}

// Debugf writes at Trace verbosity only.
func (l *TextLogger) Debugf(format string, args ...any) {
	if l.v >= Trace {
		l.emit("DEBUG", format, args...)
	}
}

// Fatalf writes at any verbosity, including Quiet.
func (l *TextLogger) Fatalf(format string, args ...any) {
	l.emit("FATAL", format, args...)
}

// Discard drops everything. Useful in tests that count driver calls
// and don't want recovery warnings interleaved with the test output.
var Discard Logger = nop{}

type nop struct{}

func (nop) Errorf(string, ...any) {}
func (nop) Warnf(string, ...any)  {}
func (nop) Infof(string, ...any)  {}
func (nop) Debugf(string, ...any) {}
func (nop) Fatalf(string, ...any) {}

// OrDefault substitutes a stderr logger at Normal verbosity when the
// caller left Config.Logger nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return New(os.Stderr, Normal)
	}
	return l
}

// WithFatal wraps l so that every Fatalf, after being forwarded, also
// invokes fn. The store installs its stop-honoring-calls transition
// this way, so it takes effect for any Logger the caller supplied.
// fn must not log through the wrapped Logger's Fatalf.
func WithFatal(l Logger, fn func()) Logger {
	return &fatalHook{Logger: l, fn: fn}
}

type fatalHook struct {
	Logger
	fn func()
}

func (h *fatalHook) Fatalf(format string, args ...any) {
	h.Logger.Fatalf(format, args...)
	h.fn()
}
