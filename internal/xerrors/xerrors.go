// Package xerrors wraps errors with the caller position or a captured stack so
// the logger can render error_links and stack attributes without a third
// party errors package.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stackErr carries the full call stack at the point the error was created.
type stackErr struct {
	err error
	pcs []uintptr
}

func (s *stackErr) Error() string       { return s.err.Error() }
func (s *stackErr) Unwrap() error       { return s.err }
func (s *stackErr) StackPCs() []uintptr { return s.pcs }
func (s *stackErr) IsXerrorsWrapper()   {}

// wrapErr prefixes a message and records a single caller frame.
type wrapErr struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapErr) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapErr) Unwrap() error     { return w.err }
func (w *wrapErr) PC() uintptr       { return w.pc }
func (w *wrapErr) IsXerrorsWrapper() {}

// skip counts frames above the caller of captureStack
func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func stackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stackErr{err: err, pcs: captureStack(skip)}
}

// New returns an error with the given message and the current stack.
func New(msg string) error { return stackSkip(errors.New(msg), 2) }

// Newf is New with fmt formatting. %w is honoured.
func Newf(format string, args ...any) error {
	return stackSkip(fmt.Errorf(format, args...), 2)
}

// WithStack attaches the current stack to err. nil stays nil.
func WithStack(err error) error { return stackSkip(err, 2) }

// EnsureTrace attaches a stack only if nothing in the chain already has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return stackSkip(err, 2)
}

// Wrap prefixes err with msg and records the caller. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapErr{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt formatting of the prefix.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapErr{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}
