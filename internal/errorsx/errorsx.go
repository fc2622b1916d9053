// Package errorsx provides log-and-continue helpers: functions that log a
// non-nil error and return a value regardless, for call sites that want to
// record a failure without aborting.
package errorsx

import (
	"log/slog"
	"runtime"
	"strconv"
)

// Helper logs non-nil errors and returns them unchanged, so call sites can
// write:
//
//	return h.Log(doThing())
type Helper struct {
	log *slog.Logger
}

// New returns a Helper bound to log.
func New(log *slog.Logger) *Helper {
	return &Helper{log: log}
}

// Log logs err at warn level if non-nil and returns it unchanged.
func (h *Helper) Log(err error) error {
	if err != nil {
		h.log.Warn(err.Error(), "at", callerInfo())
	}
	return err
}

// Log1 logs err if non-nil and returns v regardless.
func Log1[T any](h *Helper, v T, err error) T {
	h.Log(err)
	return v
}

// Ignore1 discards an error return, used where a failure is by-design
// inconsequential (e.g. best-effort cleanup).
func Ignore1[T any](v T, _ error) T {
	return v
}

func callerInfo() string {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return runtime.FuncForPC(pc).Name() + " " + file + ":" + strconv.Itoa(line)
}
