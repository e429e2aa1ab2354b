package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerDepth skips runtime.Callers, Fire and the logrus hook dispatch.
const callerDepth = 6

var (
	logrusPackage = reflect.TypeOf(logrus.Entry{}).PkgPath()
	loggerPackage = reflect.TypeOf(Log{}).PkgPath()
)

// callerHook points entry.Caller at the component that logged, so the
// Entry wrappers do not show up as the source of every line.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(callerDepth, pcs)
	if frame, ok := componentFrame(runtime.CallersFrames(pcs[:n])); ok {
		entry.Caller = &frame
	}
	return nil
}

func componentFrame(frames *runtime.Frames) (runtime.Frame, bool) {
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !loggingFrame(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// loggingFrame reports whether fn belongs to logrus or to this package.
// Test functions of this package count as callers.
func loggingFrame(fn string) bool {
	if strings.HasPrefix(fn, logrusPackage+".") {
		return true
	}
	if !strings.HasPrefix(fn, loggerPackage+".") {
		return false
	}
	name := strings.TrimPrefix(fn, loggerPackage+".")
	return !strings.HasPrefix(name, "Test")
}
