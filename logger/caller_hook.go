package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the caller of a log line.
// Metric lines are logged from internal/metrics on behalf of the reader,
// processor or writer that emitted them, so that package is skipped too.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus",
	"quoteflow/logger.",
	"quoteflow/internal/metrics.",
}

// callerHook points entry.Caller at the first frame outside the wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(4, pcs)
	if frame, ok := callerFrame(runtime.CallersFrames(pcs[:n])); ok {
		entry.Caller = &frame
	}
	return nil
}

func callerFrame(frames *runtime.Frames) (runtime.Frame, bool) {
	for {
		frame, more := frames.Next()
		if !isWrapper(frame) {
			return frame, frame.Function != ""
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// isWrapper reports whether frame belongs to a logging wrapper. Test files
// of the wrapper packages count as callers.
func isWrapper(frame runtime.Frame) bool {
	if strings.HasSuffix(frame.File, "_test.go") {
		return false
	}
	for _, pkg := range wrapperPackages {
		if strings.HasPrefix(frame.Function, pkg) {
			return true
		}
	}
	return false
}
