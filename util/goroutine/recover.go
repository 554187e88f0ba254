package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"harvester/metrics"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines, logs and counts them.
// With a nil logger the panic is written to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		report(name, r, logger)
	}
}

// RecoverWith is Recover followed by onPanic, which receives the recovered value.
// Used where the caller must release resources or fail a pending result.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(r interface{})) {
	if r := recover(); r != nil {
		report(name, r, logger)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func report(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	metrics.GoroutinePanics.WithLabelValues(name).Inc()

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
