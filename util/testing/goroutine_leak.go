package testing

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	leakWait = 5 * time.Second
	leakTick = 50 * time.Millisecond
)

// CheckGoroutineCleanup snapshots the goroutine count and returns a func that
// fails t if more goroutines are alive once it runs. Goroutines get leakWait to exit.
//
//	defer CheckGoroutineCleanup(t)()
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()
	return func() {
		t.Helper()
		AssertGoroutineCleanup(t, before)
	}
}

// AssertGoroutineCleanup fails t when the goroutine count stays above before
func AssertGoroutineCleanup(t *testing.T, before int) {
	t.Helper()
	ok := assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, leakWait, leakTick, "goroutines still running: before=%d", before)
	if !ok {
		DumpGoroutines(t)
	}
}

// DumpGoroutines writes every goroutine stack to the test log
func DumpGoroutines(t *testing.T) {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Logf("%d goroutines:\n%s", runtime.NumGoroutine(), buf[:n])
}

// CountGoroutines returns the current goroutine count, for use with AssertGoroutineCleanup
func CountGoroutines() int {
	return runtime.NumGoroutine()
}
