package common

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

var (
	spawnedWorkers atomic.Int64
	runningWorkers atomic.Int64
	workerPanics   atomic.Int64
)

// GetGoroutineCount returns how many background workers SafeGo has started.
func GetGoroutineCount() int64 {
	return spawnedWorkers.Load()
}

// RunningWorkers returns how many SafeGo workers have not returned yet.
func RunningWorkers() int64 {
	return runningWorkers.Load()
}

// WorkerPanics returns how many SafeGo workers ended in a recovered panic.
func WorkerPanics() int64 {
	return workerPanics.Load()
}

// SafeGo starts fn as a named background worker (cache revalidation, warm
// passes). A panic is logged with its stack and swallowed so a bad listing
// page cannot take the server down.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	spawnedWorkers.Add(1)
	runningWorkers.Add(1)

	go func() {
		defer runningWorkers.Add(-1)
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			workerPanics.Add(1)

			buf := make([]byte, 4096)
			stack := string(buf[:runtime.Stack(buf, false)])
			if logger == nil {
				fmt.Fprintf(os.Stderr, "koscout: worker %s panicked: %v\n%s\n", name, r, stack)
				return
			}
			logger.Error().
				Str("worker", name).
				Str("panic", fmt.Sprint(r)).
				Str("stack", stack).
				Msg("Background worker panicked, recovered")
		}()

		fn()
	}()
}
