package syncrun

import (
	"os"
)

var DefaultLogger Logger

// SetLogger set a logger instance for syncrun
func SetLogger(logger Logger) {
	DefaultLogger = logger
}

func init() {
	DefaultLogger = NewLogger(os.Stdout, Info)
}

// task pool
const (
	DefaultRunPoolSize = 10
)

var runPool = newTaskPool(DefaultRunPoolSize)

// SetMaxConcurrentRuns set max number of integration runs processed in
// parallel by this worker
func SetMaxConcurrentRuns(size int) {
	runPool.SetMaxSize(size)
}
