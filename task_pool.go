package syncrun

import (
	"context"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// Future is the handle of an asynchronously submitted task.
type Future interface {
	// Get blocks until the task completes and returns its result.
	Get() (interface{}, error)
}

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	pool, err := ants.NewPool(size)
	if err != nil {
		panic(err)
	}
	return &taskPool{pool: pool}
}

func (tp *taskPool) SetMaxSize(size int) {
	tp.pool.Tune(size)
}

func (tp *taskPool) Submit(_ context.Context, task func() (interface{}, error)) Future {
	f := &futureResult{done: make(chan struct{})}
	err := tp.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = errors.Errorf("panic during task execution: %v", r)
			}
			close(f.done)
		}()
		f.val, f.err = task()
	})
	if err != nil {
		f.err = err
		close(f.done)
	}
	return f
}

type futureResult struct {
	val  interface{}
	err  error
	done chan struct{}
}

func (f *futureResult) Get() (interface{}, error) {
	<-f.done
	return f.val, f.err
}
