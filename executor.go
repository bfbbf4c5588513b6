package vidfx

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// task is a unit of GPU work. Tasks run on the executor's single goroutine,
// which is the only goroutine allowed to touch GPU state.
type task func() error

// gpuTask pairs a task with its scheduling attributes.
type gpuTask struct {
	fn task

	// survivesFlush marks control tasks with a blocked waiter, which Flush
	// must not discard.
	survivesFlush bool
}

// gpuExecutor serializes all GPU work onto one dedicated goroutine.
//
// Application goroutines never execute GPU operations directly; they submit
// tasks here. The single consumer goroutine gives total ordering of GPU
// operations without per-resource locking.
type gpuExecutor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []gpuTask
	priority []gpuTask
	released bool

	onError func(error)

	done chan struct{}
}

// newGPUExecutor starts the GPU goroutine. Task errors are forwarded to
// onError, which runs on the GPU goroutine and must not block.
func newGPUExecutor(onError func(error)) *gpuExecutor {
	e := &gpuExecutor{
		onError: onError,
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

func (e *gpuExecutor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.priority) == 0 && len(e.queue) == 0 {
			if e.released {
				e.mu.Unlock()
				return
			}
			e.cond.Wait()
		}
		var t gpuTask
		if len(e.priority) > 0 {
			t = e.priority[0]
			e.priority = e.priority[1:]
		} else {
			t = e.queue[0]
			e.queue = e.queue[1:]
		}
		e.mu.Unlock()

		if err := t.fn(); err != nil {
			if e.onError != nil {
				e.onError(err)
			} else {
				Logger().Error("vidfx: unhandled GPU task error", slog.Any("error", err))
			}
		}
	}
}

// Submit enqueues fn for execution on the GPU goroutine.
func (e *gpuExecutor) Submit(fn task) {
	e.submit(gpuTask{fn: fn}, false)
}

// SubmitWithHighPriority enqueues fn ahead of all normally-submitted tasks.
// Used for render calls that must not sit behind queued per-frame work.
func (e *gpuExecutor) SubmitWithHighPriority(fn task) {
	e.submit(gpuTask{fn: fn}, true)
}

// SubmitAndBlock runs fn on the GPU goroutine and waits for it to finish,
// returning its error to the caller instead of the error listener. On a
// released executor it returns ErrReleased without running fn.
//
// Must not be called from the GPU goroutine itself.
func (e *gpuExecutor) SubmitAndBlock(fn task) error {
	var wg sync.WaitGroup
	var taskErr error
	wg.Add(1)
	accepted := e.submit(gpuTask{
		fn: func() error {
			taskErr = fn()
			wg.Done()
			return nil
		},
		survivesFlush: true,
	}, false)
	if !accepted {
		return ErrReleased
	}
	wg.Wait()
	return taskErr
}

// submit reports whether the task was accepted. Tasks submitted after
// Release are dropped; callers with a blocked waiter must check the result.
func (e *gpuExecutor) submit(t gpuTask, highPriority bool) bool {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		Logger().Warn("vidfx: task submitted after executor release, dropping")
		return false
	}
	if highPriority {
		e.priority = append(e.priority, t)
	} else {
		e.queue = append(e.queue, t)
	}
	e.mu.Unlock()
	e.cond.Signal()
	return true
}

// Flush discards all queued tasks and blocks until the GPU goroutine has
// passed the flush point. Control tasks with a blocked waiter survive the
// purge. Tasks submitted after Flush returns run normally.
func (e *gpuExecutor) Flush() {
	e.mu.Lock()
	e.queue = keepSurvivingTasks(e.queue)
	e.priority = keepSurvivingTasks(e.priority)
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	accepted := e.submit(gpuTask{
		fn: func() error {
			wg.Done()
			return nil
		},
		survivesFlush: true,
	}, true)
	if !accepted {
		return
	}
	wg.Wait()
}

// keepSurvivingTasks filters a task queue in place down to the tasks a
// flush must not discard.
func keepSurvivingTasks(tasks []gpuTask) []gpuTask {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.survivesFlush {
			kept = append(kept, t)
		}
	}
	return kept
}

// Release runs releaseTask on the GPU goroutine, then stops the goroutine.
// It waits at most timeout for the goroutine to exit; on timeout it returns
// an error and proceeds, accepting a possible resource leak over a
// permanent hang.
func (e *gpuExecutor) Release(releaseTask task, timeout time.Duration) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	e.released = true
	e.queue = append(e.queue, gpuTask{fn: releaseTask, survivesFlush: true})
	e.mu.Unlock()
	e.cond.Signal()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return nil
	case <-timer.C:
		Logger().Warn("vidfx: GPU executor release timed out",
			slog.Duration("timeout", timeout))
		return fmt.Errorf("vidfx: release timed out after %v", timeout)
	}
}
