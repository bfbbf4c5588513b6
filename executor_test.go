package vidfx

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	e := newGPUExecutor(nil)
	defer e.Release(func() error { return nil }, time.Second)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		e.Submit(func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	drain(t, e)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v, want ascending", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestExecutorHighPriorityRunsFirst(t *testing.T) {
	e := newGPUExecutor(nil)
	defer e.Release(func() error { return nil }, time.Second)

	gate := make(chan struct{})
	e.Submit(func() error {
		<-gate
		return nil
	})

	var mu sync.Mutex
	var got []string
	e.Submit(func() error {
		mu.Lock()
		got = append(got, "normal")
		mu.Unlock()
		return nil
	})
	e.SubmitWithHighPriority(func() error {
		mu.Lock()
		got = append(got, "high")
		mu.Unlock()
		return nil
	})

	close(gate)
	drain(t, e)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "high" || got[1] != "normal" {
		t.Fatalf("execution order = %v, want [high normal]", got)
	}
}

func TestExecutorSubmitAndBlockReturnsTaskError(t *testing.T) {
	e := newGPUExecutor(nil)
	defer e.Release(func() error { return nil }, time.Second)

	want := errors.New("boom")
	if got := e.SubmitAndBlock(func() error { return want }); !errors.Is(got, want) {
		t.Fatalf("SubmitAndBlock = %v, want %v", got, want)
	}
}

func TestExecutorErrorsGoToListener(t *testing.T) {
	var mu sync.Mutex
	var got []error
	e := newGPUExecutor(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})
	defer e.Release(func() error { return nil }, time.Second)

	want := errors.New("task failed")
	e.Submit(func() error { return want })
	drain(t, e)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !errors.Is(got[0], want) {
		t.Fatalf("error listener got %v, want [%v]", got, want)
	}
}

func TestExecutorFlushCancelsQueuedTasks(t *testing.T) {
	e := newGPUExecutor(nil)
	defer e.Release(func() error { return nil }, time.Second)

	gate := make(chan struct{})
	e.Submit(func() error {
		<-gate
		return nil
	})

	var mu sync.Mutex
	cancelled := true
	e.Submit(func() error {
		mu.Lock()
		cancelled = false
		mu.Unlock()
		return nil
	})

	flushed := make(chan struct{})
	go func() {
		e.Flush()
		close(flushed)
	}()

	// The gate task is still running; wait for Flush to purge the queue
	// before letting it finish.
	for {
		e.mu.Lock()
		n := len(e.queue)
		e.mu.Unlock()
		if n == 0 {
			break
		}
		runtime.Gosched()
	}
	close(gate)
	<-flushed

	ran := false
	e.Submit(func() error {
		ran = true
		return nil
	})
	drain(t, e)

	mu.Lock()
	defer mu.Unlock()
	if !cancelled {
		t.Error("task queued before Flush was executed, want cancelled")
	}
	if !ran {
		t.Error("task submitted after Flush did not run")
	}
}

// A blocking task already queued when Flush arrives still completes; only
// plain per-frame tasks are discarded.
func TestExecutorFlushKeepsBlockingWork(t *testing.T) {
	e := newGPUExecutor(nil)
	defer e.Release(func() error { return nil }, time.Second)

	gate := make(chan struct{})
	e.Submit(func() error {
		<-gate
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- e.SubmitAndBlock(func() error { return nil }) }()

	// Wait for the blocking task to sit in the queue behind the gate.
	for {
		e.mu.Lock()
		n := len(e.queue)
		e.mu.Unlock()
		if n == 1 {
			break
		}
		runtime.Gosched()
	}

	go e.Flush()
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SubmitAndBlock across a flush = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAndBlock queued before Flush never completed")
	}
}

// Submitting to a released executor must fail the caller, not strand it.
func TestExecutorSubmitAfterReleaseUnblocks(t *testing.T) {
	e := newGPUExecutor(nil)
	if err := e.Release(func() error { return nil }, time.Second); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.SubmitAndBlock(func() error { return nil }) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrReleased) {
			t.Fatalf("SubmitAndBlock after release = %v, want ErrReleased", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAndBlock after release never returned")
	}

	flushed := make(chan struct{})
	go func() {
		e.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush after release never returned")
	}
}

func TestExecutorReleaseRunsReleaseTask(t *testing.T) {
	e := newGPUExecutor(nil)

	ran := false
	if err := e.Release(func() error { ran = true; return nil }, time.Second); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !ran {
		t.Error("release task did not run")
	}
	if err := e.Release(func() error { return nil }, time.Second); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release = %v, want ErrReleased", err)
	}
}

func TestExecutorReleaseTimeout(t *testing.T) {
	e := newGPUExecutor(nil)

	gate := make(chan struct{})
	e.Submit(func() error {
		<-gate
		return nil
	})
	err := e.Release(func() error { return nil }, 20*time.Millisecond)
	if err == nil {
		t.Error("Release with a stuck task returned nil, want timeout error")
	}
	close(gate)
}
