package vidfx

// Executor runs callbacks on a caller-chosen execution context.
// Application-facing listeners are always invoked through an Executor so
// they never run on the GPU goroutine directly.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Execute implements Executor.
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// DirectExecutor runs callbacks synchronously on the calling goroutine.
var DirectExecutor Executor = ExecutorFunc(func(fn func()) { fn() })

// InputListener receives a stage's upstream-facing signals. Calls may
// originate on the GPU goroutine; implementations that touch GPU state must
// marshal onto the GPU executor themselves.
type InputListener interface {
	// OnReadyToAcceptInputFrame grants exactly one input credit: the
	// listener may make one QueueInputFrame call per invocation.
	OnReadyToAcceptInputFrame()

	// OnInputFrameProcessed returns ownership of a previously queued input
	// texture to the producer.
	OnInputFrameProcessed(tex TextureHandle)

	// OnFlush signals that the stage has flushed and the producer must
	// discard its own pending output for this stage.
	OnFlush()
}

// OutputListener receives a stage's downstream-facing signals.
type OutputListener interface {
	// OnOutputFrameAvailable hands ownership of an output texture to the
	// consumer, which must return it via ReleaseOutputFrame.
	OnOutputFrameAvailable(tex TextureHandle, presentationTimeUs int64)

	// OnCurrentOutputStreamEnded signals that every frame of the current
	// input stream has been emitted.
	OnCurrentOutputStreamEnded()
}

// ShaderStage is one asynchronous GPU processing unit: it consumes input
// textures and produces output textures under credit-based admission.
//
// Contract:
//   - QueueInputFrame may only be called after OnReadyToAcceptInputFrame;
//     each readiness signal authorizes exactly one call.
//   - An accepted input texture belongs to the stage until it calls back
//     OnInputFrameProcessed.
//   - A stage may emit zero or more outputs per input but must eventually
//     process every accepted input.
//   - SignalEndOfCurrentInputStream is forwarded downstream only after all
//     buffered input for the stream has drained.
//   - Flush drops unreleased output, notifies the input listener, then
//     re-asserts the full input readiness credit.
//
// All methods run on the GPU goroutine.
type ShaderStage interface {
	SetInputListener(l InputListener)
	SetOutputListener(l OutputListener)

	// SetErrorListener routes asynchronous processing errors through the
	// given executor.
	SetErrorListener(ex Executor, fn func(error))

	QueueInputFrame(tex TextureHandle, presentationTimeUs int64)

	// ReleaseOutputFrame returns an output texture to the stage for reuse.
	ReleaseOutputFrame(tex TextureHandle)

	SignalEndOfCurrentInputStream()

	Flush()

	Release() error
}

// errorForwarder is the stage-side half of SetErrorListener.
type errorForwarder struct {
	ex Executor
	fn func(error)
}

// forward reports err through the configured executor. Errors with no
// listener attached go to the package logger.
func (e *errorForwarder) forward(err error, presentationTimeUs int64) {
	if err == nil {
		return
	}
	wrapped := newProcessingError(err, presentationTimeUs)
	if e == nil || e.fn == nil {
		Logger().Error("vidfx: unreported processing error", "error", wrapped)
		return
	}
	ex := e.ex
	if ex == nil {
		ex = DirectExecutor
	}
	ex.Execute(func() { e.fn(wrapped) })
}
