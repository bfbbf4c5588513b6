package vidfx

import (
	"image"
	"sync"
)

// TextureManager adapts one input modality into the sampling stage's
// credit-based input contract: it buffers frames from its source and
// admits them into the stage only when the stage has signalled capacity.
//
// A manager is the input listener of its sampling stage. Modality-specific
// queue operations return ErrUnsupportedInput on managers of other
// modalities.
type TextureManager interface {
	InputListener

	// QueueInputBitmap expands a bitmap into timestamped frames.
	QueueInputBitmap(img image.Image, desc FrameDescriptor, presentationTimesUs []int64) error

	// QueueInputTexture admits an externally owned texture.
	QueueInputTexture(tex TextureHandle, presentationTimeUs int64) error

	// RegisterInputFrame records that a frame with the given descriptor
	// will arrive on the input surface.
	RegisterInputFrame(desc FrameDescriptor) error

	// InputSurface returns the producer-facing surface handle.
	InputSurface() (*InputSurface, error)

	// SetDefaultBufferSize hints the input surface's buffer dimensions
	// before the first frame arrives.
	SetDefaultBufferSize(width, height int)

	// SetInputFrameInfo sets the descriptor applied to subsequently queued
	// frames.
	SetInputFrameInfo(desc FrameDescriptor)

	// PendingFrameCount reports frames registered but not yet admitted
	// downstream. Safe to call from any goroutine.
	PendingFrameCount() int

	// SignalEndOfCurrentInputStream marks the current stream's end. The
	// signal reaches the sampling stage only after all buffered frames.
	SignalEndOfCurrentInputStream()

	// SetOnFlushCompleteListener registers fn to run when an asynchronous
	// flush of this manager finishes. Nil clears it.
	SetOnFlushCompleteListener(fn func())

	// Release destroys the manager's GPU resources.
	Release() error
}

// baseTextureManager supplies the cross-modality plumbing: flush-complete
// notification and rejection of queue operations the modality does not
// support.
type baseTextureManager struct {
	executor *gpuExecutor
	errors   *errorForwarder

	flushMu         sync.Mutex
	onFlushComplete func()
}

func (b *baseTextureManager) setErrorListener(ex Executor, fn func(error)) {
	b.errors = &errorForwarder{ex: ex, fn: fn}
}

// SetOnFlushCompleteListener implements TextureManager.
func (b *baseTextureManager) SetOnFlushCompleteListener(fn func()) {
	b.flushMu.Lock()
	b.onFlushComplete = fn
	b.flushMu.Unlock()
}

// notifyFlushComplete runs the registered flush-complete listener, if any,
// ahead of queued work so the blocked caller resumes promptly.
func (b *baseTextureManager) notifyFlushComplete() {
	b.flushMu.Lock()
	fn := b.onFlushComplete
	b.flushMu.Unlock()
	if fn != nil {
		b.executor.SubmitWithHighPriority(func() error {
			fn()
			return nil
		})
	}
}

// QueueInputBitmap implements TextureManager.
func (b *baseTextureManager) QueueInputBitmap(image.Image, FrameDescriptor, []int64) error {
	return ErrUnsupportedInput
}

// QueueInputTexture implements TextureManager.
func (b *baseTextureManager) QueueInputTexture(TextureHandle, int64) error {
	return ErrUnsupportedInput
}

// RegisterInputFrame implements TextureManager.
func (b *baseTextureManager) RegisterInputFrame(FrameDescriptor) error {
	return ErrUnsupportedInput
}

// InputSurface implements TextureManager.
func (b *baseTextureManager) InputSurface() (*InputSurface, error) {
	return nil, ErrUnsupportedInput
}

// SetDefaultBufferSize implements TextureManager.
func (b *baseTextureManager) SetDefaultBufferSize(width, height int) {}
