package vidfx

import (
	"fmt"
	"reflect"
)

// TextureOutputListener receives finished output frames as pooled textures.
// The receiver must wait on sync before reading the texture and must call
// ReleaseOutputTexture with the frame's timestamp when done; releasing is
// what frees pipeline capacity for further input.
type TextureOutputListener func(tex TextureHandle, presentationTimeUs int64, sync *SyncObject)

// finalStageCallbacks are the wrapper's upcalls into the orchestrator. They
// run on the GPU goroutine; the orchestrator re-dispatches application
// listeners onto the application executor.
type finalStageCallbacks struct {
	onOutputSizeChanged          func(width, height int)
	onFrameAvailableForRendering func(presentationTimeUs int64)

	// onStreamProcessed fires when a stream's end-of-stream has passed
	// through the terminal stage. lastStream is true when no further
	// registered stream remains.
	onStreamProcessed func(lastStream bool)
}

// pendingOutputFrame is a frame buffered in explicit-render mode. The
// texture still belongs to the upstream stage until rendered or dropped.
type pendingOutputFrame struct {
	tex TextureHandle
	pts int64
}

// texturePoolCapacity is the number of output textures buffered in texture
// output mode.
const texturePoolCapacity = 4

// finalStageWrapper is the terminal stage. It translates frame-relative
// timestamps to global presentation times through a FIFO of per-stream
// offsets and feeds exactly one of three sinks: the output surface, the
// texture-output listener, or nothing until an explicit render call.
// A debug preview surface can shadow the main sink best-effort.
type finalStageWrapper struct {
	executor *gpuExecutor
	provider GPUObjectsProvider
	ctx      *GPUContext
	cb       finalStageCallbacks

	renderAuto    bool
	textureOutput TextureOutputListener

	program *matrixStageProgram

	// Surface sink state.
	surface       Surface
	surfaceTarget OutputSurfaceTarget
	haveSurface   bool
	debugSurface  Surface

	// Texture sink state.
	texPool  *TexturePool
	outByPts map[int64]TextureHandle
	syncs    map[int64]*SyncObject

	// offsets is the stream-offset FIFO: pushed when a stream registers,
	// popped when its end-of-stream arrives here.
	offsets []int64

	// available buffers frames awaiting an explicit render call.
	available []pendingOutputFrame

	inputListener InputListener
	errors        *errorForwarder
}

var _ ShaderStage = (*finalStageWrapper)(nil)

func newFinalStageWrapper(executor *gpuExecutor, provider GPUObjectsProvider, ctx *GPUContext, renderAuto bool, textureOutput TextureOutputListener, cb finalStageCallbacks) *finalStageWrapper {
	w := &finalStageWrapper{
		executor:      executor,
		provider:      provider,
		ctx:           ctx,
		cb:            cb,
		renderAuto:    renderAuto,
		textureOutput: textureOutput,
		program:       newMatrixStageProgram(identityMatrix, identityMatrix),
		outByPts:      make(map[int64]TextureHandle),
		syncs:         make(map[int64]*SyncObject),
	}
	if textureOutput != nil {
		w.texPool = NewTexturePool(texturePoolCapacity)
	}
	return w
}

// inputCapacity is the number of readiness credits the wrapper grants. In
// texture output mode backpressure couples directly to downstream texture
// release; otherwise one frame at a time.
func (w *finalStageWrapper) inputCapacity() int {
	if w.texPool == nil {
		return 1
	}
	if !w.texPool.IsConfigured() {
		return w.texPool.Capacity()
	}
	return w.texPool.FreeTextureCount()
}

// SetInputListener implements ShaderStage.
func (w *finalStageWrapper) SetInputListener(l InputListener) {
	w.inputListener = l
	if l == nil {
		return
	}
	for i := 0; i < w.inputCapacity(); i++ {
		l.OnReadyToAcceptInputFrame()
	}
}

// SetOutputListener implements ShaderStage. The terminal stage has no
// downstream stage; output goes to the configured sink.
func (w *finalStageWrapper) SetOutputListener(OutputListener) {}

// SetErrorListener implements ShaderStage.
func (w *finalStageWrapper) SetErrorListener(ex Executor, fn func(error)) {
	w.errors = &errorForwarder{ex: ex, fn: fn}
}

// appendStream pushes a new stream's timestamp offset. Called when a stream
// registers, before any of its frames arrive.
func (w *finalStageWrapper) appendStream(offsetUs int64) {
	w.offsets = append(w.offsets, offsetUs)
}

// QueueInputFrame implements ShaderStage.
func (w *finalStageWrapper) QueueInputFrame(tex TextureHandle, presentationTimeUs int64) {
	if len(w.offsets) == 0 {
		w.errors.forward(fmt.Errorf("final stage: %w", ErrMissingFrameInfo), presentationTimeUs)
		return
	}
	globalPts := presentationTimeUs + w.offsets[0]

	if w.textureOutput != nil {
		if err := w.renderToTexture(tex, globalPts); err != nil {
			w.errors.forward(err, globalPts)
		}
		return
	}

	if w.cb.onFrameAvailableForRendering != nil {
		w.cb.onFrameAvailableForRendering(globalPts)
	}
	if w.renderAuto {
		w.renderFrame(tex, globalPts)
	} else {
		w.available = append(w.available, pendingOutputFrame{tex: tex, pts: globalPts})
	}
	// Surface-mode admission is one frame per credit with no pool to couple
	// to, so every accepted frame re-grants its credit immediately.
	if w.inputListener != nil {
		w.inputListener.OnReadyToAcceptInputFrame()
	}
}

// renderToTexture copies the frame into a pooled texture and hands it to
// the texture-output listener with a sync object.
func (w *finalStageWrapper) renderToTexture(tex TextureHandle, globalPts int64) error {
	if err := w.texPool.EnsureConfigured(w.provider, w.ctx, tex.Width, tex.Height); err != nil {
		return err
	}
	out, err := w.texPool.UseTexture()
	if err != nil {
		return err
	}
	if _, err := w.program.Configure(w.ctx, tex.Width, tex.Height); err != nil {
		return err
	}
	sync := newSyncObject(w.ctx)
	if err := w.program.draw(w.ctx, tex, out, sync); err != nil {
		sync.Release()
		if freeErr := w.texPool.FreeTexture(out); freeErr != nil {
			Logger().Warn("vidfx: return texture after failed draw", "error", freeErr)
		}
		return err
	}
	w.outByPts[globalPts] = out
	w.syncs[globalPts] = sync

	if w.inputListener != nil {
		w.inputListener.OnInputFrameProcessed(tex)
	}
	w.textureOutput(out, globalPts, sync)
	return nil
}

// ReleaseOutputTexture returns the output texture for the given timestamp
// to the pool and grants the chain one new input credit. Called from any
// goroutine.
func (w *finalStageWrapper) ReleaseOutputTexture(presentationTimeUs int64) {
	w.executor.Submit(func() error {
		out, ok := w.outByPts[presentationTimeUs]
		if !ok {
			return fmt.Errorf("final stage: no output texture at %dus: %w", presentationTimeUs, ErrTextureNotInUse)
		}
		delete(w.outByPts, presentationTimeUs)
		if sync := w.syncs[presentationTimeUs]; sync != nil {
			sync.Release()
			delete(w.syncs, presentationTimeUs)
		}
		if err := w.texPool.FreeTexture(out); err != nil {
			return err
		}
		if w.inputListener != nil {
			w.inputListener.OnReadyToAcceptInputFrame()
		}
		return nil
	})
}

// ReleaseOutputFrame implements ShaderStage. The terminal stage emits no
// chained output textures; texture-mode outputs return through
// ReleaseOutputTexture instead.
func (w *finalStageWrapper) ReleaseOutputFrame(TextureHandle) {}

// RenderOutputFrame renders or drops the oldest buffered frame. Only valid
// in explicit-render mode. renderTimeUs may be a real presentation time,
// RenderImmediately, or DropFrame. Called from any goroutine; the work runs
// at high priority so it does not sit behind queued per-frame tasks.
func (w *finalStageWrapper) RenderOutputFrame(renderTimeUs int64) {
	w.executor.SubmitWithHighPriority(func() error {
		if len(w.available) == 0 {
			return nil
		}
		frame := w.available[0]
		w.available = w.available[1:]
		if renderTimeUs == DropFrame {
			if w.inputListener != nil {
				w.inputListener.OnInputFrameProcessed(frame.tex)
			}
			return nil
		}
		w.renderFrame(frame.tex, frame.pts)
		return nil
	})
}

// renderFrame draws tex to the output surface and the debug surface, then
// returns the texture upstream. Runs on the GPU goroutine.
func (w *finalStageWrapper) renderFrame(tex TextureHandle, globalPts int64) {
	if w.haveSurface {
		if err := w.drawToSurface(w.surface, tex); err != nil {
			w.errors.forward(err, globalPts)
		}
	}
	if w.debugSurface != nil {
		// The debug preview is best-effort and never aborts the main path.
		if err := w.drawToSurface(w.debugSurface, tex); err != nil {
			Logger().Warn("vidfx: debug preview render failed", "error", err)
		}
	}
	if w.inputListener != nil {
		w.inputListener.OnInputFrameProcessed(tex)
	}
}

func (w *finalStageWrapper) drawToSurface(s Surface, tex TextureHandle) error {
	view, err := s.AcquireView()
	if err != nil {
		return fmt.Errorf("acquire surface view: %w", err)
	}
	size := s.Size()
	if _, err := w.program.Configure(w.ctx, tex.Width, tex.Height); err != nil {
		return err
	}
	target := TextureHandle{View: view, Width: size.Width, Height: size.Height}
	if err := w.program.Draw(w.ctx, tex, target, 0); err != nil {
		return err
	}
	return s.Present()
}

// SetOutputSurface points the surface sink at a new target. A target equal
// to the current one is ignored; otherwise the old surface is destroyed and
// a new one is created. The comparison is deep so target handles of
// uncomparable types are safe. Runs on the GPU goroutine.
func (w *finalStageWrapper) SetOutputSurface(target OutputSurfaceTarget) error {
	if w.haveSurface && reflect.DeepEqual(w.surfaceTarget, target) {
		return nil
	}
	if w.haveSurface {
		if err := w.provider.DestroySurface(w.ctx, w.surface); err != nil {
			Logger().Warn("vidfx: destroy previous output surface failed", "error", err)
		}
		w.haveSurface = false
	}
	s, err := w.provider.CreateOutputSurface(w.ctx, target)
	if err != nil {
		return fmt.Errorf("create output surface: %w", err)
	}
	w.surface = s
	w.surfaceTarget = target
	w.haveSurface = true
	if w.cb.onOutputSizeChanged != nil {
		size := s.Size()
		w.cb.onOutputSizeChanged(size.Width, size.Height)
	}
	return nil
}

// SetDebugSurface installs or clears the best-effort preview surface. Runs
// on the GPU goroutine.
func (w *finalStageWrapper) SetDebugSurface(s Surface) {
	w.debugSurface = s
}

// SignalEndOfCurrentInputStream implements ShaderStage. The ending stream's
// offset is consumed exactly once, in registration order.
func (w *finalStageWrapper) SignalEndOfCurrentInputStream() {
	if len(w.offsets) == 0 {
		w.errors.forward(fmt.Errorf("final stage: end of stream with no stream registered: %w", ErrStreamEnded), TimeUnset)
		return
	}
	w.offsets = w.offsets[1:]
	if w.cb.onStreamProcessed != nil {
		w.cb.onStreamProcessed(len(w.offsets) == 0)
	}
}

// Flush implements ShaderStage. Buffered frames are dropped, the flush
// propagates upstream, and the input credit is re-asserted.
func (w *finalStageWrapper) Flush() {
	w.available = nil
	if w.texPool != nil {
		for pts, sync := range w.syncs {
			sync.Release()
			delete(w.syncs, pts)
		}
		for pts := range w.outByPts {
			delete(w.outByPts, pts)
		}
		w.texPool.FreeAllTextures()
	}
	if w.inputListener == nil {
		return
	}
	w.inputListener.OnFlush()
	for i := 0; i < w.inputCapacity(); i++ {
		w.inputListener.OnReadyToAcceptInputFrame()
	}
}

// Release implements ShaderStage. Runs on the GPU goroutine.
func (w *finalStageWrapper) Release() error {
	var firstErr error
	for _, sync := range w.syncs {
		sync.Release()
	}
	w.syncs = make(map[int64]*SyncObject)
	if w.texPool != nil {
		w.texPool.DeleteAll(w.ctx)
	}
	if err := w.program.Release(w.ctx); err != nil {
		firstErr = err
	}
	if w.haveSurface {
		if err := w.provider.DestroySurface(w.ctx, w.surface); err != nil {
			Logger().Warn("vidfx: destroy output surface failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		w.haveSurface = false
	}
	if w.debugSurface != nil {
		if err := w.provider.DestroySurface(w.ctx, w.debugSurface); err != nil {
			Logger().Warn("vidfx: destroy debug surface failed", "error", err)
		}
		w.debugSurface = nil
	}
	return firstErr
}
