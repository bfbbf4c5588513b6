package vidfx

import "sync"

// queuedTexture is one externally owned texture awaiting admission.
type queuedTexture struct {
	tex TextureHandle
	pts int64
}

// texIDTextureManager passes caller-supplied GPU textures straight through
// under the usual credit discipline. The caller keeps ownership of each
// texture and gets it back through the frame-processed listener.
type texIDTextureManager struct {
	baseTextureManager

	sampling ShaderStage

	pendingMu sync.Mutex
	pending   []queuedTexture

	processedMu sync.Mutex
	processedEx Executor
	processedFn func(TextureHandle)

	// GPU-goroutine state.
	samplingCredit int
	inFlightCount  int
	streamEnded    bool
}

var _ TextureManager = (*texIDTextureManager)(nil)

func newTexIDTextureManager(executor *gpuExecutor) *texIDTextureManager {
	m := &texIDTextureManager{}
	m.executor = executor
	return m
}

func (m *texIDTextureManager) setSamplingStage(stage ShaderStage) {
	m.sampling = stage
	stage.SetInputListener(m)
}

// SetOnInputFrameProcessedListener registers the callback that returns
// texture ownership to the caller once a queued texture has been sampled.
func (m *texIDTextureManager) SetOnInputFrameProcessedListener(ex Executor, fn func(TextureHandle)) {
	m.processedMu.Lock()
	m.processedEx = ex
	m.processedFn = fn
	m.processedMu.Unlock()
}

// QueueInputTexture implements TextureManager.
func (m *texIDTextureManager) QueueInputTexture(tex TextureHandle, presentationTimeUs int64) error {
	if tex.IsZero() {
		return ErrMissingFrameInfo
	}
	m.pendingMu.Lock()
	m.pending = append(m.pending, queuedTexture{tex: tex, pts: presentationTimeUs})
	m.pendingMu.Unlock()
	m.executor.Submit(func() error {
		m.maybeQueueFrame()
		return nil
	})
	return nil
}

// SetInputFrameInfo implements TextureManager. Texture input carries its
// dimensions on each handle.
func (m *texIDTextureManager) SetInputFrameInfo(FrameDescriptor) {}

// PendingFrameCount implements TextureManager.
func (m *texIDTextureManager) PendingFrameCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// OnReadyToAcceptInputFrame implements InputListener.
func (m *texIDTextureManager) OnReadyToAcceptInputFrame() {
	m.executor.Submit(func() error {
		m.samplingCredit++
		m.maybeQueueFrame()
		return nil
	})
}

// OnInputFrameProcessed implements InputListener.
func (m *texIDTextureManager) OnInputFrameProcessed(tex TextureHandle) {
	m.processedMu.Lock()
	ex, fn := m.processedEx, m.processedFn
	m.processedMu.Unlock()
	if fn != nil {
		if ex == nil {
			ex = DirectExecutor
		}
		ex.Execute(func() { fn(tex) })
	}
	m.executor.Submit(func() error {
		m.inFlightCount--
		m.maybeSignalEndOfStream()
		return nil
	})
}

// maybeQueueFrame runs on the GPU goroutine.
func (m *texIDTextureManager) maybeQueueFrame() {
	for m.samplingCredit > 0 {
		m.pendingMu.Lock()
		if len(m.pending) == 0 {
			m.pendingMu.Unlock()
			return
		}
		q := m.pending[0]
		m.pending = m.pending[1:]
		m.pendingMu.Unlock()

		m.samplingCredit--
		m.inFlightCount++
		m.sampling.QueueInputFrame(q.tex, q.pts)
	}
}

// SignalEndOfCurrentInputStream implements TextureManager.
func (m *texIDTextureManager) SignalEndOfCurrentInputStream() {
	m.executor.Submit(func() error {
		m.streamEnded = true
		m.maybeSignalEndOfStream()
		return nil
	})
}

func (m *texIDTextureManager) maybeSignalEndOfStream() {
	if !m.streamEnded || m.inFlightCount > 0 || m.PendingFrameCount() > 0 {
		return
	}
	m.streamEnded = false
	m.sampling.SignalEndOfCurrentInputStream()
}

// OnFlush implements InputListener.
func (m *texIDTextureManager) OnFlush() {
	m.executor.Submit(func() error {
		m.pendingMu.Lock()
		m.pending = nil
		m.pendingMu.Unlock()
		m.streamEnded = false
		m.notifyFlushComplete()
		return nil
	})
}

// Release implements TextureManager. All textures belong to the caller.
func (m *texIDTextureManager) Release() error { return nil }
