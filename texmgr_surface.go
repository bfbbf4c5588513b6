package vidfx

import (
	"fmt"
	"sync"
)

// InputSurface is the producer-facing handle of the surface-backed input.
// An external producer, typically a decoder, delivers each frame's pixels
// here after the frame was registered with the pipeline. Delivery may
// happen from any goroutine.
type InputSurface struct {
	mgr *surfaceTextureManager
}

// QueueFrame delivers the pixels of the oldest registered frame, tightly
// packed RGBA.
func (s *InputSurface) QueueFrame(pix []byte, presentationTimeUs int64) {
	s.mgr.onFrameAvailable(pix, presentationTimeUs)
}

// Size returns the configured default buffer size hint.
func (s *InputSurface) Size() Size {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.mgr.defaultBufferSize
}

// arrivedFrame is a frame whose pixels have been delivered but that has not
// yet been admitted into the sampling stage.
type arrivedFrame struct {
	pix []byte
	pts int64
}

// surfaceTextureManager adapts surface-style input: frame metadata is
// registered before pixels arrive through an asynchronous callback, and the
// two are paired in FIFO order.
type surfaceTextureManager struct {
	baseTextureManager

	provider GPUObjectsProvider
	ctx      *GPUContext
	sampling ShaderStage
	surface  *InputSurface

	// mu guards the cross-goroutine admission boundary.
	mu                sync.Mutex
	pendingFrames     []FrameDescriptor
	currentDesc       FrameDescriptor
	defaultBufferSize Size

	// GPU-goroutine state.
	available []arrivedFrame
	// framesToDrop counts frames that were registered before a flush but
	// arrive after it; their pixels are silently discarded.
	framesToDrop   int
	samplingCredit int
	inFlight       bool
	streamEnded    bool
	uploadTex      TextureHandle
}

var _ TextureManager = (*surfaceTextureManager)(nil)

func newSurfaceTextureManager(executor *gpuExecutor, provider GPUObjectsProvider, ctx *GPUContext) *surfaceTextureManager {
	m := &surfaceTextureManager{
		provider: provider,
		ctx:      ctx,
	}
	m.executor = executor
	m.surface = &InputSurface{mgr: m}
	return m
}

func (m *surfaceTextureManager) setSamplingStage(stage ShaderStage) {
	m.sampling = stage
	stage.SetInputListener(m)
}

// InputSurface implements TextureManager.
func (m *surfaceTextureManager) InputSurface() (*InputSurface, error) {
	return m.surface, nil
}

// SetDefaultBufferSize implements TextureManager.
func (m *surfaceTextureManager) SetDefaultBufferSize(width, height int) {
	m.mu.Lock()
	m.defaultBufferSize = Size{Width: width, Height: height}
	m.mu.Unlock()
}

// SetInputFrameInfo implements TextureManager.
func (m *surfaceTextureManager) SetInputFrameInfo(desc FrameDescriptor) {
	m.mu.Lock()
	m.currentDesc = desc
	m.mu.Unlock()
}

// RegisterInputFrame implements TextureManager. Called on the application
// goroutine before the frame's pixels arrive on the input surface.
func (m *surfaceTextureManager) RegisterInputFrame(desc FrameDescriptor) error {
	m.mu.Lock()
	if desc.Width == 0 && desc.Height == 0 {
		desc = m.currentDesc
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		m.mu.Unlock()
		return ErrMissingFrameInfo
	}
	m.pendingFrames = append(m.pendingFrames, desc)
	m.mu.Unlock()
	return nil
}

// PendingFrameCount implements TextureManager.
func (m *surfaceTextureManager) PendingFrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingFrames)
}

// onFrameAvailable runs when the producer delivers pixels, on an arbitrary
// goroutine.
func (m *surfaceTextureManager) onFrameAvailable(pix []byte, pts int64) {
	m.executor.Submit(func() error {
		if m.framesToDrop > 0 {
			m.framesToDrop--
			return nil
		}
		m.available = append(m.available, arrivedFrame{pix: pix, pts: pts})
		return m.maybeQueueFrame()
	})
}

// OnReadyToAcceptInputFrame implements InputListener, called by the
// sampling stage.
func (m *surfaceTextureManager) OnReadyToAcceptInputFrame() {
	m.executor.Submit(func() error {
		m.samplingCredit++
		return m.maybeQueueFrame()
	})
}

// OnInputFrameProcessed implements InputListener.
func (m *surfaceTextureManager) OnInputFrameProcessed(tex TextureHandle) {
	m.executor.Submit(func() error {
		m.inFlight = false
		if err := m.maybeQueueFrame(); err != nil {
			return err
		}
		m.maybeSignalEndOfStream()
		return nil
	})
}

// maybeQueueFrame admits the oldest arrived frame when the sampling stage
// has credit and the upload texture is free. Runs on the GPU goroutine.
func (m *surfaceTextureManager) maybeQueueFrame() error {
	if m.samplingCredit == 0 || m.inFlight || len(m.available) == 0 {
		return nil
	}
	m.mu.Lock()
	if len(m.pendingFrames) == 0 {
		m.mu.Unlock()
		return nil
	}
	desc := m.pendingFrames[0]
	m.pendingFrames = m.pendingFrames[1:]
	m.mu.Unlock()

	frame := m.available[0]
	m.available = m.available[1:]

	if err := m.ensureUploadTexture(desc.Width, desc.Height); err != nil {
		return newProcessingError(err, frame.pts)
	}
	if err := uploadRGBA(m.ctx, m.uploadTex, frame.pix); err != nil {
		return newProcessingError(err, frame.pts)
	}
	m.samplingCredit--
	m.inFlight = true
	m.sampling.QueueInputFrame(m.uploadTex, frame.pts)
	return nil
}

func (m *surfaceTextureManager) ensureUploadTexture(width, height int) error {
	if m.uploadTex.Width == width && m.uploadTex.Height == height && !m.uploadTex.IsZero() {
		return nil
	}
	destroyTextureHandle(m.ctx, m.uploadTex)
	tex, err := m.provider.CreateTextureBuffers(m.ctx, width, height)
	if err != nil {
		m.uploadTex = TextureHandle{}
		return fmt.Errorf("surface input texture: %w", err)
	}
	m.uploadTex = tex
	return nil
}

// SignalEndOfCurrentInputStream implements TextureManager.
func (m *surfaceTextureManager) SignalEndOfCurrentInputStream() {
	m.executor.Submit(func() error {
		m.streamEnded = true
		m.maybeSignalEndOfStream()
		return nil
	})
}

func (m *surfaceTextureManager) maybeSignalEndOfStream() {
	if !m.streamEnded || m.inFlight || len(m.available) > 0 {
		return
	}
	if m.PendingFrameCount() > 0 {
		return
	}
	m.streamEnded = false
	m.sampling.SignalEndOfCurrentInputStream()
}

// OnFlush implements InputListener, called by the sampling stage during
// flush propagation.
func (m *surfaceTextureManager) OnFlush() {
	m.executor.Submit(func() error {
		m.flush()
		return nil
	})
}

// flush discards buffered frames. Frames registered before the flush that
// have not yet arrived are counted so their late pixels get dropped on
// arrival; the count is clamped at zero since arrival can outpace
// registration across the flush boundary.
func (m *surfaceTextureManager) flush() {
	m.mu.Lock()
	drop := len(m.pendingFrames) - len(m.available)
	m.pendingFrames = m.pendingFrames[:0]
	m.mu.Unlock()
	if drop < 0 {
		drop = 0
	}
	m.framesToDrop = drop
	m.available = nil
	m.streamEnded = false
	m.notifyFlushComplete()
}

// Release implements TextureManager. Runs on the GPU goroutine.
func (m *surfaceTextureManager) Release() error {
	destroyTextureHandle(m.ctx, m.uploadTex)
	m.uploadTex = TextureHandle{}
	return nil
}
