package vidfx

import (
	"fmt"
	"image"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// queuedBitmap is one bitmap awaiting expansion into timestamped frames.
type queuedBitmap struct {
	img      image.Image
	desc     FrameDescriptor
	times    []int64
	next     int
	uploaded bool
}

// bitmapTextureManager expands static images into multiple timestamped
// frames. It keeps exactly one upload texture, replacing its contents when
// the next distinct bitmap starts.
type bitmapTextureManager struct {
	baseTextureManager

	provider GPUObjectsProvider
	ctx      *GPUContext
	sampling ShaderStage

	pendingMu sync.Mutex
	pending   int

	// GPU-goroutine state.
	queue          []*queuedBitmap
	samplingCredit int
	inFlight       bool
	streamEnded    bool
	uploadTex      TextureHandle
}

var _ TextureManager = (*bitmapTextureManager)(nil)

func newBitmapTextureManager(executor *gpuExecutor, provider GPUObjectsProvider, ctx *GPUContext) *bitmapTextureManager {
	m := &bitmapTextureManager{
		provider: provider,
		ctx:      ctx,
	}
	m.executor = executor
	return m
}

func (m *bitmapTextureManager) setSamplingStage(stage ShaderStage) {
	m.sampling = stage
	stage.SetInputListener(m)
}

// QueueInputBitmap implements TextureManager. Each entry of
// presentationTimesUs yields one output frame of img.
func (m *bitmapTextureManager) QueueInputBitmap(img image.Image, desc FrameDescriptor, presentationTimesUs []int64) error {
	if img == nil || len(presentationTimesUs) == 0 {
		return fmt.Errorf("vidfx: bitmap input requires an image and at least one timestamp")
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return ErrMissingFrameInfo
	}
	m.pendingMu.Lock()
	m.pending += len(presentationTimesUs)
	m.pendingMu.Unlock()

	times := make([]int64, len(presentationTimesUs))
	copy(times, presentationTimesUs)
	m.executor.Submit(func() error {
		m.queue = append(m.queue, &queuedBitmap{img: img, desc: desc, times: times})
		return m.maybeQueueFrame()
	})
	return nil
}

// SetInputFrameInfo implements TextureManager. Bitmap descriptors travel
// with each QueueInputBitmap call, so there is nothing to retain.
func (m *bitmapTextureManager) SetInputFrameInfo(FrameDescriptor) {}

// PendingFrameCount implements TextureManager.
func (m *bitmapTextureManager) PendingFrameCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.pending
}

// OnReadyToAcceptInputFrame implements InputListener.
func (m *bitmapTextureManager) OnReadyToAcceptInputFrame() {
	m.executor.Submit(func() error {
		m.samplingCredit++
		return m.maybeQueueFrame()
	})
}

// OnInputFrameProcessed implements InputListener.
func (m *bitmapTextureManager) OnInputFrameProcessed(tex TextureHandle) {
	m.executor.Submit(func() error {
		m.inFlight = false
		if err := m.maybeQueueFrame(); err != nil {
			return err
		}
		m.maybeSignalEndOfStream()
		return nil
	})
}

// maybeQueueFrame emits the current bitmap's next timestamp when the
// sampling stage has credit. Runs on the GPU goroutine.
func (m *bitmapTextureManager) maybeQueueFrame() error {
	if m.samplingCredit == 0 || m.inFlight || len(m.queue) == 0 {
		return nil
	}
	cur := m.queue[0]
	if !cur.uploaded {
		if err := m.uploadBitmap(cur); err != nil {
			return newProcessingError(err, cur.times[cur.next])
		}
		cur.uploaded = true
	}

	pts := cur.times[cur.next]
	cur.next++
	if cur.next == len(cur.times) {
		m.queue = m.queue[1:]
	}
	m.pendingMu.Lock()
	m.pending--
	m.pendingMu.Unlock()

	m.samplingCredit--
	m.inFlight = true
	m.sampling.QueueInputFrame(m.uploadTex, pts)
	return nil
}

// uploadBitmap converts the image to RGBA at the descriptor's dimensions
// and writes it into the upload texture.
func (m *bitmapTextureManager) uploadBitmap(b *queuedBitmap) error {
	if m.uploadTex.Width != b.desc.Width || m.uploadTex.Height != b.desc.Height || m.uploadTex.IsZero() {
		destroyTextureHandle(m.ctx, m.uploadTex)
		tex, err := m.provider.CreateTextureBuffers(m.ctx, b.desc.Width, b.desc.Height)
		if err != nil {
			m.uploadTex = TextureHandle{}
			return fmt.Errorf("bitmap input texture: %w", err)
		}
		m.uploadTex = tex
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.desc.Width, b.desc.Height))
	if b.img.Bounds().Dx() == b.desc.Width && b.img.Bounds().Dy() == b.desc.Height {
		xdraw.Draw(rgba, rgba.Bounds(), b.img, b.img.Bounds().Min, xdraw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), b.img, b.img.Bounds(), xdraw.Src, nil)
	}
	return uploadRGBA(m.ctx, m.uploadTex, rgba.Pix)
}

// SignalEndOfCurrentInputStream implements TextureManager. The end signal
// is deferred until every timestamp of every queued bitmap has been
// emitted.
func (m *bitmapTextureManager) SignalEndOfCurrentInputStream() {
	m.executor.Submit(func() error {
		m.streamEnded = true
		m.maybeSignalEndOfStream()
		return nil
	})
}

func (m *bitmapTextureManager) maybeSignalEndOfStream() {
	if !m.streamEnded || m.inFlight || len(m.queue) > 0 {
		return
	}
	m.streamEnded = false
	m.sampling.SignalEndOfCurrentInputStream()
}

// OnFlush implements InputListener.
func (m *bitmapTextureManager) OnFlush() {
	m.executor.Submit(func() error {
		m.queue = nil
		m.streamEnded = false
		m.pendingMu.Lock()
		m.pending = 0
		m.pendingMu.Unlock()
		m.notifyFlushComplete()
		return nil
	})
}

// Release implements TextureManager.
func (m *bitmapTextureManager) Release() error {
	destroyTextureHandle(m.ctx, m.uploadTex)
	m.uploadTex = TextureHandle{}
	return nil
}
