package vidfx

import (
	"fmt"
	"sync"
	"time"
)

// TextureProducer is the upstream owner of textures queued into the
// compositor. The compositor returns each texture by timestamp once it can
// no longer be part of any composite.
type TextureProducer interface {
	ReleaseOutputTexture(presentationTimeUs int64)
}

// OverlaySettings positions one source within the composited output.
// The zero value is invisible; use DefaultOverlaySettings for a full-frame
// opaque layer.
type OverlaySettings struct {
	// Alpha scales the source's alpha channel.
	Alpha float32

	// Scale is the source's size relative to the output, 1 meaning
	// full-frame.
	Scale float32

	// X and Y offset the source's center in normalized device coordinates.
	X float32
	Y float32
}

// DefaultOverlaySettings is a full-frame opaque layer.
var DefaultOverlaySettings = OverlaySettings{Alpha: 1, Scale: 1}

// CompositorSettings customizes output sizing and per-source placement.
type CompositorSettings interface {
	// OutputSize picks the composited output dimensions given the primary
	// source's frame size.
	OutputSize(primary Size) Size

	// SourceOverlaySettings returns the placement of the given source at
	// the given output timestamp.
	SourceOverlaySettings(inputID int, presentationTimeUs int64) OverlaySettings
}

// defaultCompositorSettings sizes output to the primary stream and stacks
// all sources full-frame.
type defaultCompositorSettings struct{}

func (defaultCompositorSettings) OutputSize(primary Size) Size { return primary }

func (defaultCompositorSettings) SourceOverlaySettings(int, int64) OverlaySettings {
	return DefaultOverlaySettings
}

// CompositorListener receives compositor events on the executor supplied at
// construction.
type CompositorListener struct {
	// OnOutputTextureRendered delivers one composited frame. The receiver
	// waits on sync before reading and calls ReleaseOutputTexture with the
	// timestamp when done.
	OnOutputTextureRendered func(tex TextureHandle, presentationTimeUs int64, sync *SyncObject)

	// OnEnded fires when all sources have ended and drained.
	OnEnded func()

	// OnError reports asynchronous composition failures.
	OnError func(error)
}

// CompositorConfig configures a Compositor.
type CompositorConfig struct {
	// Provider supplies GPU primitives. Defaults to the wgpu provider.
	Provider GPUObjectsProvider

	// Settings customizes sizing and placement. Defaults to primary-sized
	// full-frame stacking.
	Settings CompositorSettings

	// ReleaseTimeout bounds how long Release waits for the GPU goroutine.
	ReleaseTimeout time.Duration
}

// compositorFrame is one queued source frame with the placement captured at
// queue time.
type compositorFrame struct {
	producer TextureProducer
	tex      TextureHandle
	pts      int64
	overlay  OverlaySettings
}

// compositorSource is the per-source pending-frame FIFO.
type compositorSource struct {
	frames []compositorFrame
	ended  bool
}

// compositorPoolCapacity is the number of in-flight composited outputs.
const compositorPoolCapacity = 2

// Compositor merges independently paced input sources into one output
// stream keyed off the primary source's timestamps. The first registered
// source is the primary: its frames pace and size the output, and each
// secondary source contributes the frame closest in time to the primary's.
type Compositor struct {
	executor   *gpuExecutor
	provider   GPUObjectsProvider
	settings   CompositorSettings
	listenEx   Executor
	listener   CompositorListener
	releaseTmo time.Duration

	// GPU-goroutine state.
	ctx      *GPUContext
	program  *matrixStageProgram
	pool     *TexturePool
	outByPts map[int64]TextureHandle
	syncs    map[int64]*SyncObject
	sources  map[int]*compositorSource
	order    []int
	ended    bool

	mu        sync.Mutex
	nextID    int
	colorInfo *ColorInfo
	released  bool
}

// NewCompositor opens a GPU context and starts the compositor's GPU
// goroutine. listenerExecutor receives all CompositorListener callbacks.
func NewCompositor(cfg CompositorConfig, listenerExecutor Executor, listener CompositorListener) (*Compositor, error) {
	if cfg.Provider == nil {
		cfg.Provider = NewWGPUObjectsProvider()
	}
	if cfg.Settings == nil {
		cfg.Settings = defaultCompositorSettings{}
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	if listenerExecutor == nil {
		listenerExecutor = DirectExecutor
	}

	c := &Compositor{
		provider:   cfg.Provider,
		settings:   cfg.Settings,
		listenEx:   listenerExecutor,
		listener:   listener,
		releaseTmo: cfg.ReleaseTimeout,
		pool:       NewTexturePool(compositorPoolCapacity),
		outByPts:   make(map[int64]TextureHandle),
		syncs:      make(map[int64]*SyncObject),
		sources:    make(map[int]*compositorSource),
	}
	c.executor = newGPUExecutor(c.onProcessingError)

	err := c.executor.SubmitAndBlock(func() error {
		ctx, err := c.provider.CreateContext()
		if err != nil {
			return err
		}
		c.ctx = ctx
		c.program = newMatrixStageProgram(identityMatrix, identityMatrix)
		c.program.blend = true
		return nil
	})
	if err != nil {
		c.executor.Release(func() error { return nil }, cfg.ReleaseTimeout)
		return nil, err
	}
	return c, nil
}

func (c *Compositor) onProcessingError(err error) {
	wrapped := newProcessingError(err, TimeUnset)
	if c.listener.OnError == nil {
		Logger().Error("vidfx: compositor error", "error", wrapped)
		return
	}
	c.listenEx.Execute(func() { c.listener.OnError(wrapped) })
}

// RegisterInputSource adds a source and returns its id. The first
// registered source is the primary.
func (c *Compositor) RegisterInputSource() int {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()
	c.executor.Submit(func() error {
		c.sources[id] = &compositorSource{}
		c.order = append(c.order, id)
		return nil
	})
	return id
}

// QueueInputTexture adds a frame from the given source. All sources must
// share one color configuration; the first frame's ColorInfo fixes it and
// any differing frame is rejected.
func (c *Compositor) QueueInputTexture(inputID int, producer TextureProducer, tex TextureHandle, color ColorInfo, presentationTimeUs int64) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	if c.colorInfo == nil {
		ci := color
		c.colorInfo = &ci
	} else if *c.colorInfo != color {
		c.mu.Unlock()
		return fmt.Errorf("%w: have %+v, got %+v", ErrMixedColorInfo, *c.colorInfo, color)
	}
	c.mu.Unlock()

	frame := compositorFrame{
		producer: producer,
		tex:      tex,
		pts:      presentationTimeUs,
		overlay:  c.settings.SourceOverlaySettings(inputID, presentationTimeUs),
	}
	c.executor.Submit(func() error {
		src, ok := c.sources[inputID]
		if !ok {
			return fmt.Errorf("%w: source %d", ErrUnregisteredInput, inputID)
		}
		if src.ended {
			return fmt.Errorf("%w: source %d", ErrStreamEnded, inputID)
		}
		src.frames = append(src.frames, frame)
		return c.maybeComposite()
	})
	return nil
}

// SignalEndOfInputSource marks a source as ended.
func (c *Compositor) SignalEndOfInputSource(inputID int) {
	c.executor.Submit(func() error {
		src, ok := c.sources[inputID]
		if !ok {
			return fmt.Errorf("%w: source %d", ErrUnregisteredInput, inputID)
		}
		src.ended = true
		return c.maybeComposite()
	})
}

// ReleaseOutputTexture returns the composited frame with the given
// timestamp, freeing one output slot.
func (c *Compositor) ReleaseOutputTexture(presentationTimeUs int64) {
	c.executor.Submit(func() error {
		out, ok := c.outByPts[presentationTimeUs]
		if !ok {
			return fmt.Errorf("compositor: no output texture at %dus: %w", presentationTimeUs, ErrTextureNotInUse)
		}
		delete(c.outByPts, presentationTimeUs)
		if sync := c.syncs[presentationTimeUs]; sync != nil {
			sync.Release()
			delete(c.syncs, presentationTimeUs)
		}
		if err := c.pool.FreeTexture(out); err != nil {
			return err
		}
		return c.maybeComposite()
	})
}

func (c *Compositor) primarySource() (*compositorSource, bool) {
	if len(c.order) == 0 {
		return nil, false
	}
	return c.sources[c.order[0]], true
}

// maybeComposite runs composites while every source can contribute and an
// output slot is free. Runs on the GPU goroutine.
func (c *Compositor) maybeComposite() error {
	for {
		composited, err := c.compositeOnce()
		if err != nil || !composited {
			c.maybeSignalEnded()
			return err
		}
	}
}

// compositeOnce attempts a single composite and reports whether one
// happened.
func (c *Compositor) compositeOnce() (bool, error) {
	primary, ok := c.primarySource()
	if !ok || len(primary.frames) == 0 {
		// A primary that ends with secondary frames still queued can never
		// match them; drop them immediately.
		if ok && primary.ended {
			c.releaseAllSecondaryFrames()
		}
		return false, nil
	}
	if c.pool.IsConfigured() && c.pool.FreeTextureCount() == 0 {
		return false, nil
	}

	primaryFrame := primary.frames[0]
	layers := []compositorFrame{primaryFrame}
	for _, id := range c.order[1:] {
		src := c.sources[id]
		idx, ready := selectSecondaryFrame(src, primaryFrame.pts)
		if !ready {
			return false, nil
		}
		if idx < 0 {
			continue
		}
		// Frames older than the selected one are superseded for every
		// future primary frame as well; hand them back now.
		for _, stale := range src.frames[:idx] {
			stale.producer.ReleaseOutputTexture(stale.pts)
		}
		src.frames = src.frames[idx:]
		layers = append(layers, src.frames[0])
	}

	if err := c.drawComposite(layers, primaryFrame); err != nil {
		return false, err
	}

	primary.frames = primary.frames[1:]
	primaryFrame.producer.ReleaseOutputTexture(primaryFrame.pts)
	return true, nil
}

// selectSecondaryFrame picks the frame closest in time to the primary's,
// scanning until a frame past the primary is found or the source is known
// to have ended. Ties favor the earlier frame. Returns (-1, true) for an
// ended, drained source and (_, false) when the source may still produce a
// closer frame.
func selectSecondaryFrame(src *compositorSource, primaryPts int64) (int, bool) {
	if len(src.frames) == 0 {
		if src.ended {
			return -1, true
		}
		return 0, false
	}
	best := 0
	bestDist := absDiff(src.frames[0].pts, primaryPts)
	for i := 1; i < len(src.frames); i++ {
		if src.frames[i-1].pts > primaryPts {
			break
		}
		if d := absDiff(src.frames[i].pts, primaryPts); d < bestDist {
			best, bestDist = i, d
		}
	}
	if !src.ended && src.frames[len(src.frames)-1].pts <= primaryPts {
		return 0, false
	}
	return best, true
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// drawComposite layers the selected frames into a pooled output texture,
// later-registered sources first so the primary lands on top.
func (c *Compositor) drawComposite(layers []compositorFrame, primary compositorFrame) error {
	size := c.settings.OutputSize(Size{Width: primary.tex.Width, Height: primary.tex.Height})
	if err := c.pool.EnsureConfigured(c.provider, c.ctx, size.Width, size.Height); err != nil {
		return newProcessingError(err, primary.pts)
	}
	out, err := c.pool.UseTexture()
	if err != nil {
		return newProcessingError(err, primary.pts)
	}
	if _, err := c.program.Configure(c.ctx, size.Width, size.Height); err != nil {
		return newProcessingError(err, primary.pts)
	}
	sync := newSyncObject(c.ctx)

	// Later-registered sources render first so the primary lands on top.
	// Queue submission order serializes the layer draws; only the last one
	// records its submission on the sync object.
	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		c.program.setMatrices(overlayTransform(layer.overlay), overlayColorMatrix(layer.overlay))
		c.program.loadExisting = i != len(layers)-1

		var err error
		if i == 0 {
			err = c.program.draw(c.ctx, layer.tex, out, sync)
		} else {
			err = c.program.drawQueued(c.ctx, layer.tex, out)
		}
		if err != nil {
			sync.Release()
			return newProcessingError(err, primary.pts)
		}
	}

	c.outByPts[primary.pts] = out
	c.syncs[primary.pts] = sync
	if c.listener.OnOutputTextureRendered != nil {
		pts := primary.pts
		c.listenEx.Execute(func() { c.listener.OnOutputTextureRendered(out, pts, sync) })
	}
	return nil
}

// overlayTransform builds the placement matrix for a layer, column-major.
func overlayTransform(o OverlaySettings) [16]float32 {
	return [16]float32{
		o.Scale, 0, 0, 0,
		0, o.Scale, 0, 0,
		0, 0, 1, 0,
		o.X, o.Y, 0, 1,
	}
}

// overlayColorMatrix scales the alpha channel by the layer's alpha.
func overlayColorMatrix(o OverlaySettings) [16]float32 {
	m := identityMatrix
	m[15] = o.Alpha
	return m
}

// releaseAllSecondaryFrames hands every queued secondary frame back to its
// producer. Safe with no registered sources.
func (c *Compositor) releaseAllSecondaryFrames() {
	if len(c.order) == 0 {
		return
	}
	for _, id := range c.order[1:] {
		src := c.sources[id]
		for _, f := range src.frames {
			f.producer.ReleaseOutputTexture(f.pts)
		}
		src.frames = nil
	}
}

// maybeSignalEnded fires OnEnded once all sources have ended and drained.
func (c *Compositor) maybeSignalEnded() {
	if c.ended || len(c.order) == 0 {
		return
	}
	for _, id := range c.order {
		src := c.sources[id]
		if !src.ended || len(src.frames) > 0 {
			return
		}
	}
	c.ended = true
	if c.listener.OnEnded != nil {
		c.listenEx.Execute(func() { c.listener.OnEnded() })
	}
}

// Release tears down the compositor's GPU resources and stops its
// goroutine, continuing past individual failures.
func (c *Compositor) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	c.released = true
	c.mu.Unlock()

	return c.executor.Release(func() error {
		for _, sync := range c.syncs {
			sync.Release()
		}
		c.syncs = make(map[int64]*SyncObject)
		c.releaseAllSecondaryFrames()
		c.pool.DeleteAll(c.ctx)
		if err := c.program.Release(c.ctx); err != nil {
			Logger().Warn("vidfx: compositor program release failed", "error", err)
		}
		if c.ctx != nil {
			if err := c.provider.DestroyContext(c.ctx); err != nil {
				Logger().Warn("vidfx: compositor context destroy failed", "error", err)
			}
		}
		return nil
	}, c.releaseTmo)
}
