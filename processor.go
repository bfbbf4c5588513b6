package vidfx

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// Config configures a FrameProcessor.
type Config struct {
	// Provider supplies GPU primitives. Defaults to the wgpu provider.
	Provider GPUObjectsProvider

	// InputColor and OutputColor describe the pipeline's color
	// configuration. Both default to SDR video. The combination is
	// validated before any GPU resource is allocated.
	InputColor  ColorInfo
	OutputColor ColorInfo

	// RenderFramesAutomatically renders each output frame as soon as it is
	// ready. When false the application paces rendering with
	// RenderOutputFrame.
	RenderFramesAutomatically bool

	// TextureOutput, when set, replaces surface output: finished frames are
	// delivered as pooled textures with sync objects.
	TextureOutput TextureOutputListener

	// ReleaseTimeout bounds how long Release waits for the GPU goroutine.
	ReleaseTimeout time.Duration

	// Trace, when set, receives pipeline trace events.
	Trace TraceSink
}

const defaultReleaseTimeout = 500 * time.Millisecond

// Listener receives pipeline events. All callbacks are optional and are
// invoked on the executor passed to NewFrameProcessor, never on the GPU
// goroutine.
type Listener struct {
	// OnInputStreamRegistered fires once a registered stream's effect chain
	// is configured and frames may be queued.
	OnInputStreamRegistered func(inputType InputType, effects []Effect)

	// OnOutputSizeChanged fires when the output surface size changes.
	OnOutputSizeChanged func(width, height int)

	// OnOutputFrameAvailableForRendering fires per output frame with its
	// global presentation time.
	OnOutputFrameAvailableForRendering func(presentationTimeUs int64)

	// OnError reports asynchronous processing failures. After an error the
	// instance must be released and discarded.
	OnError func(error)

	// OnEnded fires when end-of-input has been signalled and every queued
	// frame has been processed.
	OnEnded func()
}

// inputStreamInfo captures one RegisterInputStream call.
type inputStreamInfo struct {
	inputType InputType
	effects   []Effect
	desc      FrameDescriptor
}

// FrameProcessor is the pipeline orchestrator. It owns the GPU goroutine,
// assembles the effect chain, and exposes the stream lifecycle: register a
// stream, queue its frames, signal end of input, flush, release.
//
// One input stream is active at a time; registering the next stream drains
// the previous one first. Frames flow from the active texture manager
// through the sampling stage and the intermediate effect stages into the
// terminal stage.
type FrameProcessor struct {
	cfg        Config
	provider   GPUObjectsProvider
	executor   *gpuExecutor
	listenEx   Executor
	listener   Listener
	trace      tracer
	releaseTmo time.Duration

	ctx         *GPUContext
	placeholder Surface
	switcher    *InputSwitcher
	final       *finalStageWrapper

	// GPU-goroutine chain state.
	activeEffects []Effect
	stages        []ShaderStage

	mu              sync.Mutex
	firstRegistered bool
	inputEnded      bool
	released        bool
	pendingStream   *inputStreamInfo
	pendingDone     chan struct{}
	currentDesc     FrameDescriptor
}

// NewFrameProcessor validates cfg, opens the GPU context, and starts the
// GPU goroutine. listenerExecutor receives all Listener callbacks.
func NewFrameProcessor(cfg Config, listenerExecutor Executor, listener Listener) (*FrameProcessor, error) {
	if cfg.InputColor == (ColorInfo{}) {
		cfg.InputColor = ColorInfoSDRVideo
	}
	if cfg.OutputColor == (ColorInfo{}) {
		cfg.OutputColor = ColorInfoSDRVideo
	}
	if err := validateColorConfiguration(cfg.InputColor, cfg.OutputColor); err != nil {
		return nil, err
	}
	if cfg.OutputColor.IsTransferHDR() && cfg.TextureOutput == nil {
		return nil, fmt.Errorf("%w: HDR output requires texture output", ErrHDRUnsupported)
	}
	if cfg.Provider == nil {
		cfg.Provider = NewWGPUObjectsProvider()
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	if listenerExecutor == nil {
		listenerExecutor = DirectExecutor
	}

	p := &FrameProcessor{
		cfg:        cfg,
		provider:   cfg.Provider,
		listenEx:   listenerExecutor,
		listener:   listener,
		releaseTmo: cfg.ReleaseTimeout,
	}
	if cfg.Trace != nil {
		p.trace.Attach(cfg.Trace)
	}
	p.executor = newGPUExecutor(p.onProcessingError)

	err := p.executor.SubmitAndBlock(func() error {
		ctx, err := p.provider.CreateContext()
		if err != nil {
			return err
		}
		p.ctx = ctx
		placeholder, err := p.provider.CreatePlaceholderSurface(ctx)
		if err != nil {
			return err
		}
		p.placeholder = placeholder

		p.final = newFinalStageWrapper(p.executor, p.provider, ctx,
			cfg.RenderFramesAutomatically, cfg.TextureOutput, finalStageCallbacks{
				onOutputSizeChanged:          p.dispatchOutputSizeChanged,
				onFrameAvailableForRendering: p.dispatchFrameAvailable,
				onStreamProcessed:            p.onStreamProcessed,
			})
		p.final.SetErrorListener(DirectExecutor, p.onProcessingError)
		p.switcher = newInputSwitcher(p.executor, p.provider, ctx)
		p.switcher.setErrorListener(DirectExecutor, p.onProcessingError)
		return nil
	})
	if err != nil {
		p.executor.Release(func() error { return nil }, cfg.ReleaseTimeout)
		return nil, err
	}
	return p, nil
}

func (p *FrameProcessor) onProcessingError(err error) {
	wrapped := newProcessingError(err, TimeUnset)
	if p.listener.OnError == nil {
		Logger().Error("vidfx: processing error", "error", wrapped)
		return
	}
	p.listenEx.Execute(func() { p.listener.OnError(wrapped) })
}

func (p *FrameProcessor) dispatchOutputSizeChanged(width, height int) {
	if p.listener.OnOutputSizeChanged != nil {
		p.listenEx.Execute(func() { p.listener.OnOutputSizeChanged(width, height) })
	}
}

func (p *FrameProcessor) dispatchFrameAvailable(presentationTimeUs int64) {
	p.trace.event("OutputFrameAvailable", presentationTimeUs)
	if p.listener.OnOutputFrameAvailableForRendering != nil {
		p.listenEx.Execute(func() { p.listener.OnOutputFrameAvailableForRendering(presentationTimeUs) })
	}
}

// onStreamProcessed runs on the GPU goroutine when a stream's end-of-stream
// has passed through the terminal stage.
func (p *FrameProcessor) onStreamProcessed(lastStream bool) {
	p.mu.Lock()
	pending := p.pendingStream
	pendingDone := p.pendingDone
	p.pendingStream = nil
	p.pendingDone = nil
	ended := p.inputEnded
	p.mu.Unlock()

	if pending != nil {
		if err := p.configureStream(*pending, false); err != nil {
			p.onProcessingError(err)
		}
		if pendingDone != nil {
			close(pendingDone)
		}
		return
	}
	if lastStream && ended {
		p.trace.event("Ended", TimeUnset)
		if p.listener.OnEnded != nil {
			p.listenEx.Execute(func() { p.listener.OnEnded() })
		}
	}
}

// RegisterInputStream starts a new logical input stream with its effect
// chain. The call blocks until the stream is configured; when a previous
// stream is still draining, configuration waits for its completion.
func (p *FrameProcessor) RegisterInputStream(inputType InputType, effects []Effect, desc FrameDescriptor) error {
	if desc.Width <= 0 || desc.Height <= 0 {
		return ErrMissingFrameInfo
	}
	info := inputStreamInfo{inputType: inputType, effects: effects, desc: desc.scaledToSquarePixels()}
	done := make(chan struct{})

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrReleased
	}
	if p.inputEnded {
		p.mu.Unlock()
		return ErrStreamEnded
	}
	if !p.firstRegistered {
		p.firstRegistered = true
		p.mu.Unlock()
		p.trace.event("RegisterInputStream", TimeUnset)
		p.executor.Submit(func() error {
			defer close(done)
			return p.configureStream(info, true)
		})
		<-done
		return nil
	}
	// A stream is already active: queue the registration and drain the
	// active stream. Configuration resumes when the terminal stage reports
	// the active stream fully processed.
	p.pendingStream = &info
	p.pendingDone = done
	p.mu.Unlock()
	p.trace.event("RegisterInputStream", TimeUnset)

	p.executor.Submit(func() error {
		return p.switcher.signalEndOfInput()
	})
	<-done
	return nil
}

// configureStream runs on the GPU goroutine.
func (p *FrameProcessor) configureStream(info inputStreamInfo, force bool) error {
	if force || !effectsEqual(p.activeEffects, info.effects) {
		if err := p.rebuildChain(info.effects); err != nil {
			return err
		}
	}
	p.final.appendStream(info.desc.StreamOffsetUs)
	if err := p.switcher.registerInput(info.inputType); err != nil {
		return err
	}
	if err := p.switcher.switchToInput(info.inputType, info.desc); err != nil {
		return err
	}
	p.mu.Lock()
	p.currentDesc = info.desc
	p.mu.Unlock()
	if p.listener.OnInputStreamRegistered != nil {
		inputType, effects := info.inputType, info.effects
		p.listenEx.Execute(func() { p.listener.OnInputStreamRegistered(inputType, effects) })
	}
	return nil
}

// rebuildChain tears down the intermediate stages and builds the chain for
// the new effect list. Structurally equal lists never reach here, so stage
// programs are reused across streams with unchanged effects.
func (p *FrameProcessor) rebuildChain(effects []Effect) error {
	releaseStages(p.stages)
	p.stages = nil

	useHDR := p.cfg.InputColor.IsTransferHDR() || p.cfg.OutputColor.IsTransferHDR()
	stages, err := buildStageChain(p.provider, p.ctx, useHDR, effects)
	if err != nil {
		return fmt.Errorf("build effect chain: %w", err)
	}
	for _, s := range stages {
		s.SetErrorListener(DirectExecutor, p.onProcessingError)
	}

	// Chain the stages front to back, ending at the terminal stage. The
	// input switcher owns the link from the sampling stages into the head.
	all := append(append([]ShaderStage{}, stages...), p.final)
	for i := 0; i+1 < len(all); i++ {
		link := newChainingListener(p.executor, all[i], all[i+1])
		all[i].SetOutputListener(link)
		all[i+1].SetInputListener(link)
	}
	p.switcher.setDownstreamStage(all[0])

	p.stages = stages
	p.activeEffects = append([]Effect{}, effects...)
	return nil
}

// RegisterInputFrame announces that one frame will arrive on the input
// surface. Must be called once per frame before its pixels are delivered.
func (p *FrameProcessor) RegisterInputFrame() error {
	m, err := p.activeManager()
	if err != nil {
		return err
	}
	p.trace.event("RegisterInputFrame", TimeUnset)
	return m.RegisterInputFrame(FrameDescriptor{})
}

// QueueInputBitmap expands img into one output frame per entry of
// presentationTimesUs. The active stream must be a bitmap stream.
func (p *FrameProcessor) QueueInputBitmap(img image.Image, presentationTimesUs []int64) error {
	m, err := p.activeManager()
	if err != nil {
		return err
	}
	desc, err := p.activeDescriptor()
	if err != nil {
		return err
	}
	p.trace.event("QueueInputBitmap", TimeUnset)
	return m.QueueInputBitmap(img, desc, presentationTimesUs)
}

// QueueInputTexture admits an externally owned texture into the active
// texture-id stream.
func (p *FrameProcessor) QueueInputTexture(tex TextureHandle, presentationTimeUs int64) error {
	m, err := p.activeManager()
	if err != nil {
		return err
	}
	p.trace.event("QueueInputTexture", presentationTimeUs)
	return m.QueueInputTexture(tex, presentationTimeUs)
}

// SetOnInputFrameProcessedListener registers the release callback for
// textures queued with QueueInputTexture.
func (p *FrameProcessor) SetOnInputFrameProcessedListener(ex Executor, fn func(TextureHandle)) error {
	m, err := p.activeManager()
	if err != nil {
		return err
	}
	tm, ok := m.(*texIDTextureManager)
	if !ok {
		return ErrUnsupportedInput
	}
	tm.SetOnInputFrameProcessedListener(ex, fn)
	return nil
}

// InputSurface returns the producer-facing surface of the registered
// surface input.
func (p *FrameProcessor) InputSurface() (*InputSurface, error) {
	m, err := p.activeManager()
	if err != nil {
		return nil, err
	}
	return m.InputSurface()
}

// SetInputDefaultBufferSize hints the input surface's buffer dimensions.
func (p *FrameProcessor) SetInputDefaultBufferSize(width, height int) error {
	m, err := p.activeManager()
	if err != nil {
		return err
	}
	m.SetDefaultBufferSize(width, height)
	return nil
}

// PendingInputFrameCount reports frames accepted but not yet admitted into
// the pipeline, for application-level backpressure.
func (p *FrameProcessor) PendingInputFrameCount() int {
	m, err := p.activeManager()
	if err != nil {
		return 0
	}
	return m.PendingFrameCount()
}

func (p *FrameProcessor) activeManager() (TextureManager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrReleased
	}
	if p.inputEnded {
		return nil, ErrStreamEnded
	}
	if !p.firstRegistered {
		return nil, ErrUnregisteredInput
	}
	m := p.switcher.activeManager()
	if m == nil {
		return nil, ErrUnregisteredInput
	}
	return m, nil
}

func (p *FrameProcessor) activeDescriptor() (FrameDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentDesc.Width <= 0 || p.currentDesc.Height <= 0 {
		return FrameDescriptor{}, ErrMissingFrameInfo
	}
	return p.currentDesc, nil
}

// SetOutputSurface directs rendered output to a new surface target.
func (p *FrameProcessor) SetOutputSurface(target OutputSurfaceTarget) {
	p.executor.Submit(func() error {
		return p.final.SetOutputSurface(target)
	})
}

// SetDebugPreviewSurface installs a best-effort preview surface. Render
// failures on it are logged, never reported.
func (p *FrameProcessor) SetDebugPreviewSurface(s Surface) {
	p.executor.Submit(func() error {
		p.final.SetDebugSurface(s)
		return nil
	})
}

// RenderOutputFrame renders the oldest buffered output frame. Only valid
// with RenderFramesAutomatically off. renderTimeUs may be a presentation
// time, RenderImmediately, or DropFrame.
func (p *FrameProcessor) RenderOutputFrame(renderTimeUs int64) {
	p.trace.event("RenderOutputFrame", renderTimeUs)
	p.final.RenderOutputFrame(renderTimeUs)
}

// ReleaseOutputTexture returns the texture-output frame with the given
// timestamp to the pipeline.
func (p *FrameProcessor) ReleaseOutputTexture(presentationTimeUs int64) {
	p.final.ReleaseOutputTexture(presentationTimeUs)
}

// SignalEndOfInput marks the end of all input. No further streams or
// frames are accepted. OnEnded fires once every queued frame has drained.
func (p *FrameProcessor) SignalEndOfInput() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrReleased
	}
	if p.inputEnded {
		p.mu.Unlock()
		return ErrStreamEnded
	}
	if !p.firstRegistered {
		p.mu.Unlock()
		return ErrUnregisteredInput
	}
	p.inputEnded = true
	p.mu.Unlock()
	p.trace.event("SignalEndOfInput", TimeUnset)

	p.executor.Submit(func() error {
		return p.switcher.signalEndOfInput()
	})
	return nil
}

// Flush discards every in-flight frame and blocks until the pipeline is
// quiescent. Frames queued after Flush returns are processed normally.
func (p *FrameProcessor) Flush() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrReleased
	}
	if !p.firstRegistered {
		p.mu.Unlock()
		return nil
	}
	manager := p.switcher.activeManager()
	p.mu.Unlock()
	p.trace.event("Flush", TimeUnset)

	// Drop queued GPU tasks first so the flush signal overtakes pending
	// per-frame work, then chase the flush from the terminal stage back to
	// the texture manager and wait for the manager to confirm.
	p.executor.Flush()

	var wg sync.WaitGroup
	if manager != nil {
		wg.Add(1)
		manager.SetOnFlushCompleteListener(wg.Done)
	}
	p.executor.Submit(func() error {
		p.final.Flush()
		return nil
	})
	if manager != nil {
		wg.Wait()
		manager.SetOnFlushCompleteListener(nil)
	}
	return nil
}

// Release tears down the pipeline: intermediate stages, the input switcher
// with all registered managers, the terminal stage, and finally the GPU
// context. Teardown continues past individual failures so a stage error
// never leaks the context. Blocks up to the configured release timeout.
func (p *FrameProcessor) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrReleased
	}
	p.released = true
	p.mu.Unlock()
	p.trace.event("Release", TimeUnset)

	return p.executor.Release(func() error {
		releaseStages(p.stages)
		p.stages = nil
		if err := p.switcher.release(); err != nil {
			Logger().Warn("vidfx: input switcher release failed", "error", err)
		}
		if err := p.final.Release(); err != nil {
			Logger().Warn("vidfx: final stage release failed", "error", err)
		}
		if p.placeholder != nil {
			if err := p.provider.DestroySurface(p.ctx, p.placeholder); err != nil {
				Logger().Warn("vidfx: placeholder surface destroy failed", "error", err)
			}
			p.placeholder = nil
		}
		if p.ctx != nil {
			if err := p.provider.DestroyContext(p.ctx); err != nil {
				Logger().Warn("vidfx: context destroy failed", "error", err)
			}
		}
		return nil
	}, p.releaseTmo)
}
