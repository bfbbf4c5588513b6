package vidfx

import "sync"

// chainedFrame is one produced-but-not-yet-consumed frame buffered between
// two stages. An entry with eos set is the end-of-stream marker; it is only
// forwarded once every frame ahead of it has been handed downstream.
type chainedFrame struct {
	tex TextureHandle
	pts int64
	eos bool
}

// chainingListener connects one stage's output to the next stage's input.
// It is installed as the producer's output listener and the consumer's
// input listener simultaneously, translating between the two halves of the
// credit-based admission contract:
//
//   - consumer readiness either forwards a buffered frame or banks a credit,
//   - producer output either spends a banked credit or buffers the frame,
//   - consumer release of processed input returns the texture to the
//     producer,
//   - consumer flush propagates upstream to the producer.
//
// Listener methods may be called from any goroutine; GPU work is marshaled
// onto the executor.
type chainingListener struct {
	executor *gpuExecutor
	producer ShaderStage
	consumer ShaderStage

	mu       sync.Mutex
	capacity int
	frames   []chainedFrame
}

var (
	_ InputListener  = (*chainingListener)(nil)
	_ OutputListener = (*chainingListener)(nil)
)

func newChainingListener(executor *gpuExecutor, producer, consumer ShaderStage) *chainingListener {
	return &chainingListener{
		executor: executor,
		producer: producer,
		consumer: consumer,
	}
}

// OnReadyToAcceptInputFrame implements InputListener, called by the
// consumer.
func (c *chainingListener) OnReadyToAcceptInputFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		c.capacity++
		return
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	if frame.eos {
		c.executor.Submit(func() error {
			c.consumer.SignalEndOfCurrentInputStream()
			return nil
		})
		return
	}
	c.executor.Submit(func() error {
		c.consumer.QueueInputFrame(frame.tex, frame.pts)
		return nil
	})
	// A trailing end-of-stream marker follows its last frame immediately
	// rather than waiting for another readiness credit.
	if len(c.frames) > 0 && c.frames[0].eos {
		c.frames = c.frames[1:]
		c.executor.Submit(func() error {
			c.consumer.SignalEndOfCurrentInputStream()
			return nil
		})
	}
}

// OnInputFrameProcessed implements InputListener, called by the consumer.
func (c *chainingListener) OnInputFrameProcessed(tex TextureHandle) {
	c.executor.Submit(func() error {
		c.producer.ReleaseOutputFrame(tex)
		return nil
	})
}

// OnFlush implements InputListener, called by the consumer during its
// flush. Buffered frames and banked credits are discarded, then the flush
// propagates upstream.
func (c *chainingListener) OnFlush() {
	c.mu.Lock()
	c.capacity = 0
	c.frames = nil
	c.mu.Unlock()
	c.executor.Submit(func() error {
		c.producer.Flush()
		return nil
	})
}

// OnOutputFrameAvailable implements OutputListener, called by the producer.
func (c *chainingListener) OnOutputFrameAvailable(tex TextureHandle, presentationTimeUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 {
		c.capacity--
		c.executor.Submit(func() error {
			c.consumer.QueueInputFrame(tex, presentationTimeUs)
			return nil
		})
		return
	}
	c.frames = append(c.frames, chainedFrame{tex: tex, pts: presentationTimeUs})
}

// OnCurrentOutputStreamEnded implements OutputListener, called by the
// producer. With frames still buffered the signal is queued behind them so
// the consumer sees every frame of the stream first.
func (c *chainingListener) OnCurrentOutputStreamEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) > 0 {
		c.frames = append(c.frames, chainedFrame{pts: TimeUnset, eos: true})
		return
	}
	c.executor.Submit(func() error {
		c.consumer.SignalEndOfCurrentInputStream()
		return nil
	})
}
