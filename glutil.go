package vidfx

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// SyncObject marks a point in the GPU timeline: the queue submission that
// produced a texture. A consumer handed a texture together with a
// SyncObject must Wait on it before reading the texture, and Release it
// when done.
type SyncObject struct {
	device hal.Device
	fence  hal.Fence
	value  uint64
}

// Wait blocks until the GPU work the sync object guards has completed, or
// the timeout elapses. A sync object with no recorded submission waits for
// nothing.
func (s *SyncObject) Wait(timeout time.Duration) error {
	if s == nil || s.fence == nil || s.value == 0 {
		return nil
	}
	ok, err := s.device.Wait(s.fence, s.value, timeout)
	if err != nil {
		return fmt.Errorf("vidfx: fence wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("vidfx: fence wait timed out after %v", timeout)
	}
	return nil
}

// Release detaches the sync object from the context's timeline fence. The
// fence itself lives as long as the GPU context.
func (s *SyncObject) Release() {
	if s == nil {
		return
	}
	s.fence = nil
}

// newSyncObject creates a sync object on the context's timeline fence. Its
// value is the submission index recorded by the guarded queue submit.
func newSyncObject(ctx *GPUContext) *SyncObject {
	return &SyncObject{device: ctx.Device, fence: ctx.fence}
}

// submitSync submits command buffers and blocks until the GPU has executed
// them, by waiting on the returned submission index.
func submitSync(ctx *GPUContext, bufs []hal.CommandBuffer, timeout time.Duration) error {
	idx, err := ctx.Queue.Submit(bufs)
	if err != nil {
		return fmt.Errorf("vidfx: queue submit: %w", err)
	}
	ok, err := ctx.Device.Wait(ctx.fence, idx, timeout)
	if err != nil {
		return fmt.Errorf("vidfx: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("vidfx: GPU wait timed out after %v", timeout)
	}
	return nil
}

// uploadRGBA copies tightly packed RGBA pixels into a texture.
func uploadRGBA(ctx *GPUContext, dst TextureHandle, pix []byte) error {
	want := dst.Width * dst.Height * 4
	if len(pix) < want {
		return fmt.Errorf("vidfx: pixel buffer too small: have %d, want %d", len(pix), want)
	}
	ctx.Queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  dst.Texture,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   gputypes.TextureAspectAll,
		},
		pix[:want],
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(dst.Width * 4),
			RowsPerImage: uint32(dst.Height),
		},
		&hal.Extent3D{
			Width:              uint32(dst.Width),
			Height:             uint32(dst.Height),
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

// destroyTextureHandle releases a texture and its view. Safe on the zero
// handle.
func destroyTextureHandle(ctx *GPUContext, h TextureHandle) {
	if h.View != nil {
		ctx.Device.DestroyTextureView(h.View)
	}
	if h.Texture != nil {
		ctx.Device.DestroyTexture(h.Texture)
	}
}
