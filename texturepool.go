package vidfx

import (
	"fmt"
	"sync/atomic"
)

// poolTextureIDs mints the identity carried by every pool-managed handle.
var poolTextureIDs atomic.Uint64

// TexturePool is a fixed-capacity set of same-sized GPU textures with
// free/in-use tracking. Capacity is fixed at construction and never grows.
//
// The pool is touched only from the GPU goroutine, so it needs no locking.
type TexturePool struct {
	capacity int

	// free holds unclaimed textures. in use holds claimed textures in
	// acquisition order, oldest first.
	free  []TextureHandle
	inUse []TextureHandle

	width  int
	height int
}

// NewTexturePool creates an unconfigured pool of the given capacity. No
// textures exist until EnsureConfigured is called.
func NewTexturePool(capacity int) *TexturePool {
	return &TexturePool{capacity: capacity}
}

// Capacity returns the fixed number of textures the pool manages.
func (p *TexturePool) Capacity() int { return p.capacity }

// FreeTextureCount returns the number of unclaimed textures. Zero until the
// pool is configured.
func (p *TexturePool) FreeTextureCount() int { return len(p.free) }

// IsConfigured reports whether the pool currently holds textures.
func (p *TexturePool) IsConfigured() bool {
	return len(p.free)+len(p.inUse) > 0
}

// EnsureConfigured allocates the pool's textures at the given size. If the
// pool is already configured at that size this is a no-op; otherwise all
// existing textures are deleted and a full set is created at the new size.
// Reconfiguring with textures still in use discards them, so callers must
// only resize at stream boundaries.
func (p *TexturePool) EnsureConfigured(provider GPUObjectsProvider, ctx *GPUContext, width, height int) error {
	if p.IsConfigured() && p.width == width && p.height == height {
		return nil
	}
	p.DeleteAll(ctx)
	for i := 0; i < p.capacity; i++ {
		h, err := provider.CreateTextureBuffers(ctx, width, height)
		if err != nil {
			p.DeleteAll(ctx)
			return fmt.Errorf("configure texture pool: %w", err)
		}
		h.id = poolTextureIDs.Add(1)
		p.free = append(p.free, h)
	}
	p.width = width
	p.height = height
	return nil
}

// UseTexture claims a free texture. Callers must gate on FreeTextureCount;
// claiming from an exhausted pool is a contract violation, not a condition
// to wait out.
func (p *TexturePool) UseTexture() (TextureHandle, error) {
	if !p.IsConfigured() {
		return TextureHandle{}, ErrPoolNotConfigured
	}
	if len(p.free) == 0 {
		return TextureHandle{}, fmt.Errorf("%w: capacity %d", ErrPoolExhausted, p.capacity)
	}
	h := p.free[0]
	p.free = p.free[1:]
	p.inUse = append(p.inUse, h)
	return h, nil
}

// FreeOldestTexture releases the longest-held in-use texture back to the
// pool. Used when consumers release frames strictly in arrival order.
func (p *TexturePool) FreeOldestTexture() error {
	if len(p.inUse) == 0 {
		return ErrTextureNotInUse
	}
	h := p.inUse[0]
	p.inUse = p.inUse[1:]
	p.free = append(p.free, h)
	return nil
}

// FreeTexture releases a specific in-use texture back to the pool. Entries
// match on the handle's pool identity, not the hal texture, since some
// backends hand out value-like textures that compare equal.
func (p *TexturePool) FreeTexture(h TextureHandle) error {
	for i := range p.inUse {
		if p.inUse[i].id == h.id {
			p.inUse = append(p.inUse[:i], p.inUse[i+1:]...)
			p.free = append(p.free, h)
			return nil
		}
	}
	return ErrTextureNotInUse
}

// FreeAllTextures returns every in-use texture to the free set without
// destroying anything. Used on flush.
func (p *TexturePool) FreeAllTextures() {
	p.free = append(p.free, p.inUse...)
	p.inUse = p.inUse[:0]
}

// DeleteAll destroys every texture in the pool. Must run before the GPU
// context is torn down.
func (p *TexturePool) DeleteAll(ctx *GPUContext) {
	for _, h := range p.free {
		destroyTextureHandle(ctx, h)
	}
	for _, h := range p.inUse {
		destroyTextureHandle(ctx, h)
	}
	p.free = nil
	p.inUse = nil
	p.width = 0
	p.height = 0
}
