package vidfx

import (
	"errors"
	"testing"
)

func newTestPool(t *testing.T, capacity, width, height int) (*TexturePool, *noopObjectsProvider, *GPUContext, func()) {
	t.Helper()
	ctx, cleanup := createNoopDevice(t)
	provider := &noopObjectsProvider{}
	pool := NewTexturePool(capacity)
	if width > 0 {
		if err := pool.EnsureConfigured(provider, ctx, width, height); err != nil {
			cleanup()
			t.Fatalf("EnsureConfigured failed: %v", err)
		}
	}
	return pool, provider, ctx, cleanup
}

func TestTexturePoolUnconfigured(t *testing.T) {
	pool := NewTexturePool(3)

	if pool.IsConfigured() {
		t.Error("IsConfigured = true for a fresh pool")
	}
	if pool.Capacity() != 3 {
		t.Errorf("Capacity = %d, want 3", pool.Capacity())
	}
	if pool.FreeTextureCount() != 0 {
		t.Errorf("FreeTextureCount = %d, want 0", pool.FreeTextureCount())
	}
	if _, err := pool.UseTexture(); !errors.Is(err, ErrPoolNotConfigured) {
		t.Errorf("UseTexture = %v, want ErrPoolNotConfigured", err)
	}
}

func TestTexturePoolConfigureAndUse(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 2, 320, 240)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	if pool.FreeTextureCount() != 2 {
		t.Fatalf("FreeTextureCount = %d, want 2", pool.FreeTextureCount())
	}
	h, err := pool.UseTexture()
	if err != nil {
		t.Fatalf("UseTexture failed: %v", err)
	}
	if h.Width != 320 || h.Height != 240 {
		t.Errorf("texture size = %dx%d, want 320x240", h.Width, h.Height)
	}
	if pool.FreeTextureCount() != 1 {
		t.Errorf("FreeTextureCount after use = %d, want 1", pool.FreeTextureCount())
	}
}

func TestTexturePoolExhaustion(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 2, 64, 64)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	if _, err := pool.UseTexture(); err != nil {
		t.Fatalf("UseTexture 1 failed: %v", err)
	}
	if _, err := pool.UseTexture(); err != nil {
		t.Fatalf("UseTexture 2 failed: %v", err)
	}
	if _, err := pool.UseTexture(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("UseTexture on exhausted pool = %v, want ErrPoolExhausted", err)
	}
}

func TestTexturePoolFreeTexture(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 2, 64, 64)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	a, _ := pool.UseTexture()
	b, _ := pool.UseTexture()

	if err := pool.FreeTexture(b); err != nil {
		t.Fatalf("FreeTexture failed: %v", err)
	}
	if pool.FreeTextureCount() != 1 {
		t.Errorf("FreeTextureCount = %d, want 1", pool.FreeTextureCount())
	}
	// b is free again; freeing it twice must fail.
	if err := pool.FreeTexture(b); !errors.Is(err, ErrTextureNotInUse) {
		t.Errorf("double FreeTexture = %v, want ErrTextureNotInUse", err)
	}
	if err := pool.FreeTexture(a); err != nil {
		t.Fatalf("FreeTexture(a) failed: %v", err)
	}
	if pool.FreeTextureCount() != 2 {
		t.Errorf("FreeTextureCount = %d, want 2", pool.FreeTextureCount())
	}
}

func TestTexturePoolFreeOldestTexture(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 3, 64, 64)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	a, _ := pool.UseTexture()
	b, _ := pool.UseTexture()

	if err := pool.FreeOldestTexture(); err != nil {
		t.Fatalf("FreeOldestTexture failed: %v", err)
	}
	// a was acquired first, so it must be the one freed: freeing a again
	// fails, freeing b succeeds.
	if err := pool.FreeTexture(a); !errors.Is(err, ErrTextureNotInUse) {
		t.Errorf("FreeTexture(a) after FreeOldestTexture = %v, want ErrTextureNotInUse", err)
	}
	if err := pool.FreeTexture(b); err != nil {
		t.Errorf("FreeTexture(b) = %v, want nil", err)
	}
	if err := pool.FreeOldestTexture(); !errors.Is(err, ErrTextureNotInUse) {
		t.Errorf("FreeOldestTexture with nothing in use = %v, want ErrTextureNotInUse", err)
	}
}

func TestTexturePoolReconfigure(t *testing.T) {
	pool, provider, ctx, cleanup := newTestPool(t, 2, 64, 64)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	before, _ := pool.UseTexture()
	pool.FreeTexture(before)

	// Same size is a no-op: the same textures stay in the pool.
	if err := pool.EnsureConfigured(provider, ctx, 64, 64); err != nil {
		t.Fatalf("EnsureConfigured same size failed: %v", err)
	}
	same, _ := pool.UseTexture()
	pool.FreeTexture(same)
	if same.Texture != before.Texture {
		t.Error("same-size EnsureConfigured replaced the pool's textures")
	}

	// A new size rebuilds the whole pool.
	if err := pool.EnsureConfigured(provider, ctx, 128, 128); err != nil {
		t.Fatalf("EnsureConfigured new size failed: %v", err)
	}
	if pool.FreeTextureCount() != 2 {
		t.Fatalf("FreeTextureCount after resize = %d, want 2", pool.FreeTextureCount())
	}
	h, _ := pool.UseTexture()
	if h.Width != 128 || h.Height != 128 {
		t.Errorf("texture size after resize = %dx%d, want 128x128", h.Width, h.Height)
	}
	pool.FreeTexture(h)
}

func TestTexturePoolFreeAllTextures(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 3, 64, 64)
	defer cleanup()
	defer pool.DeleteAll(ctx)

	pool.UseTexture()
	pool.UseTexture()
	pool.FreeAllTextures()
	if pool.FreeTextureCount() != 3 {
		t.Errorf("FreeTextureCount after FreeAllTextures = %d, want 3", pool.FreeTextureCount())
	}
}

func TestTexturePoolDeleteAll(t *testing.T) {
	pool, _, ctx, cleanup := newTestPool(t, 2, 64, 64)
	defer cleanup()

	pool.UseTexture()
	pool.DeleteAll(ctx)
	if pool.IsConfigured() {
		t.Error("IsConfigured = true after DeleteAll")
	}
	if pool.FreeTextureCount() != 0 {
		t.Errorf("FreeTextureCount after DeleteAll = %d, want 0", pool.FreeTextureCount())
	}
}
