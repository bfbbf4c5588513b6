package vidfx

import (
	"errors"
	"sync"
	"testing"
)

// fakeProducer records the timestamps handed back by the compositor.
type fakeProducer struct {
	mu       sync.Mutex
	released []int64
}

func (p *fakeProducer) ReleaseOutputTexture(presentationTimeUs int64) {
	p.mu.Lock()
	p.released = append(p.released, presentationTimeUs)
	p.mu.Unlock()
}

func (p *fakeProducer) Released() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64{}, p.released...)
}

type compositorFixture struct {
	c *Compositor

	mu      sync.Mutex
	outputs []int64
	ended   int
	errs    []error
}

func newCompositorFixture(t *testing.T, settings CompositorSettings) *compositorFixture {
	t.Helper()
	f := &compositorFixture{}
	c, err := NewCompositor(CompositorConfig{
		Provider: &noopObjectsProvider{},
		Settings: settings,
	}, DirectExecutor, CompositorListener{
		OnOutputTextureRendered: func(tex TextureHandle, pts int64, sync *SyncObject) {
			f.mu.Lock()
			f.outputs = append(f.outputs, pts)
			f.mu.Unlock()
		},
		OnEnded: func() {
			f.mu.Lock()
			f.ended++
			f.mu.Unlock()
		},
		OnError: func(err error) {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewCompositor failed: %v", err)
	}
	f.c = c
	t.Cleanup(func() { c.Release() })
	return f
}

func (f *compositorFixture) snapshot() ([]int64, int, []error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.outputs...), f.ended, append([]error{}, f.errs...)
}

// newTexture creates an input texture on the compositor's own context.
func (f *compositorFixture) newTexture(t *testing.T, width, height int) TextureHandle {
	t.Helper()
	var tex TextureHandle
	if err := f.c.executor.SubmitAndBlock(func() error {
		var err error
		tex, err = f.c.provider.CreateTextureBuffers(f.c.ctx, width, height)
		return err
	}); err != nil {
		t.Fatalf("creating input texture: %v", err)
	}
	return tex
}

func (f *compositorFixture) drain(t *testing.T) {
	t.Helper()
	if err := f.c.executor.SubmitAndBlock(func() error { return nil }); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// Each composite pairs the primary frame with the closest secondary frame,
// and secondary frames superseded by a later one are handed back without
// ever appearing in an output.
func TestCompositorTimestampMatching(t *testing.T) {
	f := newCompositorFixture(t, nil)
	c := f.c

	primaryID := c.RegisterInputSource()
	secondaryID := c.RegisterInputSource()
	primary := &fakeProducer{}
	secondary := &fakeProducer{}

	queue := func(id int, p *fakeProducer, pts int64) {
		tex := f.newTexture(t, 8, 8)
		if err := c.QueueInputTexture(id, p, tex, ColorInfoSDRVideo, pts); err != nil {
			t.Fatalf("QueueInputTexture(%d, %d) failed: %v", id, pts, err)
		}
	}

	// Secondary frames alone produce no output.
	queue(secondaryID, secondary, 10000)
	queue(secondaryID, secondary, 40000)
	f.drain(t)
	if outputs, _, _ := f.snapshot(); len(outputs) != 0 {
		t.Fatalf("outputs before any primary frame = %v, want none", outputs)
	}

	// Primary at 0 matches secondary 10000 (the only candidate not past it).
	queue(primaryID, primary, 0)
	f.drain(t)
	outputs, _, errs := f.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(outputs) != 1 || outputs[0] != 0 {
		t.Fatalf("outputs = %v, want [0]", outputs)
	}
	if got := primary.Released(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("primary released = %v, want [0]", got)
	}

	// Primary at 33000 matches 40000; the superseded 10000 goes back to its
	// producer without ever being composited.
	queue(primaryID, primary, 33000)
	f.drain(t)
	outputs, _, _ = f.snapshot()
	if len(outputs) != 2 || outputs[1] != 33000 {
		t.Fatalf("outputs = %v, want [0 33000]", outputs)
	}
	if got := secondary.Released(); len(got) != 1 || got[0] != 10000 {
		t.Fatalf("secondary released = %v, want [10000]", got)
	}

	// Primary at 66000 cannot composite yet: the secondary's last frame is
	// not past it and the source has not ended.
	queue(primaryID, primary, 66000)
	c.ReleaseOutputTexture(0)
	f.drain(t)
	if outputs, _, _ = f.snapshot(); len(outputs) != 2 {
		t.Fatalf("outputs = %v, want no composite at 66000 yet", outputs)
	}

	// Ending the secondary source settles the match.
	c.SignalEndOfInputSource(secondaryID)
	f.drain(t)
	outputs, _, _ = f.snapshot()
	if len(outputs) != 3 || outputs[2] != 66000 {
		t.Fatalf("outputs = %v, want [0 33000 66000]", outputs)
	}
	if got := primary.Released(); len(got) != 3 {
		t.Fatalf("primary released = %v, want all three frames back", got)
	}

	// Ending the primary releases the secondary's held frame and ends the
	// composition.
	c.SignalEndOfInputSource(primaryID)
	f.drain(t)
	_, ended, errs := f.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := secondary.Released(); len(got) != 2 || got[1] != 40000 {
		t.Fatalf("secondary released = %v, want [10000 40000]", got)
	}
	if ended != 1 {
		t.Fatalf("OnEnded fired %d times, want 1", ended)
	}
}

func TestCompositorSingleSource(t *testing.T) {
	f := newCompositorFixture(t, nil)
	c := f.c

	id := c.RegisterInputSource()
	producer := &fakeProducer{}
	tex := f.newTexture(t, 64, 48)
	if err := c.QueueInputTexture(id, producer, tex, ColorInfoSDRVideo, 100); err != nil {
		t.Fatalf("QueueInputTexture failed: %v", err)
	}
	f.drain(t)

	outputs, _, errs := f.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(outputs) != 1 || outputs[0] != 100 {
		t.Fatalf("outputs = %v, want [100]", outputs)
	}
	if got := producer.Released(); len(got) != 1 || got[0] != 100 {
		t.Fatalf("released = %v, want [100]", got)
	}
}

func TestCompositorRejectsMixedColorInfo(t *testing.T) {
	f := newCompositorFixture(t, nil)
	c := f.c

	primaryID := c.RegisterInputSource()
	secondaryID := c.RegisterInputSource()
	producer := &fakeProducer{}

	tex := TextureHandle{Width: 8, Height: 8}
	if err := c.QueueInputTexture(primaryID, producer, tex, ColorInfoSDRVideo, 0); err != nil {
		t.Fatalf("first queue failed: %v", err)
	}
	err := c.QueueInputTexture(secondaryID, producer, tex, ColorInfoHLG, 0)
	if !errors.Is(err, ErrMixedColorInfo) {
		t.Fatalf("differing color queue = %v, want ErrMixedColorInfo", err)
	}
}

func TestCompositorUnregisteredSource(t *testing.T) {
	f := newCompositorFixture(t, nil)

	err := f.c.QueueInputTexture(7, &fakeProducer{}, TextureHandle{Width: 8, Height: 8}, ColorInfoSDRVideo, 0)
	if err != nil {
		t.Fatalf("QueueInputTexture returned synchronously: %v", err)
	}
	f.drain(t)

	_, _, errs := f.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnregisteredInput) {
		t.Fatalf("errors = %v, want [ErrUnregisteredInput]", errs)
	}
}

func TestCompositorRelease(t *testing.T) {
	f := newCompositorFixture(t, nil)

	if err := f.c.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := f.c.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release = %v, want ErrReleased", err)
	}
	err := f.c.QueueInputTexture(0, &fakeProducer{}, TextureHandle{Width: 8, Height: 8}, ColorInfoSDRVideo, 0)
	if !errors.Is(err, ErrReleased) {
		t.Errorf("queue after release = %v, want ErrReleased", err)
	}
}

func TestSelectSecondaryFrame(t *testing.T) {
	frames := func(pts ...int64) []compositorFrame {
		out := make([]compositorFrame, len(pts))
		for i, p := range pts {
			out[i].pts = p
		}
		return out
	}
	tests := []struct {
		name       string
		src        compositorSource
		primaryPts int64
		wantIdx    int
		wantReady  bool
	}{
		{"empty waits", compositorSource{}, 0, 0, false},
		{"empty ended", compositorSource{ended: true}, 0, -1, true},
		{"single past primary", compositorSource{frames: frames(10)}, 0, 0, true},
		{"closest wins", compositorSource{frames: frames(10, 40)}, 33, 1, true},
		{"tie favors earlier", compositorSource{frames: frames(20, 40)}, 30, 0, true},
		{"all before primary waits", compositorSource{frames: frames(10)}, 33, 0, false},
		{"all before primary ended", compositorSource{frames: frames(10), ended: true}, 33, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idx, ready := selectSecondaryFrame(&tc.src, tc.primaryPts)
			if idx != tc.wantIdx || ready != tc.wantReady {
				t.Errorf("selectSecondaryFrame = (%d, %v), want (%d, %v)",
					idx, ready, tc.wantIdx, tc.wantReady)
			}
		})
	}
}

func TestOverlayMatrices(t *testing.T) {
	o := OverlaySettings{Alpha: 0.5, Scale: 2, X: 0.25, Y: -0.25}

	m := overlayTransform(o)
	if m[0] != 2 || m[5] != 2 || m[12] != 0.25 || m[13] != -0.25 {
		t.Errorf("overlayTransform = %v", m)
	}
	cm := overlayColorMatrix(o)
	if cm[15] != 0.5 {
		t.Errorf("alpha scale = %v, want 0.5", cm[15])
	}
	if cm[0] != 1 || cm[5] != 1 || cm[10] != 1 {
		t.Errorf("color matrix diagonal altered: %v", cm)
	}
}
