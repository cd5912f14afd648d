package output

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/frogdesign/akart/internal/codec"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/pipeline"
)

// Renderer draws on top of a frame copy
type Renderer interface {
	Render(img *image.RGBA) error
}

// Compositor copies display frames, draws the HUD on the copy and fans the
// result out to every output. It works on its own goroutine so JPEG
// encoding never holds up the delivery goroutine; a frame arriving while it
// is busy replaces the one waiting.
type Compositor struct {
	hud     Renderer
	outputs []Output
	scaler  *Scaler
	slot    *pipeline.Slot[*codec.Frame]
	canvas  *image.RGBA
	done    chan struct{}
	started atomic.Bool
	once    sync.Once

	written atomic.Uint64
}

// NewCompositor creates a compositor scaling to cfg's size. hud may be nil.
func NewCompositor(cfg Config, hud Renderer, outputs ...Output) *Compositor {
	return &Compositor{
		hud:     hud,
		outputs: outputs,
		scaler:  NewScaler(cfg.Width, cfg.Height),
		slot:    pipeline.NewSlot(func(f *codec.Frame) { f.Release() }),
		done:    make(chan struct{}),
	}
}

// Start launches the compositing goroutine
func (c *Compositor) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.loop()
	}
}

// OnDisplay takes a holder on frame and queues it. Safe to call from the
// delivery goroutine.
func (c *Compositor) OnDisplay(frame *codec.Frame) {
	c.slot.Put(frame.Retain())
}

func (c *Compositor) loop() {
	defer close(c.done)
	for {
		frame, ok := c.slot.Take()
		if !ok {
			return
		}
		c.compose(frame)
	}
}

func (c *Compositor) compose(frame *codec.Frame) {
	b := frame.Image.Bounds()
	if c.canvas == nil || c.canvas.Bounds() != b {
		c.canvas = image.NewRGBA(b)
	}
	copy(c.canvas.Pix, frame.Image.Pix)
	frame.Release()

	if c.hud != nil {
		if err := c.hud.Render(c.canvas); err != nil {
			logger.WithComponent("output").Warn().Err(err).Msg("Failed to render HUD")
		}
	}

	out := c.scaler.Fit(c.canvas)
	c.written.Add(1)
	for _, o := range c.outputs {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(out); err != nil {
			logger.WithComponent("output").Debug().Err(err).Str("output", o.Name()).Msg("Failed to write frame")
		}
	}
}

// Written returns the number of frames composed
func (c *Compositor) Written() uint64 {
	return c.written.Load()
}

// Stop drops the waiting frame and waits for the goroutine. Outputs are
// left running.
func (c *Compositor) Stop() {
	c.once.Do(func() {
		c.slot.Close()
		if c.started.Load() {
			<-c.done
		}
	})
}
