package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frogdesign/akart/internal/codec"
	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/marker"
	"github.com/frogdesign/akart/internal/vehicle"
	"github.com/frogdesign/akart/internal/yuv"
)

// ErrStarted is returned by Start on a pipeline that was already started.
// A pipeline runs once; a new session builds a new one.
var ErrStarted = errors.New("pipeline: already started")

// Scheduler is the execution context of one session: the worker pool and
// the delivery goroutine. It is created at session start and closed at
// session end.
type Scheduler struct {
	Pool     *Pool
	Delivery *Delivery
}

// NewScheduler starts a pool of workers (zero means one per CPU) and a
// delivery goroutine
func NewScheduler(workers int) *Scheduler {
	return &Scheduler{
		Pool:     NewPool(workers),
		Delivery: NewDelivery(),
	}
}

// Close stops the pool, then the delivery goroutine
func (s *Scheduler) Close() {
	s.Pool.Close()
	s.Delivery.Close()
}

// Consumer receives pipeline output on the delivery goroutine
type Consumer interface {
	// OnDisplay is handed a decoded frame for direct display. The frame is
	// released when the call returns; Retain it to keep it longer.
	OnDisplay(frame *codec.Frame)

	// OnEstimates is called once per detection pass with the vehicles seen
	// in frame seq. An empty slice means nothing was visible.
	OnEstimates(seq uint64, estimates []vehicle.Estimate)
}

// Intervals are the sampling periods between stages
type Intervals struct {
	Frame   time.Duration
	Detect  time.Duration
	Display time.Duration

	// MaxFramePixels bounds the decoder. Zero keeps codec.DefaultMaxPixels.
	MaxFramePixels int
}

// IntervalsFromConfig copies the pipeline section
func IntervalsFromConfig(c config.PipelineConfig) Intervals {
	return Intervals{
		Frame:   c.FrameInterval,
		Detect:  c.DetectInterval,
		Display: c.DisplayInterval,

		MaxFramePixels: c.MaxFramePixels,
	}
}

// Stats are the pipeline counters
type Stats struct {
	Received      uint64       `json:"received"`
	Decoded       uint64       `json:"decoded"`
	DecodeFailed  uint64       `json:"decode_failed"`
	Passes        uint64       `json:"passes"`
	Skipped       uint64       `json:"skipped"`
	Delivered     uint64       `json:"delivered"`
	FrameSample   SamplerStats `json:"frame_sample"`
	DetectSample  SamplerStats `json:"detect_sample"`
	DisplaySample SamplerStats `json:"display_sample"`
	Decode        StageStats   `json:"decode"`
	Detect        StageStats   `json:"detect"`
	BufferAllocs  uint64       `json:"buffer_allocs"`
	BufferReuse   uint64       `json:"buffer_reuse"`
}

// Pipeline decodes raw frames, forks them into a display branch and a
// detection branch, and delivers both to a Consumer.
//
//	raw -> sample -> decode -+-> sample -> deliver display
//	                         +-> sample -> convert+detect+locate -> deliver estimates
type Pipeline struct {
	sched     *Scheduler
	consumer  Consumer
	intervals Intervals

	decoder   *codec.Decoder
	converter *yuv.Converter
	detector  *marker.Adapter
	locator   *vehicle.Locator

	rawSample     *Sampler[[]byte]
	detectSample  *Sampler[*codec.Frame]
	displaySample *Sampler[*codec.Frame]
	decodeStage   *Stage[[]byte]
	detectStage   *Stage[*codec.Frame]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	received  atomic.Uint64
	delivered atomic.Uint64
}

// New builds a pipeline on sched. detector must already be initialized.
func New(sched *Scheduler, intervals Intervals, detector *marker.Adapter, locator *vehicle.Locator, consumer Consumer) *Pipeline {
	p := &Pipeline{
		sched:     sched,
		consumer:  consumer,
		intervals: intervals,
		decoder:   codec.NewDecoder(),
		converter: yuv.NewConverter(),
		detector:  detector,
		locator:   locator,
	}

	p.decoder.SetMaxPixels(intervals.MaxFramePixels)

	release := func(f *codec.Frame) { f.Release() }

	p.decodeStage = NewStage(sched.Pool, p.decode, nil)
	p.detectStage = NewStage(sched.Pool, p.detect, release)

	p.rawSample = NewSampler(intervals.Frame, p.decodeStage.Offer, nil)
	p.detectSample = NewSampler(intervals.Detect, p.detectStage.Offer, release)
	p.displaySample = NewSampler(intervals.Display, p.display, release)
	return p
}

// Start runs the samplers until Stop or ctx is done
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrStarted
	}
	for name, d := range map[string]time.Duration{
		"frame":   p.intervals.Frame,
		"detect":  p.intervals.Detect,
		"display": p.intervals.Display,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline: %s interval must be positive, got %s", name, d)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for _, run := range []func(context.Context){p.rawSample.Run, p.detectSample.Run, p.displaySample.Run} {
		p.wg.Add(1)
		go func(run func(context.Context)) {
			defer p.wg.Done()
			run(ctx)
		}(run)
	}

	logger.WithComponent("pipeline").Info().
		Dur("frame_interval", p.intervals.Frame).
		Dur("detect_interval", p.intervals.Detect).
		Dur("display_interval", p.intervals.Display).
		Int("workers", p.sched.Pool.Size()).
		Msg("Pipeline started")
	return nil
}

// Push hands one compressed frame to the pipeline. It never blocks; the
// pipeline owns data from here on.
func (p *Pipeline) Push(data []byte) {
	p.received.Add(1)
	p.rawSample.Offer(data)
}

// Stop halts the samplers and drops every frame still in flight. Stages
// already running finish their item. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.decodeStage.Close()
	p.detectStage.Close()

	s := p.Stats()
	logger.WithComponent("pipeline").Info().
		Uint64("received", s.Received).
		Uint64("decoded", s.Decoded).
		Uint64("decode_failed", s.DecodeFailed).
		Uint64("passes", s.Passes).
		Uint64("skipped", s.Skipped).
		Uint64("dropped_raw", s.FrameSample.Dropped).
		Uint64("dropped_detect", s.DetectSample.Dropped).
		Uint64("dropped_display", s.DisplaySample.Dropped).
		Msg("Pipeline stopped")
}

// decode runs on the pool
func (p *Pipeline) decode(data []byte) {
	frame, err := p.decoder.Decode(data)
	if err != nil {
		logger.WithComponent("pipeline").Debug().Err(err).Int("bytes", len(data)).Msg("Skipping frame")
		return
	}
	p.displaySample.Offer(frame.Retain())
	p.detectSample.Offer(frame)
}

// detect runs on the pool. The converter and locator are only touched here.
func (p *Pipeline) detect(frame *codec.Frame) {
	seq := frame.Seq
	converted := p.converter.Convert(frame.Image)
	frame.Release()

	poses, ok, err := p.detector.Detect(converted)
	if err != nil {
		logger.WithComponent("pipeline").Warn().Err(err).Uint64("seq", seq).Msg("Detection failed")
		return
	}
	if !ok {
		logger.WithComponent("pipeline").Debug().Uint64("seq", seq).Msg("Detection skipped")
		return
	}

	estimates := p.locator.Locate(poses)
	p.sched.Delivery.Post(func() {
		p.delivered.Add(1)
		p.consumer.OnEstimates(seq, estimates)
	})
}

// display runs on the display sampler goroutine
func (p *Pipeline) display(frame *codec.Frame) {
	posted := p.sched.Delivery.Post(func() {
		defer frame.Release()
		p.delivered.Add(1)
		p.consumer.OnDisplay(frame)
	})
	if !posted {
		frame.Release()
	}
}

// Stats returns the pipeline counters
func (p *Pipeline) Stats() Stats {
	ds := p.decoder.Stats()
	passes, skipped := p.detector.Counts()
	return Stats{
		Received:      p.received.Load(),
		Decoded:       ds.Decoded,
		DecodeFailed:  ds.Failed,
		Passes:        passes,
		Skipped:       skipped,
		Delivered:     p.delivered.Load(),
		FrameSample:   p.rawSample.Stats(),
		DetectSample:  p.detectSample.Stats(),
		DisplaySample: p.displaySample.Stats(),
		Decode:        p.decodeStage.Stats(),
		Detect:        p.detectStage.Stats(),
		BufferAllocs:  ds.Allocations,
		BufferReuse:   ds.Reused,
	}
}
