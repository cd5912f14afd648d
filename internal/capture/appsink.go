//go:build gst

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/frogdesign/akart/internal/logger"
)

var errEndOfStream = errors.New("capture: end of stream")

func init() {
	newAppSink = func(pipeline string) Source { return NewAppSinkSource(pipeline) }
}

// AppSinkSource runs the camera pipeline in process through the GStreamer
// bindings and pulls JPEG buffers from an appsink
type AppSinkSource struct {
	pipelineStr string

	mu       sync.RWMutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	onEnd    func(error)
}

// NewAppSinkSource creates a source for pipeline, which must end in an
// element producing image/jpeg
func NewAppSinkSource(pipeline string) *AppSinkSource {
	return &AppSinkSource{pipelineStr: pipeline}
}

// Name returns the source name
func (s *AppSinkSource) Name() string {
	return "gst-appsink"
}

// OnEnd registers the callback for the pipeline reaching end of stream
func (s *AppSinkSource) OnEnd(fn func(err error)) {
	s.mu.Lock()
	s.onEnd = fn
	s.mu.Unlock()
}

// IsAvailable reports true; the bindings are linked in
func (s *AppSinkSource) IsAvailable() bool {
	return true
}

// Start builds and plays the pipeline
func (s *AppSinkSource) Start(ctx context.Context, fn FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("appsink source already running")
	}

	gst.Init(nil)

	// Polling mode avoids cgo callbacks into Go
	full := s.pipelineStr + " ! appsink name=sink emit-signals=false max-buffers=2 drop=true"
	logger.WithComponent("capture").Debug().Str("pipeline", full).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(full)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.appsink = app.SinkFromElement(sinkElement)
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.pollSamples(ctx, s.appsink, s.stopChan, fn)

	logger.WithComponent("capture").Info().Msg("GStreamer appsink pipeline started")
	return nil
}

func (s *AppSinkSource) pollSamples(ctx context.Context, sink *app.Sink, stop chan struct{}, fn FrameFunc) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		sample := sink.TryPullSample(10 * time.Millisecond)
		if sample == nil {
			if sink.IsEOS() {
				s.mu.RLock()
				onEnd := s.onEnd
				s.mu.RUnlock()
				logger.WithComponent("capture").Warn().Msg("GStreamer pipeline reached end of stream")
				if onEnd != nil {
					go onEnd(errEndOfStream)
				}
				return
			}
			continue
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		if mapInfo == nil {
			continue
		}
		data := append([]byte(nil), mapInfo.Bytes()...)
		buffer.Unmap()

		fn(data)
	}
}

// Stop halts the pipeline
func (s *AppSinkSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.pipeline.SetState(gst.StateNull)
	s.pipeline.Unref()
	s.pipeline = nil
	s.appsink = nil
	s.mu.Unlock()

	logger.WithComponent("capture").Info().Msg("GStreamer appsink pipeline stopped")
	return nil
}
