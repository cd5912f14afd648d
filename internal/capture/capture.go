// Package capture produces the compressed video frames a vehicle streams
// back: a gst-launch subprocess for real cameras and a still-image replay
// for bench driving.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/logger"
)

// ErrUnknownSource is returned by New for an unrecognized source kind
var ErrUnknownSource = errors.New("capture: unknown source kind")

// newAppSink builds the in-process GStreamer source. It is only set in
// binaries built with the gst tag.
var newAppSink func(pipeline string) Source

// FrameFunc receives one complete compressed frame. It must not modify
// data and must not block for long.
type FrameFunc func(data []byte)

// Source defines the interface for frame producers
type Source interface {
	// Start begins producing frames into fn until ctx is done or Stop is
	// called
	Start(ctx context.Context, fn FrameFunc) error

	// Stop releases resources and stops any background processes
	Stop() error

	// Name returns a human-readable name for this source
	Name() string

	// IsAvailable checks if this source can be used in the current environment
	IsAvailable() bool
}

// Ender is implemented by sources that can stop producing on their own, such
// as a subprocess that exits. fn runs at most once per Start, never for a
// stop requested through Stop or ctx.
type Ender interface {
	OnEnd(fn func(err error))
}

// New picks a source for cfg. A gstreamer source without gst-launch on the
// PATH falls back to the still-image replay.
func New(cfg config.SourceConfig) (Source, error) {
	log := logger.WithComponent("capture")

	switch cfg.Kind {
	case "file":
		return NewFileSource(cfg.File, cfg.FPS), nil
	case "appsink":
		if newAppSink == nil {
			return nil, fmt.Errorf("appsink source needs a binary built with -tags gst")
		}
		return newAppSink(cfg.Pipeline), nil
	case "", "gstreamer":
		gst := NewGStreamerSource(cfg.Pipeline)
		if gst.IsAvailable() {
			return gst, nil
		}
		log.Warn().Msg("gst-launch-1.0 not found, falling back to file source")
		return NewFileSource(cfg.File, cfg.FPS), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, cfg.Kind)
	}
}
