// Package transport connects the client to a car: motor commands go out,
// video frames and battery telemetry come back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/frogdesign/akart/internal/capture"
	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/control"
	"github.com/frogdesign/akart/internal/logger"
)

// Result codes returned by Start and Stop
const (
	CodeOK            = 0
	CodeSourceFailed  = 1
	CodeAlreadyActive = 2
)

// ErrUnknownTransport is returned by New for an unrecognized kind
var ErrUnknownTransport = errors.New("transport: unknown kind")

// Transport is a car link. The motor half satisfies control.Transport.
type Transport interface {
	control.Transport

	// OnFrame registers the callback for each received video frame
	OnFrame(fn capture.FrameFunc)

	// OnBattery registers the callback for battery percentage reports
	OnBattery(fn func(percent int))

	// OnDisconnect registers the callback for a lost link
	OnDisconnect(fn func())

	// SetVideoEnabled turns the media stream on or off
	SetVideoEnabled(enabled bool)

	// Name returns the car this transport reaches
	Name() string
}

// New creates the transport for cfg over src
func New(cfg config.VehicleConfig, src capture.Source) (Transport, error) {
	switch cfg.Transport {
	case "", "loopback":
		return NewLoopback(cfg.Name, src), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, cfg.Transport)
	}
}

// Loopback is an in-process car. Its video comes from a capture source and
// motor commands are recorded instead of driven.
type Loopback struct {
	name string
	src  capture.Source

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	video     bool
	cmd       control.MotorCommand
	sends     int
	battery   int
	onFrame   capture.FrameFunc
	onBattery func(int)
	onDisconn func()
	dropped   uint64
}

// NewLoopback creates a loopback car called name
func NewLoopback(name string, src capture.Source) *Loopback {
	return &Loopback{
		name:    name,
		src:     src,
		video:   true,
		battery: 100,
	}
}

// Name returns the car name
func (l *Loopback) Name() string {
	return l.name
}

// Start starts the video source and reports the battery
func (l *Loopback) Start() int {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return CodeAlreadyActive
	}

	if e, ok := l.src.(capture.Ender); ok {
		e.OnEnd(l.sourceEnded)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.src.Start(ctx, l.receive); err != nil {
		l.mu.Unlock()
		cancel()
		logger.WithComponent("transport").Error().Err(err).Str("source", l.src.Name()).Msg("Failed to start video source")
		return CodeSourceFailed
	}
	l.cancel = cancel
	l.running = true
	l.cmd = control.MotorCommand{}
	battery := l.battery
	l.mu.Unlock()

	logger.WithComponent("transport").Info().Str("car", l.name).Str("source", l.src.Name()).Msg("Loopback connected")
	l.reportBattery(battery)
	return CodeOK
}

// Stop stops the video source
func (l *Loopback) Stop() int {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return CodeOK
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	if err := l.src.Stop(); err != nil {
		logger.WithComponent("transport").Warn().Err(err).Msg("Video source did not stop cleanly")
	}
	logger.WithComponent("transport").Info().Str("car", l.name).Uint64("dropped_frames", l.Dropped()).Msg("Loopback disconnected")
	return CodeOK
}

// sourceEnded treats video stopping on its own as a lost link
func (l *Loopback) sourceEnded(err error) {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return
	}
	logger.WithComponent("transport").Warn().Err(err).Str("car", l.name).Msg("Video source ended, dropping the link")
	l.Disconnect()
}

// receive forwards non-empty frames while video is enabled
func (l *Loopback) receive(data []byte) {
	l.mu.Lock()
	fn := l.onFrame
	ok := l.running && l.video && len(data) > 0
	if !ok {
		l.dropped++
	}
	l.mu.Unlock()

	if ok && fn != nil {
		fn(data)
	}
}

// SendSpeed records the speed byte
func (l *Loopback) SendSpeed(speed int8) {
	l.mu.Lock()
	l.cmd.Speed = speed
	l.sends++
	l.mu.Unlock()
}

// SendTurn records the turn byte
func (l *Loopback) SendTurn(turn int8) {
	l.mu.Lock()
	l.cmd.Turn = turn
	l.sends++
	l.mu.Unlock()
}

// SendArmFlag records the arm flag
func (l *Loopback) SendArmFlag(armed bool) {
	l.mu.Lock()
	l.cmd.Armed = armed
	l.sends++
	l.mu.Unlock()
}

// Command returns the motor state the car would be in
func (l *Loopback) Command() control.MotorCommand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd
}

// Sends returns how many motor messages were received
func (l *Loopback) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// OnFrame registers the frame callback
func (l *Loopback) OnFrame(fn capture.FrameFunc) {
	l.mu.Lock()
	l.onFrame = fn
	l.mu.Unlock()
}

// OnBattery registers the battery callback
func (l *Loopback) OnBattery(fn func(int)) {
	l.mu.Lock()
	l.onBattery = fn
	l.mu.Unlock()
}

// OnDisconnect registers the link-lost callback
func (l *Loopback) OnDisconnect(fn func()) {
	l.mu.Lock()
	l.onDisconn = fn
	l.mu.Unlock()
}

// SetVideoEnabled toggles frame delivery
func (l *Loopback) SetVideoEnabled(enabled bool) {
	l.mu.Lock()
	l.video = enabled
	l.mu.Unlock()
}

// SetBattery injects a battery report
func (l *Loopback) SetBattery(percent int) {
	l.mu.Lock()
	l.battery = percent
	running := l.running
	l.mu.Unlock()

	if running {
		l.reportBattery(percent)
	}
}

func (l *Loopback) reportBattery(percent int) {
	l.mu.Lock()
	fn := l.onBattery
	l.mu.Unlock()
	if fn != nil {
		fn(percent)
	}
}

// Disconnect simulates losing the link
func (l *Loopback) Disconnect() {
	l.mu.Lock()
	fn := l.onDisconn
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Dropped returns frames not forwarded because they were empty, arrived
// while stopped or while video was off
func (l *Loopback) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
