// Package control turns driver input into motor commands for the car.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/telemetry"
)

var (
	// ErrNotStarted is the panic value when a command is issued outside a
	// Start/Stop window
	ErrNotStarted = errors.New("control: controller not started")

	// ErrStartFailed wraps a nonzero transport start code
	ErrStartFailed = errors.New("control: transport start failed")

	// ErrStopFailed wraps a nonzero transport stop code
	ErrStopFailed = errors.New("control: transport stop failed")
)

// TransportError carries the code a transport returned
type TransportError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: code %d", e.Err, e.Code)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport is the car side of the command channel
type Transport interface {
	Start() int
	Stop() int
	SendSpeed(speed int8)
	SendTurn(turn int8)
	SendArmFlag(armed bool)
}

// Settings are the command constants in device units
type Settings struct {
	SpeedMax       int
	TurnMax        int
	TurnDeadzone   int
	ReverseSpeed   float64
	HitDuration    time.Duration
	HitSpeedFactor float64
}

// SettingsFromConfig copies the control section
func SettingsFromConfig(c config.ControlConfig) Settings {
	return Settings{
		SpeedMax:       c.SpeedMax,
		TurnMax:        c.TurnMax,
		TurnDeadzone:   c.TurnDeadzone,
		ReverseSpeed:   c.ReverseSpeed,
		HitDuration:    c.HitDuration,
		HitSpeedFactor: c.HitSpeedFactor,
	}
}

// MotorCommand is the last state sent to the car
type MotorCommand struct {
	Speed int8 `json:"speed"`
	Turn  int8 `json:"turn"`
	Armed bool `json:"armed"`
}

// Controller is the command channel. Every input supersedes the previous
// one; nothing is queued.
type Controller struct {
	mu       sync.Mutex
	tr       Transport
	s        Settings
	started  bool
	gameOn   bool
	maxScale float64
	hit      bool
	hitTimer *time.Timer
	throttle float64
	cmd      MotorCommand

	battery *telemetry.Latest[int]
	status  *telemetry.Latest[bool]
}

// New creates a controller over tr. The game starts on; a session driven
// by the relay switches it off until the server says otherwise.
func New(tr Transport, s Settings) *Controller {
	return &Controller{
		tr:       tr,
		s:        s,
		gameOn:   true,
		maxScale: 1,
		battery:  telemetry.NewLatestWith(-1),
		status:   telemetry.NewLatestWith(false),
	}
}

// Start performs the transport handshake. A nonzero code is fatal to the
// session.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if code := c.tr.Start(); code != 0 {
		return &TransportError{Op: "start", Code: code, Err: ErrStartFailed}
	}
	c.started = true
	c.cmd = MotorCommand{}
	logger.WithComponent("control").Info().Msg("Controller started")
	c.status.Publish(true)
	return nil
}

// Stop neutralizes the car and closes the transport
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.neutralLocked()
	c.stopHitLocked()
	c.started = false
	c.status.Publish(false)

	if code := c.tr.Stop(); code != 0 {
		return &TransportError{Op: "stop", Code: code, Err: ErrStopFailed}
	}
	logger.WithComponent("control").Info().Msg("Controller stopped")
	return nil
}

// Started reports whether the handshake completed and Stop has not run
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// mustStart panics when commanding a controller outside its session.
// Caller holds mu.
func (c *Controller) mustStart() {
	if !c.started {
		panic(ErrNotStarted)
	}
}

// SetThrottle drives at p of the maximum speed, p in [-1, 1]. Zero is
// neutral.
func (c *Controller) SetThrottle(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustStart()

	p = clamp(p, -1, 1)
	if p == 0 {
		c.neutralLocked()
		return
	}
	if !c.gameOn {
		return
	}
	c.throttle = p
	c.applyThrottleLocked()
}

// Reverse backs up at the configured reverse speed
func (c *Controller) Reverse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustStart()

	if !c.gameOn {
		return
	}
	c.throttle = -clamp(c.s.ReverseSpeed, 0, 1)
	c.applyThrottleLocked()
}

// SetSteering turns by p of the maximum, p in [-1, 1]. Values inside the
// dead zone are dropped without re-centering.
func (c *Controller) SetSteering(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustStart()

	if !c.gameOn {
		return
	}
	raw := toDevice(-float64(c.s.TurnMax) * clamp(p, -1, 1))
	if int(raw) > -c.s.TurnDeadzone && int(raw) < c.s.TurnDeadzone {
		return
	}
	c.tr.SendTurn(raw)
	c.cmd.Turn = raw
}

// Neutral stops the car and disarms the motors
func (c *Controller) Neutral() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustStart()
	c.neutralLocked()
}

func (c *Controller) neutralLocked() {
	c.throttle = 0
	c.tr.SendSpeed(0)
	c.tr.SendTurn(0)
	c.tr.SendArmFlag(false)
	c.cmd = MotorCommand{}
}

// applyThrottleLocked sends the current throttle intent scaled by the
// effective maximum speed
func (c *Controller) applyThrottleLocked() {
	if c.throttle == 0 {
		return
	}
	max := float64(c.s.SpeedMax) * c.maxScale
	if c.hit {
		max *= c.s.HitSpeedFactor
	}
	speed := toDevice(max * c.throttle)
	c.tr.SendSpeed(speed)
	c.tr.SendArmFlag(true)
	c.cmd.Speed = speed
	c.cmd.Armed = true
}

// SetGameOn gates driving input. Switching the game off stops the car.
func (c *Controller) SetGameOn(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gameOn = on
	if !on && c.started {
		c.neutralLocked()
	}
	logger.WithComponent("control").Info().Bool("game_on", on).Msg("Game state changed")
}

// GameOn reports the game flag
func (c *Controller) GameOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameOn
}

// SetMaxSpeed scales the maximum speed by percent in [0, 100]
func (c *Controller) SetMaxSpeed(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxScale = clamp(percent, 0, 100) / 100
	if c.started {
		c.applyThrottleLocked()
	}
}

// Hit slows the car for the configured duration after being shot
func (c *Controller) Hit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustStart()

	c.stopHitLocked()
	c.hit = true
	c.applyThrottleLocked()
	c.hitTimer = time.AfterFunc(c.s.HitDuration, c.endHit)
	logger.WithComponent("control").Info().Dur("duration", c.s.HitDuration).Msg("Hit")
}

func (c *Controller) endHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hit {
		return
	}
	c.hit = false
	c.hitTimer = nil
	if c.started {
		c.applyThrottleLocked()
	}
}

func (c *Controller) stopHitLocked() {
	if c.hitTimer != nil {
		c.hitTimer.Stop()
		c.hitTimer = nil
	}
	c.hit = false
}

// Hitting reports whether a hit slowdown is in effect
func (c *Controller) Hitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hit
}

// Command returns the last command sent
func (c *Controller) Command() MotorCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd
}

// BatteryLevel is the battery percentage stream; -1 until the car reports
func (c *Controller) BatteryLevel() *telemetry.Latest[int] {
	return c.battery
}

// Status is true while the controller is connected
func (c *Controller) Status() *telemetry.Latest[bool] {
	return c.status
}

// OnBattery is the transport's battery callback
func (c *Controller) OnBattery(percent int) {
	c.battery.Publish(percent)
}

// OnDisconnect is the transport's link-lost callback
func (c *Controller) OnDisconnect() {
	logger.WithComponent("control").Warn().Msg("Transport disconnected")
	c.status.Publish(false)
}

// toDevice truncates toward zero into a signed device byte
func toDevice(v float64) int8 {
	if v > 127 {
		return 127
	}
	if v < -127 {
		return -127
	}
	return int8(v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
