// Package session wires one driving session together: the car link, the
// frame pipeline, the HUD and the relay. Everything a session starts is
// tracked and torn down in one step when it ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frogdesign/akart/internal/capture"
	"github.com/frogdesign/akart/internal/codec"
	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/control"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/marker"
	"github.com/frogdesign/akart/internal/output"
	"github.com/frogdesign/akart/internal/overlay"
	"github.com/frogdesign/akart/internal/pipeline"
	"github.com/frogdesign/akart/internal/relay"
	"github.com/frogdesign/akart/internal/subscription"
	"github.com/frogdesign/akart/internal/transport"
	"github.com/frogdesign/akart/internal/vehicle"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is running
	ErrAlreadyRunning = errors.New("session: already running")

	// ErrNotRunning is returned by driving calls outside a session
	ErrNotRunning = errors.New("session: not running")

	// ErrNoBench is returned by bench controls the configured detector or
	// transport cannot simulate
	ErrNoBench = errors.New("session: not available on this hardware")
)

// Options replaces collaborators normally built from config
type Options struct {
	Transport transport.Transport
	Detector  marker.Detector
	Outputs   []output.Output
}

// Session drives one car. Start and Stop may alternate any number of times;
// each run gets a fresh id, pipeline and controller.
type Session struct {
	cfg     *config.Config
	tr      transport.Transport
	det     marker.Detector
	outputs []output.Output

	mu        sync.RWMutex
	running   bool
	id        string
	startedAt time.Time
	done      chan struct{}
	subs      *subscription.Registry
	ctrl      *control.Controller
	adapter   *marker.Adapter
	sched     *pipeline.Scheduler
	pipe      *pipeline.Pipeline
	comp      *output.Compositor
	aim       *overlay.AimOverlay
	battery   *overlay.TextWidget
	relay     *relay.Client

	estMu     sync.Mutex
	estimates []vehicle.Estimate
	seq       uint64
}

// New creates a stopped session for cfg
func New(cfg *config.Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tr := opts.Transport
	if tr == nil {
		src, err := capture.New(cfg.Vehicle.Source)
		if err != nil {
			return nil, err
		}
		if tr, err = transport.New(cfg.Vehicle, src); err != nil {
			return nil, err
		}
	}

	det := opts.Detector
	if det == nil {
		var err error
		if det, err = marker.New(cfg.Detector.Kind); err != nil {
			return nil, err
		}
	}

	closed := make(chan struct{})
	close(closed)

	return &Session{
		cfg:     cfg,
		tr:      tr,
		det:     det,
		outputs: opts.Outputs,
		subs:    subscription.NewRegistry(),
		done:    closed,
	}, nil
}

// Start connects to the car and runs the pipeline until Stop, ctx is done or
// the car link drops. Transport and detector failures abort the start.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	id := uuid.NewString()
	log := logger.WithSession("session", id)

	roster, err := vehicle.NewRoster(s.cfg.Roster)
	if err != nil {
		return fmt.Errorf("failed to build roster: %w", err)
	}

	ctrl := control.New(s.tr, control.SettingsFromConfig(s.cfg.Control))
	s.tr.OnBattery(ctrl.OnBattery)
	s.tr.OnDisconnect(ctrl.OnDisconnect)
	if err := ctrl.Start(); err != nil {
		s.unbindTransport()
		return fmt.Errorf("failed to connect to %s: %w", s.tr.Name(), err)
	}

	adapter := marker.NewAdapter(s.det, roster.Markers())
	params := marker.Params{
		CameraParams: s.cfg.Detector.CameraParams,
		MarkerSizeMM: s.cfg.Detector.MarkerSizeMM,
	}
	if err := adapter.Init(params); err != nil {
		err = errors.Join(err, ctrl.Stop())
		s.unbindTransport()
		return err
	}
	if sd, ok := s.det.(*marker.Scripted); ok {
		for _, m := range s.cfg.Detector.Script {
			sd.Show(m.Marker, marker.Translate(m.X, m.Y, m.Z))
		}
	}

	runCtx, runHandle := subscription.WithContext(ctx)
	s.subs.Track(runHandle)

	s.id = id
	s.startedAt = time.Now()
	s.done = make(chan struct{})
	s.ctrl = ctrl
	s.adapter = adapter
	s.sched = pipeline.NewScheduler(s.cfg.Pipeline.Workers)
	s.setEstimates(0, nil)

	hud, aim, battery := overlay.NewHUD(s.cfg.Display.Width, s.cfg.Display.Height)
	s.aim = aim
	s.battery = battery
	s.comp = output.NewCompositor(output.ConfigFromDisplay(s.cfg.Display), hud, s.outputs...)
	s.comp.Start()

	locator := vehicle.NewLocator(roster, vehicle.CalibrationFromConfig(s.cfg.Locator))
	s.pipe = pipeline.New(s.sched, pipeline.IntervalsFromConfig(s.cfg.Pipeline), adapter, locator, s)
	if err := s.pipe.Start(runCtx); err != nil {
		s.subs.CancelAll()
		err = errors.Join(err, s.teardownLocked())
		close(s.done)
		log.Error().Err(err).Msg("Session failed to start")
		return err
	}
	s.tr.OnFrame(s.pipe.Push)
	s.tr.SetVideoEnabled(true)

	s.subs.Track(ctrl.BatteryLevel().Subscribe(func(level int) {
		s.sched.Delivery.Post(func() { battery.SetText(overlay.BatteryLabel(level)) })
	}))
	s.subs.Track(ctrl.Status().Subscribe(func(connected bool) {
		if !connected {
			// Stop tears down the delivery goroutine, so it cannot run on it
			go s.Stop()
		}
	}))

	if s.cfg.Relay.Enabled {
		s.connectRelayLocked(runCtx, ctrl)
	}

	// A caller canceling ctx ends the session too
	stopWatch := context.AfterFunc(runCtx, func() {
		if ctx.Err() != nil {
			go s.Stop()
		}
	})
	s.subs.TrackFunc(func() { stopWatch() })

	s.running = true
	log.Info().
		Str("vehicle", s.tr.Name()).
		Str("detector", s.det.Name()).
		Int("vehicles", len(roster.Cars())).
		Msg("Session started")
	return nil
}

// connectRelayLocked joins the hit relay. The relay is a peer, so failing to
// reach it only disables the multiplayer game.
func (s *Session) connectRelayLocked(ctx context.Context, ctrl *control.Controller) {
	log := logger.WithSession("session", s.id)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rc, err := relay.Dial(dialCtx, s.cfg.Relay.URL, s.tr.Name())
	if err != nil {
		log.Warn().Err(err).Msg("Relay unavailable, playing without it")
		return
	}
	s.relay = rc

	// Wait for the server to start the game
	ctrl.SetGameOn(false)

	post := s.sched.Delivery.Post
	s.subs.Track(rc.Game.Subscribe(func(on bool) {
		post(func() { ctrl.SetGameOn(on) })
	}))
	s.subs.Track(rc.Speed.Subscribe(func(percent int) {
		post(func() { ctrl.SetMaxSpeed(float64(percent)) })
	}))
	s.subs.Track(rc.Hits.Subscribe(func(uint64) {
		post(func() {
			if ctrl.Started() {
				ctrl.Hit()
			}
		})
	}))
	s.subs.TrackFunc(func() { rc.Close() })

	go func() {
		if err := rc.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("Relay connection lost")
		}
	}()
}

// Stop ends the session. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	canceled := s.subs.CancelAll()
	err := s.teardownLocked()

	logger.WithSession("session", s.id).Info().
		Int("subscriptions", canceled).
		Dur("duration", time.Since(s.startedAt)).
		Msg("Session stopped")
	close(s.done)
	return err
}

// teardownLocked releases everything Start built, in dependency order: no
// frames in, no callbacks out, then the car and the detector.
func (s *Session) teardownLocked() error {
	s.tr.SetVideoEnabled(false)
	s.tr.OnFrame(nil)
	if s.pipe != nil {
		s.pipe.Stop()
	}
	s.sched.Close()
	s.comp.Stop()

	var errs []error
	if err := s.ctrl.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.adapter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close detector: %w", err))
	}
	s.unbindTransport()
	s.relay = nil
	return errors.Join(errs...)
}

// unbindTransport detaches the transport callbacks from the controller
func (s *Session) unbindTransport() {
	s.tr.OnBattery(nil)
	s.tr.OnDisconnect(nil)
}

// Running reports whether a session is active
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Done is closed when the current run ends
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// OnDisplay implements pipeline.Consumer
func (s *Session) OnDisplay(frame *codec.Frame) {
	s.aim.SetSize(frame.Width, frame.Height)
	s.comp.OnDisplay(frame)
}

// OnEstimates implements pipeline.Consumer
func (s *Session) OnEstimates(seq uint64, estimates []vehicle.Estimate) {
	s.aim.ClearAll()
	for _, e := range estimates {
		s.aim.SetTarget(e.ID, e.X, e.Y)
	}
	s.setEstimates(seq, estimates)
}

func (s *Session) setEstimates(seq uint64, estimates []vehicle.Estimate) {
	s.estMu.Lock()
	s.seq = seq
	s.estimates = estimates
	s.estMu.Unlock()
}

// controller returns the controller of a running session. The caller holds
// the read lock.
func (s *Session) controller() (*control.Controller, error) {
	if !s.running {
		return nil, ErrNotRunning
	}
	return s.ctrl, nil
}

// SetThrottle drives at p in [-1, 1]
func (s *Session) SetThrottle(p float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.controller()
	if err != nil {
		return err
	}
	c.SetThrottle(p)
	return nil
}

// SetSteering steers at p in [-1, 1]
func (s *Session) SetSteering(p float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.controller()
	if err != nil {
		return err
	}
	c.SetSteering(p)
	return nil
}

// Reverse backs up at the configured reverse speed
func (s *Session) Reverse() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.controller()
	if err != nil {
		return err
	}
	c.Reverse()
	return nil
}

// Neutral stops and disarms the car
func (s *Session) Neutral() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.controller()
	if err != nil {
		return err
	}
	c.Neutral()
	return nil
}

// Shot is the outcome of Fire
type Shot struct {
	Hit    bool   `json:"hit"`
	Target string `json:"target,omitempty"`
}

// Fire shoots at whatever is under the reticle and reports the hit to the
// relay
func (s *Session) Fire() (Shot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return Shot{}, ErrNotRunning
	}

	id, ok := s.aim.TargetedID()
	if !ok {
		return Shot{}, nil
	}
	shot := Shot{Hit: true, Target: id}
	logger.WithSession("session", s.id).Info().Str("target", id).Msg("Boom")
	if s.relay != nil {
		if err := s.relay.Boom(id); err != nil {
			return shot, fmt.Errorf("failed to report hit: %w", err)
		}
	}
	return shot, nil
}

// Status is a snapshot of the session for the API
type Status struct {
	ID        string               `json:"id,omitempty"`
	Running   bool                 `json:"running"`
	Vehicle   string               `json:"vehicle"`
	StartedAt time.Time            `json:"started_at,omitempty"`
	Battery   int                  `json:"battery"`
	GameOn    bool                 `json:"game_on"`
	Hitting   bool                 `json:"hitting"`
	Relay     bool                 `json:"relay"`
	Players   []string             `json:"players,omitempty"`
	Command   control.MotorCommand `json:"command"`
	Seq       uint64               `json:"seq"`
	Estimates []vehicle.Estimate   `json:"estimates"`
	Targets   []overlay.Target     `json:"targets"`
	Pipeline  *pipeline.Stats      `json:"pipeline,omitempty"`
}

// Status returns a snapshot of the running session, or of the last one
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:        s.id,
		Running:   s.running,
		Vehicle:   s.tr.Name(),
		StartedAt: s.startedAt,
		Battery:   -1,
	}
	if s.ctrl != nil {
		st.Battery, _ = s.ctrl.BatteryLevel().Get()
		st.GameOn = s.ctrl.GameOn()
		st.Hitting = s.ctrl.Hitting()
		st.Command = s.ctrl.Command()
	}
	if s.relay != nil {
		st.Relay = true
		st.Players, _ = s.relay.Players.Get()
	}
	if s.aim != nil {
		st.Targets = s.aim.Targets()
	}
	if s.pipe != nil {
		ps := s.pipe.Stats()
		st.Pipeline = &ps
	}

	s.estMu.Lock()
	st.Seq = s.seq
	st.Estimates = s.estimates
	s.estMu.Unlock()
	return st
}

// Roster returns the configured vehicles
func (s *Session) Roster() []config.CarConfig {
	return append([]config.CarConfig(nil), s.cfg.Roster...)
}

// Bench reports whether markers, battery or link loss can be simulated
func (s *Session) Bench() bool {
	_, scripted := s.det.(*marker.Scripted)
	_, loopback := s.tr.(*transport.Loopback)
	return scripted || loopback
}

// ShowMarker places a marker in front of the scripted detector
func (s *Session) ShowMarker(id int, x, y, z float64) error {
	sd, ok := s.det.(*marker.Scripted)
	if !ok {
		return ErrNoBench
	}
	sd.Show(id, marker.Translate(x, y, z))
	return nil
}

// HideMarker removes a marker from the scripted detector's view
func (s *Session) HideMarker(id int) error {
	sd, ok := s.det.(*marker.Scripted)
	if !ok {
		return ErrNoBench
	}
	sd.Hide(id)
	return nil
}

// SetBattery injects a battery report on the loopback link
func (s *Session) SetBattery(percent int) error {
	lb, ok := s.tr.(*transport.Loopback)
	if !ok {
		return ErrNoBench
	}
	lb.SetBattery(percent)
	return nil
}

// Disconnect drops the loopback link, which ends a running session
func (s *Session) Disconnect() error {
	lb, ok := s.tr.(*transport.Loopback)
	if !ok {
		return ErrNoBench
	}
	if !s.Running() {
		return ErrNotRunning
	}
	lb.Disconnect()
	return nil
}
