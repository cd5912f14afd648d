// Package api exposes the driving session over HTTP: status, driving input,
// the fire button and the camera stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/output"
	"github.com/frogdesign/akart/internal/session"
)

// Driver is the session surface the API drives
type Driver interface {
	SetThrottle(p float64) error
	SetSteering(p float64) error
	Reverse() error
	Neutral() error
	Fire() (session.Shot, error)
	Status() session.Status
	Roster() []config.CarConfig
}

// Bench is implemented by drivers that can simulate the car and the camera
// on a desk. Its routes are mounted only when Bench reports true.
type Bench interface {
	Bench() bool
	ShowMarker(id int, x, y, z float64) error
	HideMarker(id int) error
	SetBattery(percent int) error
	Disconnect() error
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	driver    Driver
	configMgr *config.Manager
	stream    *output.MJPEGOutput
	bench     Bench
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server. stream may be nil when the display
// goes to a local window instead.
func NewServer(driver Driver, configMgr *config.Manager, stream *output.MJPEGOutput) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		driver:    driver,
		configMgr: configMgr,
		stream:    stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The driving page may be served from a phone on the LAN
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session state
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/roster", s.handleRoster).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Driving
	api.HandleFunc("/drive", s.handleDrive).Methods("POST")
	api.HandleFunc("/drive/neutral", s.handleNeutral).Methods("POST")
	api.HandleFunc("/drive/reverse", s.handleReverse).Methods("POST")
	api.HandleFunc("/drive/ws", s.handleDriveSocket)
	api.HandleFunc("/fire", s.handleFire).Methods("POST")

	// Camera
	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.GetHTTPHandler()).Methods("GET")
		api.HandleFunc("/stream/stats", s.stream.GetStatsHandler()).Methods("GET")
	}

	// Desk testing without a car or calibrated camera
	if b, ok := s.driver.(Bench); ok && b.Bench() {
		s.bench = b
		api.HandleFunc("/bench/markers", s.handleShowMarker).Methods("POST")
		api.HandleFunc("/bench/markers/{id:[0-9]+}", s.handleHideMarker).Methods("DELETE")
		api.HandleFunc("/bench/battery", s.handleBattery).Methods("POST")
		api.HandleFunc("/bench/disconnect", s.handleDisconnect).Methods("POST")
	}

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{Addr: addr, Handler: s.Handler()}
	logger.WithComponent("api").Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v before sending status, so a value that cannot be
// encoded becomes a 500 instead of a truncated 200
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to encode response")
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// writeError maps session errors to status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoBench):
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": "0.1.0",
		"running": s.driver.Status().Running,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Status())
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Roster())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// DriveRequest sets either or both axes. Values are in [-1, 1].
type DriveRequest struct {
	Throttle *float64 `json:"throttle,omitempty"`
	Steering *float64 `json:"steering,omitempty"`
}

func (s *Server) apply(req DriveRequest) error {
	if req.Throttle != nil {
		if err := s.driver.SetThrottle(*req.Throttle); err != nil {
			return err
		}
	}
	if req.Steering != nil {
		if err := s.driver.SetSteering(*req.Steering); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleDrive(w http.ResponseWriter, r *http.Request) {
	var req DriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.apply(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.driver.Status().Command)
}

func (s *Server) handleNeutral(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Neutral(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.driver.Status().Command)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Reverse(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.driver.Status().Command)
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	shot, err := s.driver.Fire()
	if err != nil && !shot.Hit {
		writeError(w, err)
		return
	}
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Str("target", shot.Target).Msg("Hit not reported")
	}
	writeJSON(w, http.StatusOK, shot)
}

// MarkerRequest places a marker at a camera-space position
type MarkerRequest struct {
	Marker *int    `json:"marker"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

func (s *Server) handleShowMarker(w http.ResponseWriter, r *http.Request) {
	var req MarkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Marker == nil || *req.Marker < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "marker id required"})
		return
	}
	if err := s.bench.ShowMarker(*req.Marker, req.X, req.Y, req.Z); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleHideMarker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid marker id"})
		return
	}
	if err := s.bench.HideMarker(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent *int `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Percent == nil || *req.Percent < 0 || *req.Percent > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "percent must be in [0, 100]"})
		return
	}
	if err := s.bench.SetBattery(*req.Percent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"battery": *req.Percent})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.bench.Disconnect(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// WheelRange is the wheel rotation in degrees that maps to full steering
const WheelRange = 90.0

// DriveMessage is one message on the driving websocket. Steering is the
// wheel rotation in degrees; Release lets go of the throttle.
type DriveMessage struct {
	Throttle *float64 `json:"throttle,omitempty"`
	Steering *float64 `json:"steering,omitempty"`
	Reverse  bool     `json:"reverse,omitempty"`
	Release  bool     `json:"release,omitempty"`
}

const socketReadTimeout = 10 * time.Second

// handleDriveSocket streams driving input. The car is stopped when the
// socket goes away.
func (s *Server) handleDriveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	defer s.driver.Neutral()

	log := logger.WithComponent("api")
	log.Info().Str("remote", r.RemoteAddr).Msg("Driver connected")

	for {
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		var msg DriveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Info().Err(err).Msg("Driver disconnected")
			return
		}
		if err := s.handleDriveMessage(msg); err != nil {
			if conn.WriteJSON(map[string]string{"error": err.Error()}) != nil {
				return
			}
		}
	}
}

func (s *Server) handleDriveMessage(msg DriveMessage) error {
	switch {
	case msg.Release:
		return s.driver.Neutral()
	case msg.Reverse:
		return s.driver.Reverse()
	}

	req := DriveRequest{Throttle: msg.Throttle}
	if msg.Steering != nil {
		p := *msg.Steering / WheelRange
		req.Steering = &p
	}
	return s.apply(req)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>a-kart</title>
    <style>
        body { margin: 0; background: #000; color: #eee; font-family: sans-serif; text-align: center; }
        img { max-width: 100vw; max-height: 80vh; }
        button { font-size: 1.5em; margin: 0.5em; padding: 0.5em 1.5em; }
    </style>
</head>
<body>
    <img src="/stream" alt="camera">
    <div>
        <button id="fire">FIRE</button>
        <button id="rear">REAR</button>
    </div>
    <p>Arrow keys drive, space fires.</p>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/drive/ws');
        const send = (m) => ws.readyState === 1 && ws.send(JSON.stringify(m));
        const fire = () => fetch('/api/fire', {method: 'POST'});
        const keys = {};
        const update = () => {
            if (keys.ArrowDown) { send({reverse: true}); }
            else if (keys.ArrowUp) { send({throttle: 1}); }
            else { send({release: true}); }
            send({steering: keys.ArrowLeft ? -90 : keys.ArrowRight ? 90 : 0});
        };
        document.addEventListener('keydown', (e) => {
            if (e.code === 'Space') { fire(); return; }
            keys[e.key] = true; update();
        });
        document.addEventListener('keyup', (e) => { keys[e.key] = false; update(); });
        document.getElementById('fire').onclick = fire;
        const rear = document.getElementById('rear');
        rear.onpointerdown = () => send({reverse: true});
        rear.onpointerup = () => send({release: true});
        setInterval(() => send({}), 5000);
    </script>
</body>
</html>`
